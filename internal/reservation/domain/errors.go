package domain

import (
	"errors"
	"fmt"
)

var ErrProductNotFound = errors.New("product not found")

// InsufficientStockError means the product exists and is sellable, but
// active holds leave fewer units than requested. Callers use Available to
// offer a "only N left" affordance.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("only %d items available in stock for product %d", e.Available, e.ProductID)
}

// OutOfStockError means the product's in_stock flag is down; the line
// should be removed rather than retried with a smaller quantity.
type OutOfStockError struct {
	ProductID int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %d is out of stock", e.ProductID)
}
