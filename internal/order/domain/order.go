package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

// UnknownProductError reports an order line naming a product id that does
// not exist.
type UnknownProductError struct {
	ProductID int64
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product %d in order", e.ProductID)
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusShipped   OrderStatus = "shipped"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusShipped, StatusCancelled:
		return true
	}
	return false
}

// Order is written at most once per token: order_token carries a unique
// constraint and the create path treats "already exists" as success.
type Order struct {
	ID              string
	UserID          *int64
	OrderNumber     string
	OrderToken      string
	Status          OrderStatus
	SubtotalCents   int64
	TaxCents        int64
	ShippingCents   int64
	TotalCents      int64
	StripeSessionID *string
	ShippingAddress *string
	BillingAddress  *string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a frozen snapshot of quantity and price at order-creation
// time. It carries no reference back to the reservations that authorized
// it beyond the shared order token.
type OrderItem struct {
	ProductID  int64 `json:"product_id"`
	Quantity   int   `json:"quantity"`
	PriceCents int64 `json:"price_cents"`
}
