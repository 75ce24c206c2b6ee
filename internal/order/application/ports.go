package application

import (
	"context"

	"github.com/ecomcore/reservation-service/internal/order/domain"
)

type OrderRepository interface {
	// CreateIdempotent inserts the order and its items in one transaction,
	// or returns the order already stored under the same token. The
	// returned bool is true only when this call created the row.
	CreateIdempotent(ctx context.Context, o domain.Order) (domain.Order, bool, error)

	GetByToken(ctx context.Context, orderToken string) (domain.Order, error)

	UpdateStatus(ctx context.Context, orderToken string, status domain.OrderStatus) (domain.Order, error)

	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
}
