package application

import (
	"context"
	"time"

	"github.com/ecomcore/reservation-service/internal/reservation/domain"
)

type ReserveParams struct {
	ProductID  int64
	Quantity   int
	OrderToken string
	UserID     *int64
	SessionID  *string
	TTL        time.Duration
}

// StockRepository owns every transactional touch of products and
// stock_reservations. Each method is one transaction; the product row lock
// taken inside Reserve and ConfirmByToken is the only mutual exclusion in
// the system.
type StockRepository interface {
	// Reserve admits a hold under the product row lock or fails with
	// InsufficientStockError / OutOfStockError / ErrProductNotFound.
	Reserve(ctx context.Context, p ReserveParams) (*domain.Reservation, error)

	// ConfirmByToken flips every active hold for the token to confirmed and
	// decrements product stock. Returns the number of holds confirmed;
	// zero means an earlier call already did the work.
	ConfirmByToken(ctx context.Context, orderToken string) (int, error)

	// CancelByToken marks active holds for the token cancelled. Stock is
	// untouched: it was never decremented for a merely-active hold.
	CancelByToken(ctx context.Context, orderToken string) (int, error)

	// CancelReservations cancels specific holds by id, used to compensate a
	// partially reserved cart.
	CancelReservations(ctx context.Context, ids []int64) (int, error)

	// AvailableStock returns max(0, stock - active unexpired holds).
	AvailableStock(ctx context.Context, productID int64) (int, error)

	// SweepExpired transitions stale active holds to expired.
	SweepExpired(ctx context.Context) (int, error)
}
