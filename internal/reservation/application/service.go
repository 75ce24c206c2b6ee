package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ecomcore/reservation-service/internal/reservation/domain"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

type Service struct {
	log  *slog.Logger
	repo StockRepository
}

func NewService(log *slog.Logger, repo StockRepository) *Service {
	return &Service{log: log, repo: repo}
}

// Reserve places a single time-boxed hold. Admission happens under the
// product row lock inside the repository, so two concurrent calls against
// the same product are linearized: the loser sees the winner's hold.
func (s *Service) Reserve(ctx context.Context, productID int64, quantity int, orderToken string, userID *int64, sessionID *string) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	r, err := s.repo.Reserve(ctx, ReserveParams{
		ProductID:  productID,
		Quantity:   quantity,
		OrderToken: orderToken,
		UserID:     userID,
		SessionID:  sessionID,
		TTL:        domain.HoldTTL,
	})
	if err != nil {
		var insufficient *domain.InsufficientStockError
		if errors.As(err, &insufficient) {
			s.log.Warn("insufficient stock for reservation",
				"product_id", productID,
				"requested", quantity,
				"available", insufficient.Available)
		}
		return nil, err
	}

	s.log.Info("stock reserved",
		"reservation_id", r.ID,
		"product_id", productID,
		"quantity", quantity,
		"order_token", orderToken)
	return r, nil
}

// ReserveCart reserves every line of a checkout attempt, one hold per
// product. Lock scope is per product, so this is not one atomic multi-row
// transaction: if a line fails, holds created earlier in this call are
// compensated back to cancelled and the original error propagates.
func (s *Service) ReserveCart(ctx context.Context, items []domain.CartItem, orderToken string, userID *int64, sessionID *string) ([]*domain.Reservation, error) {
	reservations := make([]*domain.Reservation, 0, len(items))

	for _, item := range items {
		r, err := s.Reserve(ctx, item.ProductID, item.Quantity, orderToken, userID, sessionID)
		if err != nil {
			s.compensate(ctx, reservations)
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, nil
}

func (s *Service) compensate(ctx context.Context, reservations []*domain.Reservation) {
	if len(reservations) == 0 {
		return
	}
	ids := make([]int64, 0, len(reservations))
	for _, r := range reservations {
		ids = append(ids, r.ID)
	}
	if _, err := s.repo.CancelReservations(ctx, ids); err != nil {
		// The holds expire on their own after the TTL, so a failed
		// compensation degrades to temporary overcounting, not overselling.
		s.log.Error("cart compensation failed", "reservation_ids", ids, "err", err)
	}
}

// ConfirmByToken is the terminal "payment worked" signal. It is idempotent:
// a redelivered webhook finds no active holds left and does nothing.
func (s *Service) ConfirmByToken(ctx context.Context, orderToken string) error {
	count, err := s.repo.ConfirmByToken(ctx, orderToken)
	if err != nil {
		return err
	}
	s.log.Info("stock reservations confirmed", "order_token", orderToken, "count", count)
	return nil
}

// CancelByToken releases every active hold for the token, used on payment
// failure or checkout abandonment. No-op on already-terminal holds.
func (s *Service) CancelByToken(ctx context.Context, orderToken string) error {
	count, err := s.repo.CancelByToken(ctx, orderToken)
	if err != nil {
		return err
	}
	s.log.Info("stock reservations cancelled", "order_token", orderToken, "count", count)
	return nil
}

// AvailableStock is a plain read; callers that act on it must go through
// Reserve, which re-checks under the lock.
func (s *Service) AvailableStock(ctx context.Context, productID int64) (int, error) {
	available, err := s.repo.AvailableStock(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return 0, nil
	}
	return available, err
}

// ValidateCart reports which lines cannot be covered right now. Advisory
// only: the authoritative check is the locked one inside Reserve.
func (s *Service) ValidateCart(ctx context.Context, items []domain.CartItem) (domain.CartValidation, error) {
	result := domain.CartValidation{CanReserve: true}

	for _, item := range items {
		available, err := s.AvailableStock(ctx, item.ProductID)
		if err != nil {
			return domain.CartValidation{}, err
		}
		if available < item.Quantity {
			result.CanReserve = false
			result.Unavailable = append(result.Unavailable, domain.UnavailableItem{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: available,
			})
		}
	}
	return result, nil
}

// CleanupExpired marks stale holds expired. Housekeeping only: availability
// reads already ignore past-deadline holds, so correctness never depends on
// this having run.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	count, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Info("expired reservations cleaned up", "count", count)
	return count, nil
}
