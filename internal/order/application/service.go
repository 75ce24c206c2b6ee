package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecomcore/reservation-service/internal/order/domain"
)

var (
	ErrEmptyToken    = errors.New("order token must not be empty")
	ErrNoItems       = errors.New("order must contain at least one item")
	ErrInvalidStatus = errors.New("invalid order status")
)

const orderNumberAttempts = 5

type Service struct {
	log  *slog.Logger
	repo OrderRepository
}

func NewService(log *slog.Logger, repo OrderRepository) *Service {
	return &Service{log: log, repo: repo}
}

// CreateOrderData is everything the checkout collaborator hands over. The
// caller identity is an explicit parameter, never ambient session state.
type CreateOrderData struct {
	UserID          *int64             `json:"user_id"`
	Items           []domain.OrderItem `json:"items"`
	SubtotalCents   int64              `json:"subtotal_cents"`
	TaxCents        int64              `json:"tax_cents"`
	ShippingCents   int64              `json:"shipping_cents"`
	TotalCents      int64              `json:"total_cents"`
	StripeSessionID *string            `json:"stripe_session_id,omitempty"`
	ShippingAddress *string            `json:"shipping_address,omitempty"`
	BillingAddress  *string            `json:"billing_address,omitempty"`
}

// GenerateToken derives the idempotency key for one checkout attempt. The
// timestamp is rounded to the minute so rapid duplicate submissions from
// the same user and cart collapse into one token, while a genuinely new
// checkout a minute later gets a fresh one.
func (s *Service) GenerateToken(userID *int64, items []domain.OrderItem, totalCents int64) string {
	payload := struct {
		UserID     *int64             `json:"user_id"`
		Items      []domain.OrderItem `json:"cart_items"`
		TotalCents int64              `json:"total_amount"`
		Timestamp  string             `json:"timestamp"`
	}{
		UserID:     userID,
		Items:      items,
		TotalCents: totalCents,
		Timestamp:  time.Now().UTC().Format("2006-01-02 15:04"),
	}

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return "order_" + hex.EncodeToString(sum[:])
}

// CreateOrder converts a confirmed checkout into a permanent order exactly
// once per token. A replay returns the stored order unchanged. Stock is not
// touched here: the reservation confirm step already performed the
// authoritative decrement.
func (s *Service) CreateOrder(ctx context.Context, data CreateOrderData, orderToken string) (domain.Order, error) {
	if orderToken == "" {
		return domain.Order{}, ErrEmptyToken
	}
	if len(data.Items) == 0 {
		return domain.Order{}, ErrNoItems
	}

	number, err := s.generateOrderNumber(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	o := domain.Order{
		ID:              uuid.NewString(),
		UserID:          data.UserID,
		OrderNumber:     number,
		OrderToken:      orderToken,
		Status:          domain.StatusPending,
		SubtotalCents:   data.SubtotalCents,
		TaxCents:        data.TaxCents,
		ShippingCents:   data.ShippingCents,
		TotalCents:      data.TotalCents,
		StripeSessionID: data.StripeSessionID,
		ShippingAddress: data.ShippingAddress,
		BillingAddress:  data.BillingAddress,
		Items:           data.Items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stored, created, err := s.repo.CreateIdempotent(ctx, o)
	if err != nil {
		return domain.Order{}, err
	}
	if !created {
		s.log.Info("order already exists with token",
			"order_token", orderToken,
			"existing_order_id", stored.ID)
		return stored, nil
	}

	s.log.Info("order created",
		"order_id", stored.ID,
		"order_number", stored.OrderNumber,
		"order_token", orderToken)
	return stored, nil
}

func (s *Service) GetOrder(ctx context.Context, orderToken string) (domain.Order, error) {
	return s.repo.GetByToken(ctx, orderToken)
}

// UpdateStatus moves an order along its lifecycle, called by the payment
// collaborator once the provider settles.
func (s *Service) UpdateStatus(ctx context.Context, orderToken string, status domain.OrderStatus) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, ErrInvalidStatus
	}
	o, err := s.repo.UpdateStatus(ctx, orderToken, status)
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order status updated", "order_id", o.ID, "order_token", orderToken, "status", status)
	return o, nil
}

// generateOrderNumber allocates a human-readable unique number, retrying on
// the rare collision. The orders table still carries a unique constraint as
// the backstop.
func (s *Service) generateOrderNumber(ctx context.Context) (string, error) {
	for i := 0; i < orderNumberAttempts; i++ {
		number, err := randomOrderNumber()
		if err != nil {
			return "", err
		}
		exists, err := s.repo.OrderNumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique order number after %d attempts", orderNumberAttempts)
}

const orderNumberCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomOrderNumber() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = orderNumberCharset[int(b)%len(orderNumberCharset)]
	}
	return "ORD-" + string(buf), nil
}
