package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ecomcore/reservation-service/internal/reservation/application"
	"github.com/ecomcore/reservation-service/internal/reservation/domain"
)

// stubRepo serves canned outcomes keyed by product id.
type stubRepo struct {
	available  map[int64]int
	outOfStock map[int64]bool
	nextID     int64
	confirmed  []string
	cancelled  []string
}

func (s *stubRepo) Reserve(ctx context.Context, p application.ReserveParams) (*domain.Reservation, error) {
	available, ok := s.available[p.ProductID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	if available < p.Quantity {
		return nil, &domain.InsufficientStockError{ProductID: p.ProductID, Requested: p.Quantity, Available: available}
	}
	if s.outOfStock[p.ProductID] {
		return nil, &domain.OutOfStockError{ProductID: p.ProductID}
	}
	s.available[p.ProductID] -= p.Quantity
	s.nextID++
	return &domain.Reservation{
		ID:            s.nextID,
		ProductID:     p.ProductID,
		Quantity:      p.Quantity,
		ReservedUntil: time.Now().Add(p.TTL),
		Status:        domain.StatusActive,
		OrderToken:    p.OrderToken,
	}, nil
}

func (s *stubRepo) ConfirmByToken(ctx context.Context, orderToken string) (int, error) {
	s.confirmed = append(s.confirmed, orderToken)
	return 1, nil
}

func (s *stubRepo) CancelByToken(ctx context.Context, orderToken string) (int, error) {
	s.cancelled = append(s.cancelled, orderToken)
	return 1, nil
}

func (s *stubRepo) CancelReservations(ctx context.Context, ids []int64) (int, error) {
	return len(ids), nil
}

func (s *stubRepo) AvailableStock(ctx context.Context, productID int64) (int, error) {
	available, ok := s.available[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return available, nil
}

func (s *stubRepo) SweepExpired(ctx context.Context) (int, error) { return 0, nil }

func newTestHandler(repo application.StockRepository) http.Handler {
	log := slog.New(slog.DiscardHandler)
	return NewHandler(log, application.NewService(log, repo)).Routes()
}

func TestReserveCart_Created(t *testing.T) {
	h := newTestHandler(&stubRepo{available: map[int64]int{1: 10}})

	body := `{"order_token":"tok-1","items":[{"product_id":1,"quantity":2}]}`
	req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Reservations []struct {
			ProductID int64  `json:"product_id"`
			Quantity  int    `json:"quantity"`
			Status    string `json:"status"`
		} `json:"reservations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(resp.Reservations) != 1 || resp.Reservations[0].Status != "active" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestReserveCart_InsufficientStockPayload(t *testing.T) {
	h := newTestHandler(&stubRepo{available: map[int64]int{1: 1}})

	body := `{"order_token":"tok-1","items":[{"product_id":1,"quantity":5}]}`
	req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	var resp struct {
		Error     string `json:"error"`
		ProductID int64  `json:"product_id"`
		Available int    `json:"available"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Error != "insufficient_stock" || resp.ProductID != 1 || resp.Available != 1 {
		t.Errorf("unexpected error payload: %+v", resp)
	}
}

func TestReserveCart_OutOfStockPayload(t *testing.T) {
	// Uncommitted stock remains but the product is flagged unsellable.
	h := newTestHandler(&stubRepo{available: map[int64]int{1: 10}, outOfStock: map[int64]bool{1: true}})

	body := `{"order_token":"tok-1","items":[{"product_id":1,"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	var resp struct {
		Error     string `json:"error"`
		ProductID int64  `json:"product_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Error != "out_of_stock" || resp.ProductID != 1 {
		t.Errorf("unexpected error payload: %+v", resp)
	}
}

func TestReserveCart_MissingToken(t *testing.T) {
	h := newTestHandler(&stubRepo{available: map[int64]int{}})

	req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(`{"items":[{"product_id":1,"quantity":1}]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConfirmAndCancel(t *testing.T) {
	repo := &stubRepo{available: map[int64]int{}}
	h := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/reservations/tok-9/confirm", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("confirm: expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/reservations/tok-9/cancel", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", rec.Code)
	}

	if len(repo.confirmed) != 1 || repo.confirmed[0] != "tok-9" {
		t.Errorf("confirm not forwarded: %v", repo.confirmed)
	}
	if len(repo.cancelled) != 1 || repo.cancelled[0] != "tok-9" {
		t.Errorf("cancel not forwarded: %v", repo.cancelled)
	}
}

func TestAvailability(t *testing.T) {
	h := newTestHandler(&stubRepo{available: map[int64]int{7: 3}})

	req := httptest.NewRequest(http.MethodGet, "/products/7/availability", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		ProductID int64 `json:"product_id"`
		Available int   `json:"available"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Available != 3 {
		t.Errorf("expected available 3, got %d", resp.Available)
	}

	req = httptest.NewRequest(http.MethodGet, "/products/abc/availability", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}
