package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecomcore/reservation-service/internal/reservation/application"
	"github.com/ecomcore/reservation-service/internal/reservation/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("reservation-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/reservations", h.reserveCart)
	r.Post("/reservations/validate", h.validateCart)
	r.Post("/reservations/{token}/confirm", h.confirm)
	r.Post("/reservations/{token}/cancel", h.cancel)
	r.Get("/products/{productID}/availability", h.availability)
	return r
}

type reserveCartReq struct {
	OrderToken string            `json:"order_token"`
	UserID     *int64            `json:"user_id,omitempty"`
	SessionID  *string           `json:"session_id,omitempty"`
	Items      []domain.CartItem `json:"items"`
}

type reservationResp struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	Quantity      int       `json:"quantity"`
	ReservedUntil time.Time `json:"reserved_until"`
	Status        string    `json:"status"`
	OrderToken    string    `json:"order_token"`
}

func (h *Handler) reserveCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveCart")
	defer span.End()

	var req reserveCartReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.OrderToken == "" || len(req.Items) == 0 {
		http.Error(w, "order_token and items are required", http.StatusBadRequest)
		return
	}

	reservations, err := h.service.ReserveCart(ctx, req.Items, req.OrderToken, req.UserID, req.SessionID)
	if err != nil {
		h.writeStockError(w, err)
		return
	}

	out := make([]reservationResp, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, reservationResp{
			ID:            res.ID,
			ProductID:     res.ProductID,
			Quantity:      res.Quantity,
			ReservedUntil: res.ReservedUntil,
			Status:        string(res.Status),
			OrderToken:    res.OrderToken,
		})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reservations": out})
}

func (h *Handler) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ValidateCart")
	defer span.End()

	var req struct {
		Items []domain.CartItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	validation, err := h.service.ValidateCart(ctx, req.Items)
	if err != nil {
		h.log.Error("cart validation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, validation)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmReservation")
	defer span.End()

	token := chi.URLParam(r, "token")
	if err := h.service.ConfirmByToken(ctx, token); err != nil {
		h.log.Error("confirm failed", "order_token", token, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelReservation")
	defer span.End()

	token := chi.URLParam(r, "token")
	if err := h.service.CancelByToken(ctx, token); err != nil {
		h.log.Error("cancel failed", "order_token", token, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AvailableStock")
	defer span.End()

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}

	available, err := h.service.AvailableStock(ctx, productID)
	if err != nil {
		h.log.Error("availability read failed", "product_id", productID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "available": available})
}

// writeStockError maps the typed stock errors to payloads the checkout
// collaborator can branch on without string matching.
func (h *Handler) writeStockError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "insufficient_stock",
			"product_id": insufficient.ProductID,
			"requested":  insufficient.Requested,
			"available":  insufficient.Available,
		})
		return
	}
	var outOfStock *domain.OutOfStockError
	if errors.As(err, &outOfStock) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "out_of_stock",
			"product_id": outOfStock.ProductID,
		})
		return
	}
	if errors.Is(err, domain.ErrProductNotFound) {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, application.ErrInvalidQuantity) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.log.Error("reservation failed", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
