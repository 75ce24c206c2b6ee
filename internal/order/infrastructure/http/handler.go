package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecomcore/reservation-service/internal/order/application"
	"github.com/ecomcore/reservation-service/internal/order/domain"
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
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders/token", h.generateToken)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{token}", h.getOrder)
	r.Patch("/orders/{token}/status", h.updateStatus)
	return r
}

func (h *Handler) generateToken(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "GenerateOrderToken")
	defer span.End()

	var req struct {
		UserID     *int64             `json:"user_id"`
		Items      []domain.OrderItem `json:"items"`
		TotalCents int64              `json:"total_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	token := h.service.GenerateToken(req.UserID, req.Items, req.TotalCents)
	writeJSON(w, http.StatusOK, map[string]string{"order_token": token})
}

type createOrderReq struct {
	OrderToken string `json:"order_token"`
	application.CreateOrderData
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	o, err := h.service.CreateOrder(ctx, req.CreateOrderData, req.OrderToken)
	if err != nil {
		var unknown *domain.UnknownProductError
		switch {
		case errors.Is(err, application.ErrEmptyToken), errors.Is(err, application.ErrNoItems):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &unknown):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.log.Error("create order failed", "order_token", req.OrderToken, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	o, err := h.service.GetOrder(ctx, chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		h.log.Error("get order failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	o, err := h.service.UpdateStatus(ctx, chi.URLParam(r, "token"), domain.OrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, application.ErrInvalidStatus):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		default:
			h.log.Error("update status failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

type orderResp struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	OrderToken  string             `json:"order_token"`
	Status      string             `json:"status"`
	TotalCents  int64              `json:"total_cents"`
	Items       []domain.OrderItem `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
}

func toOrderResp(o domain.Order) orderResp {
	return orderResp{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		OrderToken:  o.OrderToken,
		Status:      string(o.Status),
		TotalCents:  o.TotalCents,
		Items:       o.Items,
		CreatedAt:   o.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
