package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/velvette/checkout/internal/orders/app"
	"github.com/velvette/checkout/internal/orders/domain"
	"github.com/velvette/checkout/internal/orders/ports"
)

// webhookSignatureHeader carries the gateway's HMAC over the raw body.
const webhookSignatureHeader = "X-Razorpay-Signature"

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// Handler exposes HTTP endpoints for checkout and payment reconciliation.
type Handler struct {
	service *app.Service
}

// NewHandler constructs a Handler.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// Register binds the handlers to the provided ServeMux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/checkout", h.handleCheckout)
	mux.HandleFunc("/v1/payments/verify", h.handleVerifyPayment)
	mux.HandleFunc("/v1/payments/webhook", h.handleWebhook)
	mux.HandleFunc("/v1/orders", h.handleOrders)
	mux.HandleFunc("/v1/orders/", h.handleOrderByID)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload app.CheckoutInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	order, err := h.service.Checkout(r.Context(), payload)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"order": order})
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload app.VerifyPaymentInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	order, outcome, err := h.service.VerifyPayment(r.Context(), payload)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":  order,
		"result": string(outcome),
	})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	outcome, err := h.service.HandleWebhook(r.Context(), body, r.Header.Get(webhookSignatureHeader))
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	// Stale and duplicate deliveries are acknowledged so the gateway stops
	// redelivering them.
	writeJSON(w, http.StatusOK, map[string]any{"status": string(outcome)})
}

func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter := ports.ListFilter{UserID: r.URL.Query().Get("user_id")}
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		status := domain.OrderStatus(statusParam)
		filter.Status = &status
	}
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		if page, err := strconv.Atoi(pageParam); err == nil {
			filter.Page = page
		}
	}
	if pageSizeParam := r.URL.Query().Get("page_size"); pageSizeParam != "" {
		if pageSize, err := strconv.Atoi(pageSizeParam); err == nil {
			filter.PageSize = pageSize
		}
	}

	orders, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	if trimmed == "" {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if strings.HasSuffix(trimmed, "/cancel") {
		id := strings.TrimSuffix(strings.TrimSuffix(trimmed, "/cancel"), "/")
		id = strings.TrimSuffix(id, "/")
		if id == "" {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.cancelOrder(w, r, id)
		return
	}

	id := strings.TrimSuffix(trimmed, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.getOrder(w, r, id)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, id string) {
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request, id string) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}

	order, err := h.service.Cancel(r.Context(), id, payload.Reason)
	if err != nil {
		writeServiceError(w, err, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. fallback
// covers errors outside the taxonomy (validation on write endpoints,
// storage faults on reads, gateway faults on cancellation).
func writeServiceError(w http.ResponseWriter, err error, fallback int) {
	switch {
	case errors.Is(err, ports.ErrSignatureMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ports.ErrPaymentMismatch), errors.Is(err, ports.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrPaymentNotSettled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ports.ErrConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "conflicting update in progress, retry")
	default:
		writeError(w, fallback, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
