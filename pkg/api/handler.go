package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/clickpay/pkg/api/internal"
	"github.com/mihaimyh/clickpay/pkg/clickpay"
	"github.com/mihaimyh/clickpay/pkg/gateway"
)

const (
	// ParamPaymentID names the path parameter of the check-payment route
	ParamPaymentID = "paymentId"
	// ParamUserID names the path parameter of the balance route
	ParamUserID = "userId"

	headerIdempotenceKey = "Idempotence-Key"
	maxRequestBytes      = 64 * 1024
	maxUserIDLen         = 255
	healthTimeLayout     = "2006-01-02T15:04:05.000Z07:00"

	msgCreateFailed  = "Ошибка создания платежа"
	msgCheckFailed   = "Ошибка проверки платежа"
	msgBalanceFailed = "ledger unavailable"
)

// Handler serves the payment proxy, the webhook receiver and the ledger read endpoints
type Handler struct {
	config      Config
	logger      clickpay.Logger
	allowlist   *internal.Allowlist
	rateLimiter *internal.RateLimiter
	validate    *validator.Validate
}

// CreatePayment registers a click purchase with the payment provider
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxRequestBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var req CreatePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		msg := "invalid request body"
		if errors.Is(err, gateway.ErrInvalidRequest) {
			msg = err.Error()
		}
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	payment, err := h.config.Gateway.CreatePayment(r.Context(), &gateway.PaymentRequest{
		Amount:         req.Amount,
		Description:    req.Description,
		UserID:         strings.TrimSpace(req.UserID),
		Clicks:         *req.Clicks,
		Username:       strings.TrimSpace(req.Username),
		IdempotenceKey: strings.TrimSpace(r.Header.Get(headerIdempotenceKey)),
	})
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidRequest) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("create payment failed",
			clickpay.Field{Key: "user_id", Value: req.UserID},
			clickpay.Field{Key: "amount", Value: req.Amount.String()},
			clickpay.Field{Key: "error", Value: err})
		h.writeError(w, http.StatusInternalServerError, describe(err, msgCreateFailed))
		return
	}

	h.writeJSON(w, http.StatusOK, CreatePaymentResponse{
		Success:           true,
		PaymentID:         payment.ID,
		ConfirmationToken: payment.ConfirmationToken,
		ConfirmationURL:   payment.ConfirmationURL,
		Status:            payment.Status,
	})
}

// CheckPayment returns the provider's current record of a payment
func (h *Handler) CheckPayment(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	paymentID := strings.TrimSpace(pathParam(r, ParamPaymentID))
	if paymentID == "" {
		h.writeError(w, http.StatusBadRequest, "paymentId is required")
		return
	}

	payment, err := h.config.Gateway.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.logger.Error("check payment failed",
			clickpay.Field{Key: "payment_id", Value: paymentID},
			clickpay.Field{Key: "error", Value: err})
		h.writeError(w, http.StatusInternalServerError, describe(err, msgCheckFailed))
		return
	}

	raw := payment.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	h.writeJSON(w, http.StatusOK, CheckPaymentResponse{
		Success: true,
		Status:  payment.Status,
		Payment: raw,
	})
}

// WebhookHandler returns the webhook endpoint wrapped with the source
// allowlist and the per-IP rate limiter.
func (h *Handler) WebhookHandler() http.Handler {
	var handler http.Handler = http.HandlerFunc(h.Webhook)
	if h.rateLimiter != nil {
		handler = h.rateLimiter.Middleware(handler)
	}
	return h.allowlist.Middleware(handler)
}

// Webhook receives payment notifications. Events that can never be applied
// are acknowledged with 200; store and gateway failures answer 500 so the
// provider redelivers.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	select {
	case <-ctx.Done():
		http.Error(w, "request timeout", http.StatusRequestTimeout)
		return
	default:
	}

	body, err := internal.ReadBodyStrict(w, r, h.config.MaxWebhookBytes)
	if err != nil {
		switch {
		case errors.Is(err, internal.ErrPayloadTooLarge):
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		case !errors.Is(err, internal.ErrEmptyBody):
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
	}

	ev, err := clickpay.ParseEvent(body)
	if err != nil {
		h.logger.Warn("webhook payload rejected", clickpay.Field{Key: "error", Value: err})
		h.ack(w)
		return
	}

	if _, err := h.config.Ledger.Handle(ctx, ev); err != nil {
		if errors.Is(err, clickpay.ErrMalformedEvent) {
			h.ack(w)
			return
		}
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}
	h.ack(w)
}

func (h *Handler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   h.config.Now().UTC().Format(healthTimeLayout),
	})
}

// Ready reports whether the ledger store answers
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	ctx, cancel := context.WithTimeout(r.Context(), h.config.ReadyTimeout)
	defer cancel()

	if err := h.config.Ledger.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", clickpay.Field{Key: "error", Value: err})
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "unavailable",
			Checks: map[string]string{"ledger": err.Error()},
		})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ok",
		Checks: map[string]string{"ledger": "ok"},
	})
}

// Balance returns a user's credited clicks and the global aggregate
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	userID := strings.TrimSpace(pathParam(r, ParamUserID))
	if userID == "" || len(userID) > maxUserIDLen {
		h.writeError(w, http.StatusBadRequest, "invalid userId")
		return
	}

	balance, err := h.config.Ledger.Balance(r.Context(), userID)
	if err != nil {
		h.logger.Error("balance lookup failed",
			clickpay.Field{Key: "user_id", Value: userID},
			clickpay.Field{Key: "error", Value: err})
		h.writeError(w, http.StatusInternalServerError, msgBalanceFailed)
		return
	}

	h.writeJSON(w, http.StatusOK, BalanceResponse{
		Success: true,
		UserID:  balance.UserID,
		Clicks:  balance.Clicks,
		Global:  balance.Global,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, msg string) {
	h.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	if err := internal.WriteJSON(w, statusCode, data); err != nil {
		// Response already started
		h.logger.Debug("failed to encode response", clickpay.Field{Key: "error", Value: err})
	}
}

// describe prefers the provider's own description of a failure
func describe(err error, fallback string) string {
	if d := gateway.Description(err); d != "" {
		return d
	}
	return fallback
}

// pathParam reads a path parameter set through http.Request.SetPathValue,
// falling back to chi's route context.
func pathParam(r *http.Request, name string) string {
	if v := r.PathValue(name); v != "" {
		return v
	}
	return chi.URLParam(r, name)
}
