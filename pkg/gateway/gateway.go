package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

// Payment statuses reported by the provider
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

// Gateway is the payment provider contract used by the HTTP layer and the
// webhook verifier.
type Gateway interface {
	// CreatePayment registers a new payment with the provider
	CreatePayment(ctx context.Context, req *PaymentRequest) (*Payment, error)

	// GetPayment fetches the provider's current record of a payment.
	// Unknown ids fail with an error wrapping ErrPaymentNotFound.
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// PaymentRequest describes a click purchase to register with the provider.
type PaymentRequest struct {
	Amount      Amount
	Description string
	UserID      string
	Clicks      int64
	Username    string

	// IdempotenceKey is forwarded to the provider when set; otherwise a fresh key is generated
	IdempotenceKey string
}

// Validate checks the request before anything is sent to the provider.
func (r *PaymentRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if r.Clicks < 0 {
		return fmt.Errorf("%w: clicks must be non-negative", ErrInvalidRequest)
	}
	if r.Clicks > clickpay.MaxClicks {
		return fmt.Errorf("%w: clicks must be at most %d", ErrInvalidRequest, clickpay.MaxClicks)
	}
	return nil
}

// DescriptionOrDefault returns the payment description shown to the payer.
func (r *PaymentRequest) DescriptionOrDefault() string {
	if d := strings.TrimSpace(r.Description); d != "" {
		return d
	}
	return fmt.Sprintf("Покупка %d кликов", r.Clicks)
}

// Payment is the provider's record of a payment.
type Payment struct {
	ID                string
	Status            string
	Paid              bool
	Amount            Amount
	Currency          string
	Description       string
	ConfirmationToken string
	ConfirmationURL   string
	CreatedAt         time.Time

	// Metadata is echoed back by the provider as set at creation (values may be strings)
	Metadata map[string]json.RawMessage

	// Raw is the provider response body, returned verbatim by check-payment
	Raw json.RawMessage
}
