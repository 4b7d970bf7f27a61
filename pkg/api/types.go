package api

import (
	"encoding/json"

	"github.com/mihaimyh/clickpay/pkg/gateway"
)

// CreatePaymentRequest is the body of POST /api/create-payment
type CreatePaymentRequest struct {
	Amount      gateway.Amount `json:"amount" validate:"gt=0"`
	Description string         `json:"description" validate:"max=128"`
	UserID      string         `json:"userId" validate:"required,max=255,excludes=/"`
	Clicks      *int64         `json:"clicks" validate:"required,gte=0,lte=1000000000"`
	Username    string         `json:"username" validate:"max=255"`
}

// CreatePaymentResponse is returned when the provider accepted the payment
type CreatePaymentResponse struct {
	Success           bool   `json:"success"`
	PaymentID         string `json:"paymentId"`
	ConfirmationToken string `json:"confirmationToken,omitempty"`
	ConfirmationURL   string `json:"confirmationUrl,omitempty"`
	Status            string `json:"status"`
}

// CheckPaymentResponse carries the provider's payment record verbatim
type CheckPaymentResponse struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Payment json.RawMessage `json:"payment"`
}

// BalanceResponse is returned by GET /api/balance/{userId}
type BalanceResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
	Clicks  int64  `json:"clicks"`
	Global  int64  `json:"global"`
}

// ErrorResponse is the failure body shared by the payment endpoints
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ReadyResponse is returned by GET /api/ready
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
