package yookassa

import (
	"encoding/json"
	"time"
)

type amountBody struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type metadataBody struct {
	UserID   string `json:"userId"`
	Clicks   int64  `json:"clicks"`
	Username string `json:"username"`
}

type createPaymentRequest struct {
	Amount       amountBody `json:"amount"`
	Capture      bool       `json:"capture"`
	Confirmation struct {
		Type      string `json:"type"`
		ReturnURL string `json:"return_url,omitempty"`
	} `json:"confirmation"`
	Description string       `json:"description"`
	Metadata    metadataBody `json:"metadata"`
}

type paymentResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Paid         bool       `json:"paid"`
	Amount       amountBody `json:"amount"`
	Description  string     `json:"description"`
	CreatedAt    time.Time  `json:"created_at"`
	Confirmation *struct {
		Type              string `json:"type"`
		ConfirmationToken string `json:"confirmation_token"`
		ConfirmationURL   string `json:"confirmation_url"`
	} `json:"confirmation"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

type errorResponse struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Parameter   string `json:"parameter"`
}
