package clickpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event types delivered by the payment provider
const (
	EventPaymentSucceeded         = "payment.succeeded"
	EventPaymentWaitingForCapture = "payment.waiting_for_capture"
	EventPaymentCanceled          = "payment.canceled"
	EventRefundSucceeded          = "refund.succeeded"
)

// PaymentStatusSucceeded is the payment status that allows crediting
const PaymentStatusSucceeded = "succeeded"

// MaxClicks is the largest number of clicks a single payment may credit
const MaxClicks int64 = 1_000_000_000

// Event is the webhook notification envelope sent by the payment provider.
type Event struct {
	// Type is the notification type ("notification")
	Type string `json:"type"`

	// Event is the event name, e.g. "payment.succeeded"
	Event string `json:"event"`

	// Object is the payment snapshot at event time
	Object *PaymentObject `json:"object"`
}

// PaymentObject is the subset of the provider's payment record consumed here.
type PaymentObject struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Paid     bool            `json:"paid"`
	Metadata PaymentMetadata `json:"metadata"`
}

// PaymentMetadata carries the values attached at payment creation.
// The provider echoes metadata back as strings, so both JSON strings and
// numbers are accepted.
type PaymentMetadata struct {
	UserID   json.RawMessage `json:"userId"`
	Clicks   json.RawMessage `json:"clicks"`
	Username json.RawMessage `json:"username"`
}

// Credit is a validated ledger mutation derived from a succeeded payment.
type Credit struct {
	PaymentID string
	UserID    string
	Username  string
	Clicks    int64
}

// Validate checks that the credit can be applied to a ledger
func (c *Credit) Validate() error {
	if c == nil || c.PaymentID == "" || c.UserID == "" {
		return ErrInvalidCredit
	}
	if c.Clicks < 0 || c.Clicks > MaxClicks {
		return ErrInvalidAmount
	}
	return nil
}

// Outcome describes what Handle did with an event
type Outcome string

const (
	// OutcomeApplied means the credit was applied to the ledger by this call
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the payment had already been applied
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event type does not change ledger state
	OutcomeIgnored Outcome = "ignored"
)

// Result is returned by Processor.Handle on success
type Result struct {
	Outcome   Outcome
	EventType string
	Credit    *Credit
}

// ParseEvent decodes a webhook body. Any decoding failure is ErrMalformedEvent.
func ParseEvent(body []byte) (*Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedEvent)
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &ev, nil
}

// CreditFromObject extracts the ledger credit carried by a payment snapshot.
func CreditFromObject(obj *PaymentObject) (*Credit, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: missing object", ErrMalformedEvent)
	}
	paymentID := strings.TrimSpace(obj.ID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrMalformedEvent)
	}

	userID, err := metadataString(obj.Metadata.UserID)
	if err != nil || userID == "" {
		return nil, fmt.Errorf("%w: missing metadata.userId", ErrMalformedEvent)
	}

	clicks, err := metadataClicks(obj.Metadata.Clicks)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata.clicks: %v", ErrMalformedEvent, err)
	}

	// Username is display-only
	username, _ := metadataString(obj.Metadata.Username)

	return &Credit{
		PaymentID: paymentID,
		UserID:    userID,
		Username:  username,
		Clicks:    clicks,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func metadataString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func metadataClicks(raw json.RawMessage) (int64, error) {
	if isNull(raw) {
		return 0, fmt.Errorf("missing")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("not a number")
		}
		text = n.String()
	}

	clicks, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", text)
	}
	if clicks < 0 {
		return 0, fmt.Errorf("negative value %d", clicks)
	}
	if clicks > MaxClicks {
		return 0, fmt.Errorf("value %d exceeds %d", clicks, MaxClicks)
	}
	return clicks, nil
}
