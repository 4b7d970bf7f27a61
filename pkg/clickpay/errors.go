package clickpay

import (
	"errors"
	"math"
)

var (
	// ErrMalformedEvent is returned when a webhook payload cannot be parsed or
	// lacks the fields needed to credit a user. Redelivery will not fix it.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrStoreUnavailable is returned when the ledger store fails. The event
	// was not applied and is safe to redeliver.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrGatewayUnavailable is returned when payment verification against the
	// gateway fails for a transient reason.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrPaymentNotSucceeded is returned when gateway verification reports a
	// status other than succeeded for a payment.succeeded event
	ErrPaymentNotSucceeded = errors.New("payment not succeeded")

	// ErrInvalidAmount is returned for negative credit amounts and for
	// amounts above MaxClicks
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrCounterOverflow is returned by stores that refuse a credit because
	// a balance or the global counter would exceed the int64 range.
	// Nothing is applied.
	ErrCounterOverflow = errors.New("ledger counter overflow")

	// ErrInvalidCredit is returned when a credit lacks a payment or user id
	ErrInvalidCredit = errors.New("invalid credit")
)

// IsRejectedCredit reports whether err means the store refused the credit
// itself. Retrying the same credit cannot succeed.
func IsRejectedCredit(err error) bool {
	return errors.Is(err, ErrInvalidCredit) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCounterOverflow)
}

// AddWouldOverflow reports whether current+amount exceeds math.MaxInt64.
// Both values are expected to be non-negative.
func AddWouldOverflow(current, amount int64) bool {
	return amount > math.MaxInt64-current
}
