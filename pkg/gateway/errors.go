package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrGateway is returned when the payment provider call fails or returns a non-success status
	ErrGateway = errors.New("payment gateway error")

	// ErrPaymentNotFound is returned when the provider does not know the payment id
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidRequest is returned when a payment request fails local validation
	ErrInvalidRequest = errors.New("invalid payment request")

	// ErrNotConfigured is returned when the gateway client is missing credentials
	ErrNotConfigured = errors.New("payment gateway not configured")
)

// Error describes a failed call to the payment provider.
type Error struct {
	// Op is the client operation, e.g. "create_payment"
	Op string

	// StatusCode is the HTTP status returned by the provider (0 on network failure)
	StatusCode int

	// Code and Description are taken from the provider's error body when present
	Code        string
	Description string

	// Err is the sentinel or transport error being wrapped
	Err error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Err.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrGateway in addition to its wrapped error.
func (e *Error) Is(target error) bool {
	return target == ErrGateway
}

// Description returns the provider's human-readable error description, if any.
func Description(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Description
	}
	return ""
}
