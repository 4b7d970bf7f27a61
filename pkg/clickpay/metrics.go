package clickpay

import "time"

// Metrics defines the interface for tracking webhook processing and ledger operations.
type Metrics interface {
	// RecordWebhookEvent records a handled event.
	// outcome: "applied", "duplicate", "ignored", "malformed" or "error"
	RecordWebhookEvent(eventType, outcome string)

	// RecordWebhookProcessingDuration records how long Handle took.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordClicksCredited records clicks added to the ledger.
	RecordClicksCredited(clicks int64)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(eventType, outcome string)                               {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(eventType string, duration time.Duration)   {}
func (n *NoopMetrics) RecordClicksCredited(clicks int64)                                          {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
