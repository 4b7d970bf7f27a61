package gateway

import "time"

// Metrics defines the interface for tracking outbound provider calls.
type Metrics interface {
	// RecordAPICall records an API call to the provider.
	// endpoint: "create_payment" or "get_payment"
	// status: HTTP status code as string, or "error" on transport failure
	RecordAPICall(endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAPICall(_, _ string)                       {}
func (n *NoopMetrics) RecordAPICallDuration(_ string, _ time.Duration) {}
