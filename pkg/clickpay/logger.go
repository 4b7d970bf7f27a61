package clickpay

// Field is a key/value pair attached to a log line, e.g. Field{"payment_id", id}.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the structured logging seam shared by the Processor, the gateway
// client and the HTTP layer. Values that implement error are logged as errors.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// NoopLogger discards everything; it is the default when no Logger is configured.
type NoopLogger struct{}

func (n *NoopLogger) Debug(string, ...Field) {}
func (n *NoopLogger) Info(string, ...Field)  {}
func (n *NoopLogger) Warn(string, ...Field)  {}
func (n *NoopLogger) Error(string, ...Field) {}
