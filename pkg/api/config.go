package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/clickpay/pkg/api/internal"
	"github.com/mihaimyh/clickpay/pkg/clickpay"
	"github.com/mihaimyh/clickpay/pkg/gateway"
)

const (
	defaultWebhookRateLimit = 100
	defaultMaxWebhookBytes  = 256 * 1024
	defaultReadyTimeout     = 2 * time.Second
)

// Ledger is the part of clickpay.Processor the HTTP layer depends on
type Ledger interface {
	Handle(ctx context.Context, ev *clickpay.Event) (*clickpay.Result, error)
	Balance(ctx context.Context, userID string) (*clickpay.Balance, error)
	Ping(ctx context.Context) error
}

// Config holds configuration for the payment API handler
type Config struct {
	// Ledger applies webhook events and serves balances (required)
	Ledger Ledger

	// Gateway creates and looks up payments (required)
	Gateway gateway.Gateway

	// Logger is optional; NoopLogger is used when nil
	Logger clickpay.Logger

	// TrustedNetworks restricts webhook sources to these CIDR blocks or
	// addresses. Empty allows every source.
	TrustedNetworks []string

	// TrustForwardedHeaders resolves the client IP from X-Forwarded-For and
	// X-Real-IP. Enable only behind a reverse proxy that overwrites them.
	TrustForwardedHeaders bool

	// WebhookRateLimit is the number of webhook requests allowed per minute
	// per client IP (default: 100). Negative disables rate limiting.
	WebhookRateLimit int

	// MaxWebhookBytes caps the webhook body size (default: 256KB)
	MaxWebhookBytes int64

	// ReadyTimeout bounds the store ping behind /api/ready (default: 2s)
	ReadyTimeout time.Duration

	// Now is used for the health timestamp; time.Now when nil
	Now func() time.Time
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if c.Gateway == nil {
		return fmt.Errorf("gateway is required")
	}
	if c.MaxWebhookBytes < 0 {
		return fmt.Errorf("maxWebhookBytes must be non-negative")
	}
	return nil
}

// NewHandler creates a new payment API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	prefixes, err := internal.ParsePrefixes(config.TrustedNetworks)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if config.Logger == nil {
		config.Logger = &clickpay.NoopLogger{}
	}
	if config.WebhookRateLimit == 0 {
		config.WebhookRateLimit = defaultWebhookRateLimit
	}
	if config.MaxWebhookBytes == 0 {
		config.MaxWebhookBytes = defaultMaxWebhookBytes
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = defaultReadyTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	clientIP := config.clientIPFunc()

	h := &Handler{
		config:    config,
		logger:    config.Logger,
		allowlist: internal.NewAllowlist(prefixes, clientIP),
		validate:  newValidator(),
	}
	if config.WebhookRateLimit > 0 {
		h.rateLimiter = internal.NewRateLimiter(config.WebhookRateLimit, time.Minute, clientIP)
	}
	return h, nil
}

func (c *Config) clientIPFunc() func(*http.Request) string {
	if c.TrustForwardedHeaders {
		return internal.ForwardedIP
	}
	return internal.RemoteIP
}
