// Package config loads clickpay server settings from the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every server setting
type Config struct {
	Port     int    `validate:"min=1,max=65535"`
	AppEnv   string `validate:"required"`
	LogLevel string `validate:"oneof=trace debug info warn error"`

	YooKassa YooKassa

	CORSAllowedOrigins []string
	HTTPRouter         string `validate:"oneof=chi gin echo fiber gorilla"`

	LedgerBackend      string `validate:"oneof=memory redis postgres firestore"`
	Redis              Redis
	PostgresDSN        string `validate:"required_if=LedgerBackend postgres"`
	FirestoreProjectID string `validate:"required_if=LedgerBackend firestore"`
	CircuitBreaker     bool

	VerifyPayments        bool
	TrustedNetworks       []string
	TrustForwardedHeaders bool
	WebhookRateLimit      int

	MetricsNamespace string        `validate:"required"`
	ShutdownTimeout  time.Duration `validate:"gt=0"`
}

// YooKassa holds the shop credentials and API settings
type YooKassa struct {
	ShopID           string        `validate:"required"`
	SecretKey        string        `validate:"required"`
	APIURL           string        `validate:"required,url"`
	ReturnURL        string        `validate:"omitempty,url"`
	Currency         string        `validate:"len=3"`
	ConfirmationType string        `validate:"oneof=embedded redirect"`
	Timeout          time.Duration `validate:"gt=0"`
}

// Redis holds the ledger connection settings for the redis backend
type Redis struct {
	Addr      string
	Password  string
	DB        int `validate:"min=0"`
	KeyPrefix string
}

// Load reads the configuration from env and validates it
func Load(env *Env) (*Config, error) {
	var errs []string
	parseInt := func(key, def string) int {
		v, err := strconv.Atoi(env.Get(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: not an integer", key))
		}
		return v
	}
	parseBool := func(key, def string) bool {
		v, err := strconv.ParseBool(env.Get(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: not a boolean", key))
		}
		return v
	}
	parseDuration := func(key, def string) time.Duration {
		v, err := time.ParseDuration(env.Get(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: not a duration", key))
		}
		return v
	}

	appEnv := env.Get("APP_ENV", "prod")
	defaultLevel := "info"
	if appEnv == "dev" {
		defaultLevel = "debug"
	}

	c := &Config{
		Port:     parseInt("PORT", "3001"),
		AppEnv:   appEnv,
		LogLevel: strings.ToLower(env.Get("LOG_LEVEL", defaultLevel)),
		YooKassa: YooKassa{
			ShopID:           env.Get("YOOKASSA_SHOP_ID", ""),
			SecretKey:        env.Get("YOOKASSA_SECRET_KEY", ""),
			APIURL:           env.Get("YOOKASSA_API_URL", "https://api.yookassa.ru/v3"),
			ReturnURL:        env.Get("YOOKASSA_RETURN_URL", ""),
			Currency:         strings.ToUpper(env.Get("PAYMENT_CURRENCY", "RUB")),
			ConfirmationType: env.Get("YOOKASSA_CONFIRMATION_TYPE", "embedded"),
			Timeout:          parseDuration("GATEWAY_TIMEOUT", "10s"),
		},
		CORSAllowedOrigins: splitList(env.Get("CORS_ALLOWED_ORIGINS", "https://colony-tap.ru,http://localhost:3000")),
		HTTPRouter:         strings.ToLower(env.Get("HTTP_ROUTER", "chi")),
		LedgerBackend:      strings.ToLower(env.Get("LEDGER_BACKEND", "memory")),
		Redis: Redis{
			Addr:      env.Get("REDIS_ADDR", "localhost:6379"),
			Password:  env.Get("REDIS_PASSWORD", ""),
			DB:        parseInt("REDIS_DB", "0"),
			KeyPrefix: env.Get("REDIS_KEY_PREFIX", "clickpay:"),
		},
		PostgresDSN:           env.Get("POSTGRES_DSN", ""),
		FirestoreProjectID:    env.Get("FIRESTORE_PROJECT_ID", ""),
		CircuitBreaker:        parseBool("LEDGER_CIRCUIT_BREAKER", "true"),
		VerifyPayments:        parseBool("WEBHOOK_VERIFY_PAYMENTS", "false"),
		TrustedNetworks:       splitList(env.Get("WEBHOOK_TRUSTED_NETWORKS", "")),
		TrustForwardedHeaders: parseBool("WEBHOOK_TRUST_FORWARDED_FOR", "false"),
		WebhookRateLimit:      parseInt("WEBHOOK_RATE_LIMIT", "100"),
		MetricsNamespace:      env.Get("METRICS_NAMESPACE", "clickpay"),
		ShutdownTimeout:       parseDuration("SHUTDOWN_TIMEOUT", "15s"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field constraints across the whole configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.YooKassa.ConfirmationType == "redirect" && c.YooKassa.ReturnURL == "" {
		return fmt.Errorf("invalid config: YOOKASSA_RETURN_URL is required for redirect confirmation")
	}
	return nil
}

// IsDev reports whether development mode is enabled
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// WebhookUnauthenticated reports whether webhook events are accepted as
// delivered from any address, with neither gateway verification nor a
// trusted network list configured
func (c *Config) WebhookUnauthenticated() bool {
	return !c.VerifyPayments && len(c.TrustedNetworks) == 0
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
