// Command clickpay runs the YooKassa payment proxy and the webhook ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/clickpay/internal/config"
	"github.com/mihaimyh/clickpay/pkg/api"
	"github.com/mihaimyh/clickpay/pkg/clickpay"
	zerologadapter "github.com/mihaimyh/clickpay/pkg/clickpay/logger/zerolog"
	ledgermetrics "github.com/mihaimyh/clickpay/pkg/clickpay/metrics/prometheus"
	"github.com/mihaimyh/clickpay/pkg/gateway"
	gatewaymetrics "github.com/mihaimyh/clickpay/pkg/gateway/metrics/prometheus"
	"github.com/mihaimyh/clickpay/pkg/gateway/yookassa"
)

func main() {
	env := config.LoadEnv()
	zlog := newZerolog(env)

	cfg, err := config.Load(env)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zlog = zlog.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &zlog); err != nil {
		zlog.Error().Err(err).Msg("clickpay stopped with error")
		stop()
		os.Exit(1)
	}
}

func newZerolog(env *config.Env) zerolog.Logger {
	if env.IsDev() {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "clickpay").Logger()
}

func run(ctx context.Context, cfg *config.Config, zlog *zerolog.Logger) error {
	logger := zerologadapter.NewLogger(zlog)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ledgermetrics.NewMetrics(registry, cfg.MetricsNamespace)

	client, err := yookassa.NewClient(yookassa.Config{
		ShopID:           cfg.YooKassa.ShopID,
		SecretKey:        cfg.YooKassa.SecretKey,
		BaseURL:          cfg.YooKassa.APIURL,
		Currency:         cfg.YooKassa.Currency,
		ConfirmationType: cfg.YooKassa.ConfirmationType,
		ReturnURL:        cfg.YooKassa.ReturnURL,
		Timeout:          cfg.YooKassa.Timeout,
		Logger:           logger,
		Metrics:          gatewaymetrics.NewMetrics(registry, cfg.MetricsNamespace),
	})
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	store, closeStore, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer closeStore()

	if cfg.CircuitBreaker {
		cb := clickpay.NewDefaultCircuitBreaker(clickpay.CircuitBreakerConfig{
			OnStateChange: func(state clickpay.CircuitBreakerState) {
				metrics.RecordCircuitBreakerStateChange(string(state))
				logger.Warn("ledger circuit breaker state changed", clickpay.Field{Key: "state", Value: string(state)})
			},
		})
		store = clickpay.NewCircuitBreakerStorage(store, cb)
	}

	if cfg.WebhookUnauthenticated() {
		logger.Warn("webhook accepts unverified events from any address; set WEBHOOK_VERIFY_PAYMENTS or WEBHOOK_TRUSTED_NETWORKS",
			clickpay.Field{Key: "app_env", Value: cfg.AppEnv})
	}

	processorConfig := &clickpay.Config{Logger: logger, Metrics: metrics}
	if cfg.VerifyPayments {
		processorConfig.Verify = gateway.Verifier(client)
	}
	processor, err := clickpay.NewProcessor(store, processorConfig)
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	handler, err := api.NewHandler(api.Config{
		Ledger:                processor,
		Gateway:               client,
		Logger:                logger,
		TrustedNetworks:       cfg.TrustedNetworks,
		TrustForwardedHeaders: cfg.TrustForwardedHeaders,
		WebhookRateLimit:      cfg.WebhookRateLimit,
	})
	if err != nil {
		return err
	}

	srv, err := newServer(cfg, handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("clickpay listening",
			clickpay.Field{Key: "addr", Value: cfg.Addr()},
			clickpay.Field{Key: "router", Value: cfg.HTTPRouter},
			clickpay.Field{Key: "ledger", Value: cfg.LedgerBackend})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
