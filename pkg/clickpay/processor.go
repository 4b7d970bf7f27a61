package clickpay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultApplyTimeout = 10 * time.Second
	defaultRetryBackoff = 50 * time.Millisecond
	maxRetryBackoff     = time.Second
	outcomeMalformed    = "malformed"
	outcomeError        = "error"
	eventTypeOther      = "other"
)

// VerifyFunc fetches the authoritative payment record from the gateway.
// Errors wrapping ErrMalformedEvent are terminal; anything else is retried
// by the provider.
type VerifyFunc func(ctx context.Context, paymentID string) (*PaymentObject, error)

// Config holds Processor configuration
type Config struct {
	// Verify re-fetches a payment from the gateway before crediting it.
	// If nil, the webhook payload is trusted as delivered.
	Verify VerifyFunc

	// ApplyTimeout bounds the balance increments that follow a successful
	// TryMarkProcessed on stores without CreditApplier. Those increments
	// run detached from the caller's cancellation (default: 10s).
	ApplyTimeout time.Duration

	// RetryBackoff is the first delay between attempts of those increments.
	// It doubles per attempt up to one second; attempts stop when
	// ApplyTimeout expires (default: 50ms).
	RetryBackoff time.Duration

	// Logger is optional; NoopLogger is used when nil
	Logger Logger

	// Metrics is optional; NoopMetrics is used when nil
	Metrics Metrics
}

// Balance is a point-in-time read of one user's ledger entry and the global aggregate
type Balance struct {
	UserID string
	Clicks int64
	Global int64
}

// Processor applies payment events to the ledger exactly once per payment.
type Processor struct {
	storage Storage
	applier CreditApplier
	config  Config
	logger  Logger
	metrics Metrics
}

// NewProcessor creates a webhook event processor backed by storage
func NewProcessor(storage Storage, config *Config) (*Processor, error) {
	if storage == nil {
		return nil, ErrStoreUnavailable
	}
	if config == nil {
		config = &Config{}
	}

	p := &Processor{
		storage: storage,
		config:  *config,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
	if p.config.ApplyTimeout <= 0 {
		p.config.ApplyTimeout = defaultApplyTimeout
	}
	if p.config.RetryBackoff <= 0 {
		p.config.RetryBackoff = defaultRetryBackoff
	}
	if p.logger == nil {
		p.logger = &NoopLogger{}
	}
	if p.metrics == nil {
		p.metrics = &NoopMetrics{}
	}
	if applier, ok := storage.(CreditApplier); ok {
		p.applier = applier
	}
	return p, nil
}

// Handle validates an event and, for payment.succeeded, credits the ledger.
//
// Errors wrap ErrMalformedEvent (terminal, acknowledge), ErrStoreUnavailable or
// ErrGatewayUnavailable (transient, let the provider redeliver).
func (p *Processor) Handle(ctx context.Context, ev *Event) (*Result, error) {
	start := time.Now()
	eventType := metricEventType(ev)

	res, err := p.handle(ctx, ev)

	outcome := outcomeError
	switch {
	case err == nil:
		outcome = string(res.Outcome)
	case errors.Is(err, ErrMalformedEvent):
		outcome = outcomeMalformed
		p.logger.Warn("webhook event rejected",
			Field{"event", eventType},
			Field{"error", err})
	default:
		p.logger.Error("webhook event failed",
			Field{"event", eventType},
			Field{"error", err})
	}

	p.metrics.RecordWebhookEvent(eventType, outcome)
	p.metrics.RecordWebhookProcessingDuration(eventType, time.Since(start))
	return res, err
}

func (p *Processor) handle(ctx context.Context, ev *Event) (*Result, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	eventType := strings.TrimSpace(ev.Event)
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}
	if ev.Object == nil {
		return nil, fmt.Errorf("%w: missing object", ErrMalformedEvent)
	}

	if eventType != EventPaymentSucceeded {
		p.logger.Debug("webhook event ignored",
			Field{"event", eventType},
			Field{"payment_id", ev.Object.ID})
		return &Result{Outcome: OutcomeIgnored, EventType: eventType}, nil
	}

	if status := strings.TrimSpace(ev.Object.Status); status != "" && status != PaymentStatusSucceeded {
		return nil, fmt.Errorf("%w: %s event carries status %q", ErrMalformedEvent, eventType, status)
	}

	credit, err := CreditFromObject(ev.Object)
	if err != nil {
		return nil, err
	}

	if p.config.Verify != nil {
		credit, err = p.verify(ctx, credit)
		if err != nil {
			return nil, err
		}
	}

	applied, err := p.apply(ctx, credit)
	if err != nil {
		return nil, err
	}

	if !applied {
		p.logger.Info("payment already credited",
			Field{"payment_id", credit.PaymentID},
			Field{"user_id", credit.UserID})
		return &Result{Outcome: OutcomeDuplicate, EventType: eventType, Credit: credit}, nil
	}

	p.metrics.RecordClicksCredited(credit.Clicks)
	p.logger.Info("payment credited",
		Field{"payment_id", credit.PaymentID},
		Field{"user_id", credit.UserID},
		Field{"username", credit.Username},
		Field{"clicks", credit.Clicks})
	return &Result{Outcome: OutcomeApplied, EventType: eventType, Credit: credit}, nil
}

// verify replaces the delivered credit with the one derived from the gateway's record
func (p *Processor) verify(ctx context.Context, delivered *Credit) (*Credit, error) {
	obj, err := p.config.Verify(ctx, delivered.PaymentID)
	if err != nil {
		if errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: payment %s not found at gateway", ErrMalformedEvent, delivered.PaymentID)
	}

	switch status := strings.TrimSpace(obj.Status); status {
	case PaymentStatusSucceeded:
	case "canceled":
		return nil, fmt.Errorf("%w: %w: gateway reports %q", ErrMalformedEvent, ErrPaymentNotSucceeded, status)
	default:
		// The gateway may lag behind its own notification; let the provider retry.
		return nil, fmt.Errorf("%w: %w: gateway reports %q", ErrGatewayUnavailable, ErrPaymentNotSucceeded, status)
	}

	verified, err := CreditFromObject(obj)
	if err != nil {
		return nil, err
	}
	if verified.PaymentID != delivered.PaymentID {
		return nil, fmt.Errorf("%w: gateway returned payment %s for %s",
			ErrMalformedEvent, verified.PaymentID, delivered.PaymentID)
	}
	return verified, nil
}

func (p *Processor) apply(ctx context.Context, credit *Credit) (bool, error) {
	if p.applier != nil {
		var applied bool
		err := p.timed("apply_credit", func() error {
			var e error
			applied, e = p.applier.ApplyCredit(ctx, credit)
			return e
		})
		if err != nil {
			return false, storeError(err)
		}
		return applied, nil
	}
	return p.applyStepwise(ctx, credit)
}

// applyStepwise sets the dedup marker first so replays can never double
// credit. The increments that follow are retried until ApplyTimeout; if they
// still fail the payment stays marked but not credited, which needs manual
// reconciliation.
func (p *Processor) applyStepwise(ctx context.Context, credit *Credit) (bool, error) {
	var marked bool
	err := p.timed("try_mark_processed", func() error {
		var e error
		marked, e = p.storage.TryMarkProcessed(ctx, credit.PaymentID)
		return e
	})
	if err != nil {
		return false, storeError(err)
	}
	if !marked {
		return false, nil
	}

	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.ApplyTimeout)
	defer cancel()

	if err := p.retry(applyCtx, "increment_balance", func() error {
		return p.storage.IncrementBalance(applyCtx, credit.UserID, credit.Clicks)
	}); err != nil {
		p.reportPartial(credit, "balance", err)
		return false, storeError(err)
	}

	if err := p.retry(applyCtx, "increment_global", func() error {
		return p.storage.IncrementGlobal(applyCtx, credit.Clicks)
	}); err != nil {
		p.reportPartial(credit, "global", err)
		return false, storeError(err)
	}

	return true, nil
}

// retry runs fn with exponential backoff until it succeeds, the store
// rejects the credit, or ctx expires. The last error is returned.
func (p *Processor) retry(ctx context.Context, operation string, fn func() error) error {
	backoff := p.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := p.timed(operation, fn)
		if err == nil || IsRejectedCredit(err) {
			return err
		}

		p.logger.Warn("ledger increment failed, retrying",
			Field{"operation", operation},
			Field{"attempt", attempt},
			Field{"error", err})

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (p *Processor) reportPartial(credit *Credit, stage string, err error) {
	p.logger.Error("payment marked processed but not fully credited; reconciliation required",
		Field{"payment_id", credit.PaymentID},
		Field{"user_id", credit.UserID},
		Field{"clicks", credit.Clicks},
		Field{"stage", stage},
		Field{"error", err})
}

// Balance reads the user's credited clicks and the global aggregate
func (p *Processor) Balance(ctx context.Context, userID string) (*Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidCredit
	}

	var clicks, global int64
	if err := p.timed("get_balance", func() error {
		var e error
		clicks, e = p.storage.GetBalance(ctx, userID)
		return e
	}); err != nil {
		return nil, storeError(err)
	}
	if err := p.timed("get_global", func() error {
		var e error
		global, e = p.storage.GetGlobal(ctx)
		return e
	}); err != nil {
		return nil, storeError(err)
	}

	return &Balance{UserID: userID, Clicks: clicks, Global: global}, nil
}

// Ping reports store health when the store supports it
func (p *Processor) Ping(ctx context.Context) error {
	pinger, ok := p.storage.(Pinger)
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return storeError(err)
	}
	return nil
}

func (p *Processor) timed(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.RecordStorageOperation(operation, time.Since(start), err)
	return err
}

// storeError classifies a store failure. Credits the store refused are
// terminal; everything else is reported as a transient outage.
func storeError(err error) error {
	if errors.Is(err, ErrMalformedEvent) {
		return err
	}
	if IsRejectedCredit(err) {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// metricEventType keeps the metrics label set bounded
func metricEventType(ev *Event) string {
	if ev == nil {
		return eventTypeOther
	}
	switch t := strings.TrimSpace(ev.Event); t {
	case EventPaymentSucceeded, EventPaymentWaitingForCapture, EventPaymentCanceled, EventRefundSucceeded:
		return t
	default:
		return eventTypeOther
	}
}
