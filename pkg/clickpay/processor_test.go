package clickpay_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
	"github.com/mihaimyh/clickpay/storage/memory"
)

// stepwiseStore hides ApplyCredit so the Processor falls back to the primitives
type stepwiseStore struct {
	clickpay.Storage
	markErr    error
	balanceErr error
	globalErr  error

	// balanceFailures and globalFailures fail that many calls with a
	// transient error before delegating
	balanceFailures atomic.Int32
	globalFailures  atomic.Int32
}

func (s *stepwiseStore) TryMarkProcessed(ctx context.Context, paymentID string) (bool, error) {
	if s.markErr != nil {
		return false, s.markErr
	}
	return s.Storage.TryMarkProcessed(ctx, paymentID)
}

func (s *stepwiseStore) IncrementBalance(ctx context.Context, userID string, amount int64) error {
	if s.balanceErr != nil {
		return s.balanceErr
	}
	if s.balanceFailures.Add(-1) >= 0 {
		return errors.New("transient balance failure")
	}
	return s.Storage.IncrementBalance(ctx, userID, amount)
}

func (s *stepwiseStore) IncrementGlobal(ctx context.Context, amount int64) error {
	if s.globalErr != nil {
		return s.globalErr
	}
	if s.globalFailures.Add(-1) >= 0 {
		return errors.New("transient global failure")
	}
	return s.Storage.IncrementGlobal(ctx, amount)
}

// failingApplier fails every atomic apply
type failingApplier struct {
	*memory.Storage
	err error
}

func (f *failingApplier) ApplyCredit(_ context.Context, _ *clickpay.Credit) (bool, error) {
	return false, f.err
}

type recordingMetrics struct {
	clickpay.NoopMetrics
	mu       sync.Mutex
	outcomes map[string]int
	credited int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: make(map[string]int)}
}

func (m *recordingMetrics) RecordWebhookEvent(eventType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[eventType+"/"+outcome]++
}

func (m *recordingMetrics) RecordClicksCredited(clicks int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credited += clicks
}

func succeededEvent(paymentID, userID string, clicks any) *clickpay.Event {
	body := fmt.Sprintf(`{"type":"notification","event":"payment.succeeded","object":{"id":%q,"status":"succeeded","paid":true,"metadata":{"userId":%q,"clicks":%v,"username":"alice"}}}`,
		paymentID, userID, clicks)
	ev, err := clickpay.ParseEvent([]byte(body))
	if err != nil {
		panic(err)
	}
	return ev
}

func newProcessor(t *testing.T, storage clickpay.Storage, config *clickpay.Config) *clickpay.Processor {
	t.Helper()
	p, err := clickpay.NewProcessor(storage, config)
	require.NoError(t, err)
	return p
}

func assertLedger(t *testing.T, store *memory.Storage, userID string, want int64) {
	t.Helper()
	ctx := context.Background()

	balance, err := store.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, want, balance)

	var sum int64
	for _, v := range store.Balances() {
		sum += v
	}
	global, err := store.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum, global, "global must equal the sum of balances")
}

func TestNewProcessor_NilStorage(t *testing.T) {
	_, err := clickpay.NewProcessor(nil, nil)
	assert.ErrorIs(t, err, clickpay.ErrStoreUnavailable)
}

func TestProcessor_AppliesOnce(t *testing.T) {
	store := memory.New()
	metrics := newRecordingMetrics()
	p := newProcessor(t, store, &clickpay.Config{Metrics: metrics})
	ctx := context.Background()

	ev := succeededEvent("pay_1", "u1", 10)

	res, err := p.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, clickpay.OutcomeApplied, res.Outcome)
	assert.Equal(t, "pay_1", res.Credit.PaymentID)
	assert.Equal(t, "alice", res.Credit.Username)
	assertLedger(t, store, "u1", 10)

	res, err = p.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, clickpay.OutcomeDuplicate, res.Outcome)
	assertLedger(t, store, "u1", 10)

	global, _ := store.GetGlobal(ctx)
	assert.Equal(t, int64(10), global)

	assert.Equal(t, 1, metrics.outcomes["payment.succeeded/applied"])
	assert.Equal(t, 1, metrics.outcomes["payment.succeeded/duplicate"])
	assert.Equal(t, int64(10), metrics.credited)
}

func TestProcessor_StringClicks(t *testing.T) {
	store := memory.New()
	p := newProcessor(t, store, nil)

	res, err := p.Handle(context.Background(), succeededEvent("pay_1", "u1", `"25"`))
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Credit.Clicks)
	assertLedger(t, store, "u1", 25)
}

func TestProcessor_ConcurrentDeliveries(t *testing.T) {
	tests := []struct {
		name  string
		store func(*memory.Storage) clickpay.Storage
	}{
		{"atomic", func(m *memory.Storage) clickpay.Storage { return m }},
		{"stepwise", func(m *memory.Storage) clickpay.Storage { return &stepwiseStore{Storage: m} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			p := newProcessor(t, tt.store(store), nil)
			ctx := context.Background()

			const n = 64
			var wg sync.WaitGroup
			var applied, duplicates atomic.Int32
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := p.Handle(ctx, succeededEvent("pay_race", "u1", 7))
					if !assert.NoError(t, err) {
						return
					}
					switch res.Outcome {
					case clickpay.OutcomeApplied:
						applied.Add(1)
					case clickpay.OutcomeDuplicate:
						duplicates.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), applied.Load())
			assert.Equal(t, int32(n-1), duplicates.Load())
			assertLedger(t, store, "u1", 7)
		})
	}
}

func TestProcessor_GlobalMatchesSumOfBalances(t *testing.T) {
	store := memory.New()
	p := newProcessor(t, store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Handle(ctx, succeededEvent(fmt.Sprintf("pay_%d", i%40), fmt.Sprintf("u%d", i%40%7), i%40))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var sum int64
	for _, v := range store.Balances() {
		sum += v
	}
	global, err := store.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum, global)
	// 0 + 1 + ... + 39
	assert.Equal(t, int64(780), global)
}

func TestProcessor_IgnoresOtherEvents(t *testing.T) {
	store := memory.New()
	metrics := newRecordingMetrics()
	p := newProcessor(t, store, &clickpay.Config{Metrics: metrics})
	ctx := context.Background()

	for _, eventType := range []string{
		clickpay.EventPaymentCanceled,
		clickpay.EventPaymentWaitingForCapture,
		clickpay.EventRefundSucceeded,
		"payment.something_new",
	} {
		t.Run(eventType, func(t *testing.T) {
			ev := succeededEvent("pay_"+eventType, "u1", 10)
			ev.Event = eventType

			res, err := p.Handle(ctx, ev)
			require.NoError(t, err)
			assert.Equal(t, clickpay.OutcomeIgnored, res.Outcome)
			assert.Nil(t, res.Credit)
		})
	}

	assertLedger(t, store, "u1", 0)
	processed, _ := store.IsProcessed(ctx, "pay_payment.canceled")
	assert.False(t, processed)
	assert.Equal(t, 1, metrics.outcomes["payment.canceled/ignored"])
	assert.Equal(t, 1, metrics.outcomes["other/ignored"])
}

func TestProcessor_MalformedEvents(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing clicks", `{"event":"payment.succeeded","object":{"id":"pay_1","metadata":{"userId":"u1"}}}`},
		{"missing userId", `{"event":"payment.succeeded","object":{"id":"pay_1","metadata":{"clicks":10}}}`},
		{"empty userId", `{"event":"payment.succeeded","object":{"id":"pay_1","metadata":{"userId":"  ","clicks":10}}}`},
		{"negative clicks", `{"event":"payment.succeeded","object":{"id":"pay_1","metadata":{"userId":"u1","clicks":-5}}}`},
		{"fractional clicks", `{"event":"payment.succeeded","object":{"id":"pay_1","metadata":{"userId":"u1","clicks":2.5}}}`},
		{"non-numeric clicks", `{"event":"payment.succeeded","object":{"id":"pay_1","metadata":{"userId":"u1","clicks":"ten"}}}`},
		{"clicks above maximum", `{"event":"payment.succeeded","object":{"id":"pay_1","metadata":{"userId":"u1","clicks":1000000001}}}`},
		{"clicks at int64 max", `{"event":"payment.succeeded","object":{"id":"pay_1","metadata":{"userId":"u1","clicks":"9223372036854775807"}}}`},
		{"missing payment id", `{"event":"payment.succeeded","object":{"metadata":{"userId":"u1","clicks":10}}}`},
		{"missing object", `{"event":"payment.succeeded"}`},
		{"missing event type", `{"object":{"id":"pay_1","metadata":{"userId":"u1","clicks":10}}}`},
		{"status mismatch", `{"event":"payment.succeeded","object":{"id":"pay_1","status":"pending","metadata":{"userId":"u1","clicks":10}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			p := newProcessor(t, store, nil)
			ctx := context.Background()

			ev, err := clickpay.ParseEvent([]byte(tt.body))
			require.NoError(t, err)

			res, err := p.Handle(ctx, ev)
			assert.ErrorIs(t, err, clickpay.ErrMalformedEvent)
			assert.Nil(t, res)

			assertLedger(t, store, "u1", 0)
			processed, _ := store.IsProcessed(ctx, "pay_1")
			assert.False(t, processed)
		})
	}
}

func TestProcessor_NilEvent(t *testing.T) {
	p := newProcessor(t, memory.New(), nil)
	_, err := p.Handle(context.Background(), nil)
	assert.ErrorIs(t, err, clickpay.ErrMalformedEvent)
}

func TestProcessor_StoreUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	store := memory.New()
	p := newProcessor(t, &failingApplier{Storage: store, err: boom}, nil)
	ctx := context.Background()

	_, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
	assert.ErrorIs(t, err, clickpay.ErrStoreUnavailable)
	assert.ErrorIs(t, err, boom)

	processed, _ := store.IsProcessed(ctx, "pay_1")
	assert.False(t, processed, "a failed apply must not mark the payment")
	assertLedger(t, store, "u1", 0)
}

func TestProcessor_StepwiseFailures(t *testing.T) {
	boom := errors.New("timeout")

	t.Run("mark fails", func(t *testing.T) {
		store := memory.New()
		p := newProcessor(t, &stepwiseStore{Storage: store, markErr: boom}, nil)

		_, err := p.Handle(context.Background(), succeededEvent("pay_1", "u1", 10))
		assert.ErrorIs(t, err, clickpay.ErrStoreUnavailable)

		processed, _ := store.IsProcessed(context.Background(), "pay_1")
		assert.False(t, processed)
		assertLedger(t, store, "u1", 0)
	})

	t.Run("transient increment errors are retried", func(t *testing.T) {
		store := memory.New()
		stepwise := &stepwiseStore{Storage: store}
		stepwise.balanceFailures.Store(2)
		stepwise.globalFailures.Store(1)
		p := newProcessor(t, stepwise, &clickpay.Config{RetryBackoff: time.Millisecond})
		ctx := context.Background()

		res, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
		require.NoError(t, err)
		assert.Equal(t, clickpay.OutcomeApplied, res.Outcome)
		assertLedger(t, store, "u1", 10)

		res, err = p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
		require.NoError(t, err)
		assert.Equal(t, clickpay.OutcomeDuplicate, res.Outcome)
		assertLedger(t, store, "u1", 10)
	})

	t.Run("balance keeps failing after mark", func(t *testing.T) {
		store := memory.New()
		stepwise := &stepwiseStore{Storage: store, balanceErr: boom}
		p := newProcessor(t, stepwise, &clickpay.Config{
			ApplyTimeout: 20 * time.Millisecond,
			RetryBackoff: time.Millisecond,
		})
		ctx := context.Background()

		_, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
		assert.ErrorIs(t, err, clickpay.ErrStoreUnavailable)
		assert.ErrorIs(t, err, boom)

		// The marker stays set so a redelivery can never double credit
		processed, _ := store.IsProcessed(ctx, "pay_1")
		assert.True(t, processed)

		stepwise.balanceErr = nil
		res, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
		require.NoError(t, err)
		assert.Equal(t, clickpay.OutcomeDuplicate, res.Outcome)
		assertLedger(t, store, "u1", 0)
	})

	t.Run("overflow is not retried", func(t *testing.T) {
		store := memory.New()
		require.NoError(t, store.IncrementBalance(context.Background(), "u1", math.MaxInt64))
		p := newProcessor(t, &stepwiseStore{Storage: store}, &clickpay.Config{ApplyTimeout: time.Hour})

		_, err := p.Handle(context.Background(), succeededEvent("pay_1", "u1", 10))
		assert.ErrorIs(t, err, clickpay.ErrMalformedEvent)
		assert.ErrorIs(t, err, clickpay.ErrCounterOverflow)
	})

	t.Run("increments survive caller cancellation", func(t *testing.T) {
		store := memory.New()
		p := newProcessor(t, &stepwiseStore{Storage: store}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 3))
		require.NoError(t, err)
		assert.Equal(t, clickpay.OutcomeApplied, res.Outcome)
		assertLedger(t, store, "u1", 3)
	})
}

func TestProcessor_LargeCreditsCannotWrapLedger(t *testing.T) {
	store := memory.New()
	p := newProcessor(t, store, nil)
	ctx := context.Background()

	for _, id := range []string{"pay_0", "pay_1"} {
		_, err := p.Handle(ctx, succeededEvent(id, "u1", `"9223372036854775807"`))
		assert.ErrorIs(t, err, clickpay.ErrMalformedEvent)
	}
	assertLedger(t, store, "u1", 0)

	res, err := p.Handle(ctx, succeededEvent("pay_2", "u1", clickpay.MaxClicks))
	require.NoError(t, err)
	assert.Equal(t, clickpay.OutcomeApplied, res.Outcome)
	assertLedger(t, store, "u1", clickpay.MaxClicks)
}

func TestProcessor_CounterOverflowIsTerminal(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.IncrementBalance(ctx, "u1", math.MaxInt64-5))
	require.NoError(t, store.IncrementGlobal(ctx, math.MaxInt64-5))

	cb := clickpay.NewDefaultCircuitBreaker(clickpay.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	p := newProcessor(t, clickpay.NewCircuitBreakerStorage(store, cb), nil)

	for i := 0; i < 3; i++ {
		res, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
		assert.ErrorIs(t, err, clickpay.ErrMalformedEvent)
		assert.ErrorIs(t, err, clickpay.ErrCounterOverflow)
		assert.NotErrorIs(t, err, clickpay.ErrStoreUnavailable)
		assert.Nil(t, res)
	}
	assert.Equal(t, clickpay.StateClosed, cb.State(), "refused credits must not open the breaker")

	processed, _ := store.IsProcessed(ctx, "pay_1")
	assert.False(t, processed)
	balance, _ := store.GetBalance(ctx, "u1")
	assert.Equal(t, int64(math.MaxInt64-5), balance)
}

func TestProcessor_Verify(t *testing.T) {
	gatewayRecord := func(id, status string, clicks int) *clickpay.PaymentObject {
		obj := succeededEvent(id, "u1", clicks).Object
		obj.Status = status
		return obj
	}

	tests := []struct {
		name       string
		verify     clickpay.VerifyFunc
		wantErr    error
		wantClicks int64
	}{
		{
			name: "gateway confirms and its metadata wins",
			verify: func(_ context.Context, id string) (*clickpay.PaymentObject, error) {
				return gatewayRecord(id, "succeeded", 4), nil
			},
			wantClicks: 4,
		},
		{
			name: "gateway unreachable",
			verify: func(_ context.Context, _ string) (*clickpay.PaymentObject, error) {
				return nil, errors.New("dial tcp: i/o timeout")
			},
			wantErr: clickpay.ErrGatewayUnavailable,
		},
		{
			name: "payment still pending",
			verify: func(_ context.Context, id string) (*clickpay.PaymentObject, error) {
				return gatewayRecord(id, "pending", 4), nil
			},
			wantErr: clickpay.ErrGatewayUnavailable,
		},
		{
			name: "payment canceled",
			verify: func(_ context.Context, id string) (*clickpay.PaymentObject, error) {
				return gatewayRecord(id, "canceled", 4), nil
			},
			wantErr: clickpay.ErrMalformedEvent,
		},
		{
			name: "payment unknown",
			verify: func(_ context.Context, _ string) (*clickpay.PaymentObject, error) {
				return nil, nil
			},
			wantErr: clickpay.ErrMalformedEvent,
		},
		{
			name: "gateway returns another payment",
			verify: func(_ context.Context, _ string) (*clickpay.PaymentObject, error) {
				return gatewayRecord("pay_other", "succeeded", 4), nil
			},
			wantErr: clickpay.ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			p := newProcessor(t, store, &clickpay.Config{Verify: tt.verify})

			res, err := p.Handle(context.Background(), succeededEvent("pay_1", "u1", 10))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assertLedger(t, store, "u1", 0)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantClicks, res.Credit.Clicks)
			assertLedger(t, store, "u1", tt.wantClicks)
		})
	}
}

func TestProcessor_Balance(t *testing.T) {
	store := memory.New()
	p := newProcessor(t, store, nil)
	ctx := context.Background()

	_, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
	require.NoError(t, err)
	_, err = p.Handle(ctx, succeededEvent("pay_2", "u2", 5))
	require.NoError(t, err)

	balance, err := p.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &clickpay.Balance{UserID: "u1", Clicks: 10, Global: 15}, balance)

	balance, err = p.Balance(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, balance.Clicks)
	assert.Equal(t, int64(15), balance.Global)

	_, err = p.Balance(ctx, " ")
	assert.ErrorIs(t, err, clickpay.ErrInvalidCredit)
}

func TestProcessor_CircuitBreakerOpens(t *testing.T) {
	boom := errors.New("redis down")
	store := memory.New()
	cb := clickpay.NewDefaultCircuitBreaker(clickpay.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	p := newProcessor(t, clickpay.NewCircuitBreakerStorage(&failingApplier{Storage: store, err: boom}, cb), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
		assert.ErrorIs(t, err, boom)
	}

	_, err := p.Handle(ctx, succeededEvent("pay_1", "u1", 10))
	assert.ErrorIs(t, err, clickpay.ErrStoreUnavailable)
	assert.ErrorIs(t, err, clickpay.ErrCircuitOpen)
	assert.Equal(t, clickpay.StateOpen, cb.State())
}

func TestProcessor_Ping(t *testing.T) {
	p := newProcessor(t, memory.New(), nil)
	assert.NoError(t, p.Ping(context.Background()))
}
