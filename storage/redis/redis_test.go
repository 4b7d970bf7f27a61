package redis

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func setupStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := New(setupTestRedis(t), DefaultConfig())
	require.NoError(t, err)
	return storage
}

func TestNew(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	storage, err := New(client, Config{})
	require.NoError(t, err)
	assert.Equal(t, "clickpay:", storage.config.KeyPrefix)
	assert.Equal(t, "clickpay:processed:pay_1", storage.processedKey("pay_1"))

	_, err = New(client, Config{ProcessedTTL: -time.Second})
	assert.Error(t, err)
}

func TestStorage_ApplyCredit(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()
	credit := &clickpay.Credit{PaymentID: "pay_1", UserID: "u1", Username: "alice", Clicks: 10}

	applied, err := storage.ApplyCredit(ctx, credit)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = storage.ApplyCredit(ctx, credit)
	require.NoError(t, err)
	assert.False(t, applied)

	balance, err := storage.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	global, err := storage.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), global)

	processed, err := storage.IsProcessed(ctx, "pay_1")
	require.NoError(t, err)
	assert.True(t, processed)

	name, err := storage.Username(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	_, err = storage.ApplyCredit(ctx, &clickpay.Credit{PaymentID: "pay_2", UserID: "u1", Clicks: -1})
	assert.ErrorIs(t, err, clickpay.ErrInvalidAmount)
}

func TestStorage_ApplyCreditRefusesOverflow(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.IncrementBalance(ctx, "u1", 9007199254740991-5))

	applied, err := storage.ApplyCredit(ctx, &clickpay.Credit{PaymentID: "pay_1", UserID: "u1", Clicks: 10})
	assert.ErrorIs(t, err, clickpay.ErrCounterOverflow)
	assert.False(t, applied)

	processed, err := storage.IsProcessed(ctx, "pay_1")
	require.NoError(t, err)
	assert.False(t, processed, "refused credit must not leave a marker")

	global, err := storage.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Zero(t, global)

	require.NoError(t, storage.IncrementGlobal(ctx, math.MaxInt64))
	assert.ErrorIs(t, storage.IncrementGlobal(ctx, 1), clickpay.ErrCounterOverflow)
}

func TestStorage_ApplyCreditConcurrent(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := storage.ApplyCredit(ctx, &clickpay.Credit{
				PaymentID: fmt.Sprintf("pay_%d", i%8),
				UserID:    fmt.Sprintf("u%d", i%8%3),
				Clicks:    int64(i%8 + 1),
			})
			assert.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(8), applied.Load())

	var sum int64
	for u := 0; u < 3; u++ {
		b, err := storage.GetBalance(ctx, fmt.Sprintf("u%d", u))
		require.NoError(t, err)
		sum += b
	}
	global, err := storage.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(36), global)
	assert.Equal(t, global, sum)
}

func TestStorage_Primitives(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	marked, err := storage.TryMarkProcessed(ctx, "pay_1")
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = storage.TryMarkProcessed(ctx, "pay_1")
	require.NoError(t, err)
	assert.False(t, marked)

	require.NoError(t, storage.IncrementBalance(ctx, "u1", 4))
	require.NoError(t, storage.IncrementGlobal(ctx, 4))

	balance, err := storage.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance)

	unknown, err := storage.GetBalance(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, unknown)

	assert.ErrorIs(t, storage.IncrementBalance(ctx, "u1", -1), clickpay.ErrInvalidAmount)
	assert.ErrorIs(t, storage.IncrementGlobal(ctx, -1), clickpay.ErrInvalidAmount)
	_, err = storage.TryMarkProcessed(ctx, "")
	assert.ErrorIs(t, err, clickpay.ErrInvalidCredit)
}

func TestStorage_ProcessedTTL(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, Config{ProcessedTTL: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.ApplyCredit(ctx, &clickpay.Credit{PaymentID: "pay_ttl", UserID: "u1", Clicks: 1})
	require.NoError(t, err)

	ttl, err := client.PTTL(ctx, storage.processedKey("pay_ttl")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestStorage_WithProcessor(t *testing.T) {
	storage := setupStorage(t)
	processor, err := clickpay.NewProcessor(storage, nil)
	require.NoError(t, err)
	ctx := context.Background()

	ev, err := clickpay.ParseEvent([]byte(`{"event":"payment.succeeded","object":{"id":"pay_1","status":"succeeded","metadata":{"userId":"u1","clicks":"10","username":"alice"}}}`))
	require.NoError(t, err)

	res, err := processor.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, clickpay.OutcomeApplied, res.Outcome)

	res, err = processor.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, clickpay.OutcomeDuplicate, res.Outcome)

	balance, err := processor.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &clickpay.Balance{UserID: "u1", Clicks: 10, Global: 10}, balance)

	require.NoError(t, processor.Ping(ctx))
}
