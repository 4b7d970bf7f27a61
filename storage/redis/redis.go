// Package redis provides a Redis implementation of the clickpay.Storage interface.
// Credits are applied atomically via a Lua script.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

const defaultKeyPrefix = "clickpay:"

// Storage implements clickpay.Storage and clickpay.CreditApplier using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "clickpay:").
	// On Redis Cluster use a hash tag, e.g. "{clickpay}:", so the credit
	// script's keys share one slot.
	KeyPrefix string

	// ProcessedTTL expires processed-payment markers (0 = keep forever).
	// Redeliveries arriving after the TTL would be credited again.
	ProcessedTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:    defaultKeyPrefix,
		ProcessedTTL: 0,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	if config.ProcessedTTL < 0 {
		return nil, fmt.Errorf("processed TTL must be non-negative")
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

func (s *Storage) loadScripts() {
	// KEYS: marker, balances hash, global counter, usernames hash
	// ARGV: marker value, user id, clicks, username, marker ttl (ms)
	// Returns 1 if applied, 0 if already processed, -1 if a counter would
	// pass 2^53-1, the largest integer a Lua number holds exactly.
	s.scripts["applyCredit"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end

		local clicks = tonumber(ARGV[3])
		local limit = 9007199254740991
		local balance = tonumber(redis.call('HGET', KEYS[2], ARGV[2]) or '0')
		local global = tonumber(redis.call('GET', KEYS[3]) or '0')
		if balance > limit - clicks or global > limit - clicks then
			return -1
		end

		local ttl = tonumber(ARGV[5])
		if ttl > 0 then
			redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
		else
			redis.call('SET', KEYS[1], ARGV[1])
		end
		redis.call('HINCRBY', KEYS[2], ARGV[2], ARGV[3])
		redis.call('INCRBY', KEYS[3], ARGV[3])
		if ARGV[4] ~= '' then
			redis.call('HSET', KEYS[4], ARGV[2], ARGV[4])
		end
		return 1
	`)
}

type markerRecord struct {
	UserID    string    `json:"userId,omitempty"`
	Clicks    int64     `json:"clicks,omitempty"`
	Processed time.Time `json:"processedAt"`
}

// ApplyCredit implements clickpay.CreditApplier
func (s *Storage) ApplyCredit(ctx context.Context, credit *clickpay.Credit) (bool, error) {
	if err := credit.Validate(); err != nil {
		return false, err
	}

	marker, err := json.Marshal(markerRecord{
		UserID:    credit.UserID,
		Clicks:    credit.Clicks,
		Processed: time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal marker: %w", err)
	}

	keys := []string{
		s.processedKey(credit.PaymentID),
		s.balancesKey(),
		s.globalKey(),
		s.usernamesKey(),
	}
	applied, err := s.scripts["applyCredit"].Run(ctx, s.client, keys,
		string(marker), credit.UserID, credit.Clicks, credit.Username, s.config.ProcessedTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to execute apply credit script: %w", err)
	}
	if applied < 0 {
		return false, clickpay.ErrCounterOverflow
	}
	return applied == 1, nil
}

// TryMarkProcessed implements clickpay.Storage
func (s *Storage) TryMarkProcessed(ctx context.Context, paymentID string) (bool, error) {
	if paymentID == "" {
		return false, clickpay.ErrInvalidCredit
	}
	marker, err := json.Marshal(markerRecord{Processed: time.Now().UTC()})
	if err != nil {
		return false, fmt.Errorf("failed to marshal marker: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.processedKey(paymentID), marker, s.config.ProcessedTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set processed marker: %w", err)
	}
	return ok, nil
}

// IncrementBalance implements clickpay.Storage
func (s *Storage) IncrementBalance(ctx context.Context, userID string, amount int64) error {
	if userID == "" {
		return clickpay.ErrInvalidCredit
	}
	if amount < 0 {
		return clickpay.ErrInvalidAmount
	}
	if err := s.client.HIncrBy(ctx, s.balancesKey(), userID, amount).Err(); err != nil {
		return fmt.Errorf("failed to increment balance: %w", overflowError(err))
	}
	return nil
}

// IncrementGlobal implements clickpay.Storage
func (s *Storage) IncrementGlobal(ctx context.Context, amount int64) error {
	if amount < 0 {
		return clickpay.ErrInvalidAmount
	}
	if err := s.client.IncrBy(ctx, s.globalKey(), amount).Err(); err != nil {
		return fmt.Errorf("failed to increment global counter: %w", overflowError(err))
	}
	return nil
}

// GetBalance implements clickpay.Storage
func (s *Storage) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.client.HGet(ctx, s.balancesKey(), userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// GetGlobal implements clickpay.Storage
func (s *Storage) GetGlobal(ctx context.Context) (int64, error) {
	global, err := s.client.Get(ctx, s.globalKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get global counter: %w", err)
	}
	return global, nil
}

// IsProcessed implements clickpay.Storage
func (s *Storage) IsProcessed(ctx context.Context, paymentID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.processedKey(paymentID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed marker: %w", err)
	}
	return n == 1, nil
}

// Username returns the last display name recorded with a credit for userID
func (s *Storage) Username(ctx context.Context, userID string) (string, error) {
	name, err := s.client.HGet(ctx, s.usernamesKey(), userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get username: %w", err)
	}
	return name, nil
}

// overflowError maps the server's "increment or decrement would overflow"
// reply to clickpay.ErrCounterOverflow
func overflowError(err error) error {
	if strings.Contains(err.Error(), "would overflow") {
		return fmt.Errorf("%w: %w", clickpay.ErrCounterOverflow, err)
	}
	return err
}

func (s *Storage) processedKey(paymentID string) string {
	return fmt.Sprintf("%sprocessed:%s", s.config.KeyPrefix, paymentID)
}

func (s *Storage) balancesKey() string {
	return s.config.KeyPrefix + "balances"
}

func (s *Storage) usernamesKey() string {
	return s.config.KeyPrefix + "usernames"
}

func (s *Storage) globalKey() string {
	return s.config.KeyPrefix + "global"
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
