// Package memory provides an in-memory implementation of the clickpay.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sync"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

// Storage implements clickpay.Storage and clickpay.CreditApplier using in-memory maps
type Storage struct {
	mu        sync.RWMutex
	balances  map[string]int64
	processed map[string]struct{}
	global    int64
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		balances:  make(map[string]int64),
		processed: make(map[string]struct{}),
	}
}

// TryMarkProcessed implements clickpay.Storage
func (s *Storage) TryMarkProcessed(_ context.Context, paymentID string) (bool, error) {
	if paymentID == "" {
		return false, clickpay.ErrInvalidCredit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[paymentID]; ok {
		return false, nil
	}
	s.processed[paymentID] = struct{}{}
	return true, nil
}

// IncrementBalance implements clickpay.Storage
func (s *Storage) IncrementBalance(_ context.Context, userID string, amount int64) error {
	if amount < 0 {
		return clickpay.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if clickpay.AddWouldOverflow(s.balances[userID], amount) {
		return clickpay.ErrCounterOverflow
	}
	s.balances[userID] += amount
	return nil
}

// IncrementGlobal implements clickpay.Storage
func (s *Storage) IncrementGlobal(_ context.Context, amount int64) error {
	if amount < 0 {
		return clickpay.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if clickpay.AddWouldOverflow(s.global, amount) {
		return clickpay.ErrCounterOverflow
	}
	s.global += amount
	return nil
}

// ApplyCredit implements clickpay.CreditApplier
func (s *Storage) ApplyCredit(_ context.Context, credit *clickpay.Credit) (bool, error) {
	if err := credit.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[credit.PaymentID]; ok {
		return false, nil
	}
	if clickpay.AddWouldOverflow(s.balances[credit.UserID], credit.Clicks) ||
		clickpay.AddWouldOverflow(s.global, credit.Clicks) {
		return false, clickpay.ErrCounterOverflow
	}
	s.processed[credit.PaymentID] = struct{}{}
	s.balances[credit.UserID] += credit.Clicks
	s.global += credit.Clicks
	return true, nil
}

// GetBalance implements clickpay.Storage
func (s *Storage) GetBalance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[userID], nil
}

// GetGlobal implements clickpay.Storage
func (s *Storage) GetGlobal(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.global, nil
}

// IsProcessed implements clickpay.Storage
func (s *Storage) IsProcessed(_ context.Context, paymentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processed[paymentID]
	return ok, nil
}

// Ping implements clickpay.Pinger
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// Balances returns a copy of every user balance (useful for invariant checks)
func (s *Storage) Balances() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances = make(map[string]int64)
	s.processed = make(map[string]struct{})
	s.global = 0
}
