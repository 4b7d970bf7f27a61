package clickpay

import "context"

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// circuitBreakerApplier additionally forwards ApplyCredit when the wrapped
// store supports atomic application.
type circuitBreakerApplier struct {
	*CircuitBreakerStorage
	applier CreditApplier
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
// The returned Storage implements CreditApplier and Pinger exactly when the
// wrapped store does.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) Storage {
	base := &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
	if applier, ok := storage.(CreditApplier); ok {
		return &circuitBreakerApplier{CircuitBreakerStorage: base, applier: applier}
	}
	return base
}

func (s *CircuitBreakerStorage) TryMarkProcessed(ctx context.Context, paymentID string) (bool, error) {
	var marked bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		marked, e = s.storage.TryMarkProcessed(ctx, paymentID)
		return e
	})
	return marked, err
}

func (s *CircuitBreakerStorage) IncrementBalance(ctx context.Context, userID string, amount int64) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.IncrementBalance(ctx, userID, amount)
	})
}

func (s *CircuitBreakerStorage) IncrementGlobal(ctx context.Context, amount int64) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.IncrementGlobal(ctx, amount)
	})
}

func (s *CircuitBreakerStorage) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.cb.Execute(ctx, func() error {
		var e error
		balance, e = s.storage.GetBalance(ctx, userID)
		return e
	})
	return balance, err
}

func (s *CircuitBreakerStorage) GetGlobal(ctx context.Context) (int64, error) {
	var global int64
	err := s.cb.Execute(ctx, func() error {
		var e error
		global, e = s.storage.GetGlobal(ctx)
		return e
	})
	return global, err
}

func (s *CircuitBreakerStorage) IsProcessed(ctx context.Context, paymentID string) (bool, error) {
	var processed bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		processed, e = s.storage.IsProcessed(ctx, paymentID)
		return e
	})
	return processed, err
}

// Ping bypasses the breaker so readiness reflects the real backend.
func (s *CircuitBreakerStorage) Ping(ctx context.Context) error {
	if p, ok := s.storage.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *circuitBreakerApplier) ApplyCredit(ctx context.Context, credit *Credit) (bool, error) {
	var applied bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		applied, e = s.applier.ApplyCredit(ctx, credit)
		return e
	})
	return applied, err
}
