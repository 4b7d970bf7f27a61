package clickpay

import "context"

// Storage defines the ledger primitives the Processor is allowed to call.
// TryMarkProcessed must be linearizable across every process sharing the store.
type Storage interface {
	// TryMarkProcessed atomically adds paymentID to the processed set.
	// Returns true only if this call added it.
	TryMarkProcessed(ctx context.Context, paymentID string) (bool, error)

	// IncrementBalance adds amount to the user's credited clicks
	IncrementBalance(ctx context.Context, userID string, amount int64) error

	// IncrementGlobal adds amount to the global aggregate counter
	IncrementGlobal(ctx context.Context, amount int64) error

	// GetBalance returns the user's credited clicks (0 for unknown users)
	GetBalance(ctx context.Context, userID string) (int64, error)

	// GetGlobal returns the global aggregate counter
	GetGlobal(ctx context.Context) (int64, error)

	// IsProcessed reports whether paymentID is in the processed set
	IsProcessed(ctx context.Context, paymentID string) (bool, error)
}

// CreditApplier is implemented by stores that can apply a whole credit
// (dedup marker, user balance and global counter) in one atomic unit.
// The Processor prefers it over the individual primitives.
type CreditApplier interface {
	// ApplyCredit returns true if the credit was applied by this call and
	// false if the payment was already processed. On error nothing is applied.
	ApplyCredit(ctx context.Context, credit *Credit) (bool, error)
}

// Pinger is implemented by stores that can report their own health
type Pinger interface {
	Ping(ctx context.Context) error
}
