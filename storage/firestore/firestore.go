// Package firestore provides a Firestore implementation of the clickpay.Storage interface.
// Document layout: players/{userId}.sc holds a player's clicks, counters/global.value the
// aggregate, and processed_payments/{paymentId} the dedup markers.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

const (
	balanceField = "sc"
	counterField = "value"

	maxDocIDBytes = 1500
)

// errAlreadyProcessed aborts a transaction whose payment marker already exists
var errAlreadyProcessed = errors.New("payment already processed")

// Storage implements clickpay.Storage and clickpay.CreditApplier using Google Cloud Firestore
type Storage struct {
	client              *firestore.Client
	playersCollection   string
	countersCollection  string
	processedCollection string
	globalCounterDoc    string
}

// Config holds Firestore storage configuration
type Config struct {
	// PlayersCollection holds one document per user with the credited clicks
	// Default: "players"
	PlayersCollection string

	// CountersCollection holds the global aggregate counter document
	// Default: "counters"
	CountersCollection string

	// ProcessedCollection holds one marker document per applied payment
	// Default: "processed_payments"
	ProcessedCollection string

	// GlobalCounterDoc is the document id of the aggregate counter
	// Default: "global"
	GlobalCounterDoc string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.PlayersCollection == "" {
		config.PlayersCollection = "players"
	}
	if config.CountersCollection == "" {
		config.CountersCollection = "counters"
	}
	if config.ProcessedCollection == "" {
		config.ProcessedCollection = "processed_payments"
	}
	if config.GlobalCounterDoc == "" {
		config.GlobalCounterDoc = "global"
	}

	return &Storage{
		client:              client,
		playersCollection:   config.PlayersCollection,
		countersCollection:  config.CountersCollection,
		processedCollection: config.ProcessedCollection,
		globalCounterDoc:    config.GlobalCounterDoc,
	}, nil
}

// ApplyCredit implements clickpay.CreditApplier with a single transaction
func (s *Storage) ApplyCredit(ctx context.Context, credit *clickpay.Credit) (bool, error) {
	if err := credit.Validate(); err != nil {
		return false, err
	}

	if err := validateDocIDs(credit.UserID, credit.PaymentID); err != nil {
		return false, err
	}

	markerDoc := s.processedDoc(credit.PaymentID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		// 1. Check the marker (all reads precede writes)
		snap, err := tx.Get(markerDoc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			return errAlreadyProcessed
		}

		now := time.Now().UTC()

		// 2. Credit the player
		player := map[string]interface{}{
			balanceField: firestore.Increment(credit.Clicks),
			"updatedAt":  now,
		}
		if credit.Username != "" {
			player["username"] = credit.Username
		}
		if err := tx.Set(s.playerDoc(credit.UserID), player, firestore.MergeAll); err != nil {
			return err
		}

		// 3. Credit the aggregate
		if err := tx.Set(s.globalDoc(), map[string]interface{}{
			counterField: firestore.Increment(credit.Clicks),
			"updatedAt":  now,
		}, firestore.MergeAll); err != nil {
			return err
		}

		// 4. Create the marker
		return tx.Create(markerDoc, map[string]interface{}{
			"paymentId":   credit.PaymentID,
			"userId":      credit.UserID,
			"clicks":      credit.Clicks,
			"processedAt": now,
		})
	})

	if errors.Is(err, errAlreadyProcessed) {
		return false, nil
	}
	if status.Code(err) == codes.InvalidArgument {
		return false, fmt.Errorf("%w: failed to apply credit: %w", clickpay.ErrInvalidCredit, err)
	}
	if err != nil {
		return false, fmt.Errorf("failed to apply credit: %w", err)
	}
	return true, nil
}

// TryMarkProcessed implements clickpay.Storage
func (s *Storage) TryMarkProcessed(ctx context.Context, paymentID string) (bool, error) {
	if err := validateDocIDs(paymentID); err != nil {
		return false, err
	}
	_, err := s.processedDoc(paymentID).Create(ctx, map[string]interface{}{
		"paymentId":   paymentID,
		"processedAt": time.Now().UTC(),
	})
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark payment processed: %w", err)
	}
	return true, nil
}

// IncrementBalance implements clickpay.Storage
func (s *Storage) IncrementBalance(ctx context.Context, userID string, amount int64) error {
	if err := validateDocIDs(userID); err != nil {
		return err
	}
	if amount < 0 {
		return clickpay.ErrInvalidAmount
	}
	_, err := s.playerDoc(userID).Set(ctx, map[string]interface{}{
		balanceField: firestore.Increment(amount),
		"updatedAt":  time.Now().UTC(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to increment balance: %w", err)
	}
	return nil
}

// IncrementGlobal implements clickpay.Storage
func (s *Storage) IncrementGlobal(ctx context.Context, amount int64) error {
	if amount < 0 {
		return clickpay.ErrInvalidAmount
	}
	_, err := s.globalDoc().Set(ctx, map[string]interface{}{
		counterField: firestore.Increment(amount),
		"updatedAt":  time.Now().UTC(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to increment global counter: %w", err)
	}
	return nil
}

// GetBalance implements clickpay.Storage
func (s *Storage) GetBalance(ctx context.Context, userID string) (int64, error) {
	// Such a player can never have been credited
	if validateDocIDs(userID) != nil {
		return 0, nil
	}
	return s.readCounter(ctx, s.playerDoc(userID), balanceField)
}

// GetGlobal implements clickpay.Storage
func (s *Storage) GetGlobal(ctx context.Context) (int64, error) {
	return s.readCounter(ctx, s.globalDoc(), counterField)
}

// IsProcessed implements clickpay.Storage
func (s *Storage) IsProcessed(ctx context.Context, paymentID string) (bool, error) {
	if validateDocIDs(paymentID) != nil {
		return false, nil
	}
	snap, err := s.processedDoc(paymentID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed payment: %w", err)
	}
	return snap.Exists(), nil
}

// Ping reads the aggregate counter document to confirm Firestore is reachable
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.globalDoc().Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

func (s *Storage) readCounter(ctx context.Context, doc *firestore.DocumentRef, field string) (int64, error) {
	snap, err := doc.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", doc.Path, err)
	}
	if !snap.Exists() {
		return 0, nil
	}
	return getInt64(snap.Data(), field), nil
}

func (s *Storage) playerDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.playersCollection).Doc(userID)
}

func (s *Storage) globalDoc() *firestore.DocumentRef {
	return s.client.Collection(s.countersCollection).Doc(s.globalCounterDoc)
}

func (s *Storage) processedDoc(paymentID string) *firestore.DocumentRef {
	return s.client.Collection(s.processedCollection).Doc(paymentID)
}

// validateDocIDs rejects ids Firestore cannot use as a single document id.
// CollectionRef.Doc does not check them, and a "/" would silently address a
// subcollection instead.
func validateDocIDs(ids ...string) error {
	for _, id := range ids {
		switch {
		case id == "", id == ".", id == "..":
		case strings.Contains(id, "/"):
		case len(id) > maxDocIDBytes:
		case len(id) >= 4 && strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__"):
		default:
			continue
		}
		return fmt.Errorf("%w: unusable document id %q", clickpay.ErrInvalidCredit, id)
	}
	return nil
}

// getInt64 converts a Firestore numeric field
func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}
