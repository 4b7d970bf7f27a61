package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/clickpay/internal/config"
	"github.com/mihaimyh/clickpay/pkg/clickpay"
	firestorestore "github.com/mihaimyh/clickpay/storage/firestore"
	"github.com/mihaimyh/clickpay/storage/memory"
	postgresstore "github.com/mihaimyh/clickpay/storage/postgres"
	redisstore "github.com/mihaimyh/clickpay/storage/redis"
)

// openLedger connects the configured ledger backend. The returned func
// releases its connections.
func openLedger(ctx context.Context, cfg *config.Config, logger clickpay.Logger) (clickpay.Storage, func(), error) {
	switch cfg.LedgerBackend {
	case "memory":
		logger.Warn("using in-memory ledger; balances are lost on restart")
		return memory.New(), func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		storeConfig := redisstore.DefaultConfig()
		storeConfig.KeyPrefix = cfg.Redis.KeyPrefix
		store, err := redisstore.New(client, storeConfig)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		storeConfig := postgresstore.DefaultConfig()
		storeConfig.ConnectionString = cfg.PostgresDSN
		store, err := postgresstore.New(ctx, storeConfig)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		store, err := firestorestore.New(client, firestorestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
