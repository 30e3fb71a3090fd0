// Package store defines the interfaces for the persistence used by the scanner and publisher microservices: a
// shared key-value store for cursors and usage counters, and a database for transaction watch entries.
package store

import (
	"context"
	"errors"
	"time"
)

// KV is the shared key-value store. Values are strings; numeric values are stored in decimal.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error
	// IncrBy adds n to the integer at key, creating it at 0 first, and sets its ttl. Returns the new value.
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
}

// DB defines required methods for the transaction watch entries written by the publisher.
type DB interface {
	AddTxWatch(ctx context.Context, e TxWatchEntry) error
	GetTxWatch(ctx context.Context, txHash string) (TxWatchEntry, error)
	RemoveTxWatch(ctx context.Context, txHash string) error
}

// Errors returned
var (
	ErrDataNotFound = errors.New("data was not found in store")
)
