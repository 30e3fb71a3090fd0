// Package redis implements the shared key-value store and the transaction watch store on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tarancss/capgw/lib/store"
)

// txWatchKey is the hash holding transaction watch entries by transaction hash.
const txWatchKey = "txWatch"

// Redis implements a connection to a Redis server.
type Redis struct {
	c *redis.Client
}

// New returns a Redis connection to the server at url (ie. redis://localhost:6379/0).
func New(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{c: c}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(c *redis.Client) *Redis {
	return &Redis{c: c}
}

// Client returns the underlying client so other layers (ie. the job queue) share the connection pool.
func (r *Redis) Client() *redis.Client {
	return r.c
}

// CloseRedis will close the connection. Must be called at termination time.
func (r *Redis) CloseRedis() error {
	return r.c.Close()
}

// Get returns the value at key or store.ErrDataNotFound.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrDataNotFound
	}

	return v, err
}

// Set stores value at key without expiration.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.c.Set(ctx, key, value, 0).Err()
}

// SetEx stores value at key for ttl.
func (r *Redis) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	return r.c.SetEx(ctx, key, value, ttl).Err()
}

// IncrBy atomically adds n to the counter at key and refreshes its ttl.
func (r *Redis) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd

	_, err := r.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.IncrBy(ctx, key, n)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

// AddTxWatch saves the entry, replacing any entry with the same transaction hash.
func (r *Redis) AddTxWatch(ctx context.Context, e store.TxWatchEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("could not marshal tx watch entry: %w", err)
	}

	return r.c.HSet(ctx, txWatchKey, e.TxHash, b).Err()
}

// GetTxWatch returns the entry for txHash or store.ErrDataNotFound.
func (r *Redis) GetTxWatch(ctx context.Context, txHash string) (e store.TxWatchEntry, err error) {
	b, err := r.c.HGet(ctx, txWatchKey, txHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, store.ErrDataNotFound
	}

	if err != nil {
		return e, err
	}

	err = json.Unmarshal(b, &e)

	return e, err
}

// RemoveTxWatch deletes the entry for txHash.
func (r *Redis) RemoveTxWatch(ctx context.Context, txHash string) error {
	n, err := r.c.HDel(ctx, txWatchKey, txHash).Result()
	if err == nil && n != 1 {
		err = store.ErrDataNotFound
	}

	return err
}
