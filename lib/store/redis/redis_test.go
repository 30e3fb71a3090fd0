package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/capgw/lib/store"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	r, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.CloseRedis() })

	return r, mr
}

func TestKV(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := r.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrDataNotFound)

	require.NoError(t, r.Set(ctx, "k", "v"))
	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, r.SetEx(ctx, "e", time.Minute, "1"))
	assert.Equal(t, time.Minute, mr.TTL("e"))

	n, err := r.IncrBy(ctx, "c", 5, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = r.IncrBy(ctx, "c", 7, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, time.Hour, mr.TTL("c"))

	mr.FastForward(2 * time.Hour)
	_, err = r.Get(ctx, "c")
	assert.ErrorIs(t, err, store.ErrDataNotFound)
}

func TestTxWatch(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	e := store.TxWatchEntry{TxHash: "0xfeed", ReferenceID: "job-1", ProviderID: "1",
		SuccessEvent: "system.ExtrinsicSuccess", Birth: 12, Death: 76, CreatedAt: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, r.AddTxWatch(ctx, e))

	got, err := r.GetTxWatch(ctx, "0xfeed")
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.True(t, got.Mortal())

	require.NoError(t, r.RemoveTxWatch(ctx, "0xfeed"))
	assert.ErrorIs(t, r.RemoveTxWatch(ctx, "0xfeed"), store.ErrDataNotFound)

	_, err = r.GetTxWatch(ctx, "0xfeed")
	assert.ErrorIs(t, err, store.ErrDataNotFound)
}

func TestNewFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewFromClient(c)

	assert.Same(t, c, r.Client())
}
