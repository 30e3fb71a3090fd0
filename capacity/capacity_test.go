package capacity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/chain/mocks"
	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/config"
	"github.com/tarancss/capgw/lib/metrics"
	"github.com/tarancss/capgw/lib/store"
	kv "github.com/tarancss/capgw/lib/store/redis"
)

// ledger is the capacity ledger served by the mock chain.
type ledger struct {
	mu   sync.Mutex
	info types.CapacityInfo
	at   map[string]types.CapacityInfo // past snapshots by block hash
	err  error
}

func (l *ledger) set(fn func(i *types.CapacityInfo)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fn(&l.info)
}

type signals struct {
	exhausted, available int
	last                 types.CapacityInfo
}

func newTestAccountant(t *testing.T, l *ledger, conf config.CapacityConfig) (*Accountant, *kv.Redis, *signals) {
	t.Helper()

	m := mocks.NewMockClient(gomock.NewController(t))
	m.EXPECT().CapacityInfo(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p string) (types.CapacityInfo, error) {
			l.mu.Lock()
			defer l.mu.Unlock()

			i := l.info
			i.ProviderID = p

			return i, l.err
		}).AnyTimes()
	m.EXPECT().CapacityInfoAt(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p, hash string) (types.CapacityInfo, error) {
			l.mu.Lock()
			defer l.mu.Unlock()

			i, ok := l.at[hash]
			if !ok {
				i = l.info
			}

			i.ProviderID = p

			return i, l.err
		}).AnyTimes()

	mr := miniredis.RunT(t)
	r, err := kv.New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.CloseRedis() })

	a := New(t.Name(), m, r, conf, zap.NewNop())

	s := &signals{}
	a.OnExhausted(func(i types.CapacityInfo) { s.exhausted++; s.last = i })
	a.OnAvailable(func(i types.CapacityInfo) { s.available++; s.last = i })

	return a, r, s
}

func TestNoRemainingCapacity(t *testing.T) {
	l := &ledger{info: types.CapacityInfo{CurrentEpoch: 3, CurrentBlockNumber: 994, NextEpochStart: 1000,
		RemainingCapacity: 0, TotalCapacityIssued: 1000}}
	a, _, s := newTestAccountant(t, l, config.CapacityConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.False(t, a.Check(ctx))
	}

	assert.Equal(t, 1, s.exhausted, "exhausted is emitted once on the transition")
	assert.Zero(t, s.available)
	assert.Equal(t, uint64(6), s.last.BlocksUntilNextEpoch())
	assert.True(t, a.Exhausted())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CapacityExhausted.WithLabelValues(a.provider)))
}

func TestServiceLimit(t *testing.T) {
	l := &ledger{info: types.CapacityInfo{CurrentEpoch: 7, RemainingCapacity: 1000, TotalCapacityIssued: 1000}}
	a, _, s := newTestAccountant(t, l, config.CapacityConfig{
		Service: config.LimitConfig{Kind: config.KindPercentage, Value: 50},
	})
	ctx := context.Background()

	used, err := a.RecordUsage(ctx, 7, 499)
	require.NoError(t, err)
	assert.Equal(t, uint64(499), used)

	assert.True(t, a.Check(ctx))
	assert.Equal(t, 1, s.available, "the first check always signals")

	_, err = a.RecordUsage(ctx, 7, 1)
	require.NoError(t, err)

	assert.False(t, a.Check(ctx))
	assert.False(t, a.Check(ctx))
	assert.Equal(t, 1, s.exhausted)

	// a new epoch starts a new counter
	l.set(func(i *types.CapacityInfo) { i.CurrentEpoch = 8 })

	assert.True(t, a.Check(ctx))
	assert.Equal(t, 2, s.available)

	used, err = a.ServiceUsage(ctx, 8)
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestTotalLimit(t *testing.T) {
	l := &ledger{info: types.CapacityInfo{RemainingCapacity: 101, TotalCapacityIssued: 1000}}
	a, _, s := newTestAccountant(t, l, config.CapacityConfig{
		Total: config.LimitConfig{Kind: config.KindAbsolute, Value: 900},
	})
	ctx := context.Background()

	assert.True(t, a.Check(ctx))

	l.set(func(i *types.CapacityInfo) { i.RemainingCapacity = 100 })
	assert.False(t, a.Check(ctx))
	assert.Equal(t, 1, s.exhausted)
}

func TestEitherLimitTrips(t *testing.T) {
	l := &ledger{info: types.CapacityInfo{CurrentEpoch: 1, RemainingCapacity: 800, TotalCapacityIssued: 1000}}
	a, _, _ := newTestAccountant(t, l, config.CapacityConfig{
		Service: config.LimitConfig{Kind: config.KindAbsolute, Value: 100},
		Total:   config.LimitConfig{Kind: config.KindPercentage, Value: 90},
	})
	ctx := context.Background()

	assert.True(t, a.Check(ctx))

	_, err := a.RecordUsage(ctx, 1, 100)
	require.NoError(t, err)
	assert.False(t, a.Check(ctx), "the service limit trips before the total one")
}

func TestCheckFailsOpen(t *testing.T) {
	l := &ledger{info: types.CapacityInfo{RemainingCapacity: 0, TotalCapacityIssued: 1000}}
	a, _, s := newTestAccountant(t, l, config.CapacityConfig{})
	ctx := context.Background()

	assert.False(t, a.Check(ctx))

	l.mu.Lock()
	l.err = errors.New("node unreachable")
	l.mu.Unlock()

	assert.True(t, a.Check(ctx), "errors permit admission")
	assert.True(t, a.Exhausted(), "errors do not change the state")
	assert.Equal(t, 1, s.exhausted)
	assert.Zero(t, s.available)
}

func withdrawal(t *testing.T, tx, provider, amount string) types.Event {
	t.Helper()

	data, err := json.Marshal(map[string]string{"providerId": provider, "amount": amount})
	require.NoError(t, err)

	return types.Event{Section: "capacity", Method: "CapacityWithdrawn", TxHash: tx, Data: data}
}

func TestUsageHandler(t *testing.T) {
	l := &ledger{info: types.CapacityInfo{CurrentEpoch: 4, RemainingCapacity: 1000, TotalCapacityIssued: 1000}}
	a, r, _ := newTestAccountant(t, l, config.CapacityConfig{})
	ctx := context.Background()

	require.NoError(t, r.AddTxWatch(ctx, store.TxWatchEntry{TxHash: "0xfeed", ProviderID: a.provider}))

	h := a.UsageHandler(r)
	err := h(ctx, types.Block{Number: 10}, []types.Event{
		withdrawal(t, "0xfeed", a.provider, "30"),
		withdrawal(t, "0xbeef", a.provider, "50"), // not ours
		withdrawal(t, "0xfeed", "other", "70"),
		{Section: "capacity", Method: "CapacityWithdrawn"},
	})
	require.NoError(t, err)

	used, err := a.ServiceUsage(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), used)

	err = h(ctx, types.Block{Number: 11}, []types.Event{{Section: "capacity", Method: "CapacityWithdrawn",
		TxHash: "0xfeed", Data: json.RawMessage(`"garbage"`)}})
	assert.Error(t, err)
}

func TestUsageChargedToBlockEpoch(t *testing.T) {
	l := &ledger{
		info: types.CapacityInfo{CurrentEpoch: 5, CurrentBlockNumber: 1010, NextEpochStart: 1100,
			RemainingCapacity: 1000, TotalCapacityIssued: 1000},
		at: map[string]types.CapacityInfo{"0x03de": {CurrentEpoch: 4, CurrentBlockNumber: 990, NextEpochStart: 1000,
			RemainingCapacity: 500, TotalCapacityIssued: 1000}},
	}
	a, r, s := newTestAccountant(t, l, config.CapacityConfig{
		Service: config.LimitConfig{Kind: config.KindPercentage, Value: 50},
	})
	ctx := context.Background()

	require.NoError(t, r.AddTxWatch(ctx, store.TxWatchEntry{TxHash: "0xfeed", ProviderID: a.provider}))

	// a block of the previous epoch scanned after the epoch changed
	h := a.UsageHandler(r)
	require.NoError(t, h(ctx, types.Block{Number: 990, Hash: "0x03de"},
		[]types.Event{withdrawal(t, "0xfeed", a.provider, "500")}))

	used, err := a.ServiceUsage(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), used)

	used, err = a.ServiceUsage(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, used)

	assert.True(t, a.Check(ctx), "the new epoch starts with its full service share")
	assert.Zero(t, s.exhausted)
}
