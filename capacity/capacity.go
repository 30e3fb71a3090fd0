// Package capacity implements the capacity accountant. Before admitting writes, the accountant reads the capacity
// ledger of the provider from the chain, checks it against the configured service and total limits and tells its
// listeners when admission switches between available and exhausted.
//
// The chain-wide ledger cannot tell apart the services sharing a provider, so the consumption of this service is
// tracked locally in the shared store, one counter per epoch.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/chain"
	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/config"
	"github.com/tarancss/capgw/lib/metrics"
	"github.com/tarancss/capgw/lib/store"
)

// UsageTTL bounds the life of an epoch usage counter. Counters of past epochs are never read again.
const UsageTTL = 48 * time.Hour

type state int

const (
	unknown state = iota
	available
	exhausted
)

// Listener receives the capacity snapshot that caused a transition.
type Listener func(info types.CapacityInfo)

// Accountant checks the capacity of one provider.
type Accountant struct {
	provider string
	chain    chain.Client
	kv       store.KV
	service  config.LimitConfig
	total    config.LimitConfig
	log      *zap.Logger

	mu          sync.Mutex // serializes checks and guards the fields below
	state       state
	onExhausted []Listener
	onAvailable []Listener
}

// New returns the accountant of provider. Limits with a zero value are not checked.
func New(provider string, c chain.Client, kv store.KV, conf config.CapacityConfig, log *zap.Logger) *Accountant {
	return &Accountant{
		provider: provider,
		chain:    c,
		kv:       kv,
		service:  conf.Service,
		total:    conf.Total,
		log:      log.With(zap.String("provider", provider)),
	}
}

// OnExhausted adds a listener called when admission becomes exhausted. Listeners run synchronously within Check and
// must not call Check.
func (a *Accountant) OnExhausted(fn Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.onExhausted = append(a.onExhausted, fn)
}

// OnAvailable adds a listener called when admission becomes available. Listeners run synchronously within Check and
// must not call Check.
func (a *Accountant) OnAvailable(fn Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.onAvailable = append(a.onAvailable, fn)
}

// Exhausted reports the state of the last successful check.
func (a *Accountant) Exhausted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state == exhausted
}

// Check reads the ledger and reports whether admission is permitted. Listeners are called only when the state
// changes; the first successful check always calls one of them.
//
// Errors are logged and permit admission without changing the state.
func (a *Accountant) Check(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, reason, err := a.evaluate(ctx)
	if err != nil {
		a.log.Error("capacity check failed, admission permitted", zap.Error(err))

		return true
	}

	metrics.CapacityRemaining.WithLabelValues(a.provider).Set(float64(info.RemainingCapacity))

	next := available
	if reason != "" {
		next = exhausted
	}

	if next == a.state {
		return next == available
	}

	a.state = next

	if next == exhausted {
		metrics.CapacityExhausted.WithLabelValues(a.provider).Set(1)
		a.log.Warn("capacity exhausted", zap.String("reason", reason), zap.Uint64("epoch", info.CurrentEpoch),
			zap.Uint64("nextEpochStart", info.NextEpochStart), zap.Uint64("block", info.CurrentBlockNumber))

		for _, fn := range a.onExhausted {
			fn(info)
		}

		return false
	}

	metrics.CapacityExhausted.WithLabelValues(a.provider).Set(0)
	a.log.Info("capacity available", zap.Uint64("epoch", info.CurrentEpoch),
		zap.Uint64("remaining", info.RemainingCapacity))

	for _, fn := range a.onAvailable {
		fn(info)
	}

	return true
}

// evaluate returns the snapshot and, when a limit tripped, the reason.
func (a *Accountant) evaluate(ctx context.Context) (types.CapacityInfo, string, error) {
	info, err := a.chain.CapacityInfo(ctx, a.provider)
	if err != nil {
		return info, "", err
	}

	if info.RemainingCapacity == 0 {
		return info, "no remaining capacity", nil
	}

	if a.total.Value > 0 {
		var used uint64
		if info.TotalCapacityIssued > info.RemainingCapacity {
			used = info.TotalCapacityIssued - info.RemainingCapacity
		}

		if l := limit(a.total, info.TotalCapacityIssued); used >= l {
			return info, fmt.Sprintf("total usage %d reached limit %d", used, l), nil
		}
	}

	if a.service.Value > 0 {
		used, err := a.ServiceUsage(ctx, info.CurrentEpoch)
		if err != nil {
			return info, "", err
		}

		if l := limit(a.service, info.TotalCapacityIssued); used >= l {
			return info, fmt.Sprintf("service usage %d reached limit %d", used, l), nil
		}
	}

	return info, "", nil
}

// limit returns the amount of capacity allowed by l out of issued.
func limit(l config.LimitConfig, issued uint64) uint64 {
	if l.Kind == config.KindAbsolute {
		return l.Value
	}

	return issued * l.Value / 100
}

// UsageKey returns the shared store key counting the capacity used by this service for provider in epoch.
func UsageKey(provider string, epoch uint64) string {
	return "capacity:" + provider + ":epoch:" + strconv.FormatUint(epoch, 10) + ":used"
}

// RecordUsage adds amount to the usage counter of epoch and returns the new total.
func (a *Accountant) RecordUsage(ctx context.Context, epoch, amount uint64) (uint64, error) {
	n, err := a.kv.IncrBy(ctx, UsageKey(a.provider, epoch), int64(amount), UsageTTL)
	if err != nil {
		return 0, fmt.Errorf("capacity: cannot record usage: %w", err)
	}

	return uint64(n), nil
}

// ServiceUsage returns the capacity used by this service in epoch.
func (a *Accountant) ServiceUsage(ctx context.Context, epoch uint64) (uint64, error) {
	v, err := a.kv.Get(ctx, UsageKey(a.provider, epoch))
	if errors.Is(err, store.ErrDataNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("capacity: cannot read usage: %w", err)
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("capacity: corrupted usage counter %q: %w", v, err)
	}

	return n, nil
}
