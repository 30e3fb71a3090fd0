// Package scanner implements the chain scanner. A scanner walks the chain block by block from its persisted cursor,
// dispatches the events of every block to the handlers registered for their names, runs an optional per-block hook
// and commits the cursor once the block has been fully processed, so a restart resumes at the next block without
// skipping or reprocessing any.
//
// Scanning stops cleanly at the end of the chain (or at the last finalized block unless unfinalized blocks are
// trusted), when the scanner is paused (ie. the chain client lost connectivity) or when a downstream queue is above
// its high-water mark. Chain errors abort the scan without committing the failing block.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tarancss/capgw/lib/chain"
	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/metrics"
	"github.com/tarancss/capgw/lib/queue"
	"github.com/tarancss/capgw/lib/store"
)

// ErrSkipBlock is returned by a BlockProcessor for blocks whose content can never be processed. The block is
// marked as seen and not retried.
var ErrSkipBlock = errors.New("block skipped")

// Handler receives the events of a block matching the name it was registered for.
type Handler func(ctx context.Context, b types.Block, evs []types.Event) error

// BlockProcessor is the per-block hook, run after the handlers of the block have returned.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, b types.Block) error
}

// Counter reports the job counts of a downstream queue.
type Counter interface {
	Counts(ctx context.Context) (queue.Counts, error)
}

// Result tells why a scan stopped.
type Result int

// Scan results.
const (
	Busy       Result = iota // another scan of this scanner was running
	EndOfChain               // no more blocks (or no more finalized blocks)
	Paused                   // paused, disconnected or stopping
	Throttled                // downstream backlog above the high-water mark
	Aborted                  // chain or cursor error, see the returned error
)

func (r Result) String() string {
	switch r {
	case Busy:
		return "busy"
	case EndOfChain:
		return "end-of-chain"
	case Paused:
		return "paused"
	case Throttled:
		return "throttled"
	default:
		return "aborted"
	}
}

// Options tune a scanner. The zero value scans finalized blocks only, as fast as the node answers, without
// backpressure.
type Options struct {
	TrustUnfinalized bool
	BlocksPerSecond  float64 // 0 = unlimited
	Processor        BlockProcessor

	// Backlog, when set with a positive HighWater, throttles scanning while its pending jobs are at or above
	// HighWater until they drop below HighWater*LowWaterFraction.
	Backlog          Counter
	HighWater        int64
	LowWaterFraction float64
}

// Scanner scans one chain for one identity. Several scanners may share a chain client; each owns its cursor and
// its handler registry.
type Scanner struct {
	id    string
	chain chain.Client
	kv    store.KV
	opts  Options
	log   *zap.Logger
	limit *rate.Limiter

	hmu      sync.RWMutex
	handlers map[string][]Handler

	running      atomic.Bool
	paused       atomic.Bool // Pause
	disconnected atomic.Bool // chain connectivity

	// only accessed by the running scan
	throttled bool
	lastHash  string
	lastNum   uint64
}

// New returns scanner id over c, persisting its cursor in kv. The scanner subscribes to the connectivity signals of
// c to pause itself while the node is unreachable.
func New(id string, c chain.Client, kv store.KV, o Options, log *zap.Logger) *Scanner {
	if o.LowWaterFraction <= 0 || o.LowWaterFraction > 1 {
		o.LowWaterFraction = 0.5
	}

	s := &Scanner{
		id:       id,
		chain:    c,
		kv:       kv,
		opts:     o,
		log:      log.With(zap.String("scanner", id)),
		handlers: make(map[string][]Handler),
	}

	if o.BlocksPerSecond > 0 {
		s.limit = rate.NewLimiter(rate.Limit(o.BlocksPerSecond), 1)
	}

	c.OnConnectivity(func(connected bool) {
		s.disconnected.Store(!connected)

		if connected {
			s.log.Info("chain connected")
		} else {
			s.log.Warn("chain disconnected, scanning paused")
		}
	})

	return s
}

// ID returns the scanner identity.
func (s *Scanner) ID() string {
	return s.id
}

// Register adds h to the handlers of event name (section.method). The handlers of a name are a list kept in
// registration order: registering h twice runs it twice per block. Handlers of the same block run concurrently.
func (s *Scanner) Register(name string, h Handler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	s.handlers[name] = append(s.handlers[name], h)
}

// Pause stops the running scan, if any, at the next block boundary.
func (s *Scanner) Pause() {
	s.paused.Store(true)
}

// Resume clears the flag set by Pause. Scanning continues with the next scan unless the chain is disconnected.
func (s *Scanner) Resume() {
	s.paused.Store(false)
}

// IsPaused reports whether the scanner is paused or its chain is disconnected.
func (s *Scanner) IsPaused() bool {
	return s.paused.Load() || s.disconnected.Load()
}

// Run scans every interval until ctx is done. A scan in progress when ctx is cancelled stops at the next block
// boundary.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	s.log.Info("scanner started", zap.Duration("interval", interval))

	for {
		res, err := s.Scan(ctx)
		if err != nil {
			s.log.Error("scan aborted", zap.Error(err))
		} else {
			s.log.Debug("scan stopped", zap.Stringer("result", res))
		}

		select {
		case <-ctx.Done():
			s.log.Info("scanner stopped")

			return
		case <-t.C:
		}
	}
}

// Scan processes blocks from the cursor onwards until it reaches the end of the chain, is paused or throttled, or a
// chain error occurs. It returns Busy at once if a scan of this scanner is already running.
//
// Cancelling ctx stops the scan between blocks; a block being processed always runs to completion.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Busy, nil
	}
	defer s.running.Store(false)

	bctx := context.WithoutCancel(ctx)

	last, err := s.LastSeen(bctx)
	if err != nil {
		return Aborted, err
	}

	var finalized uint64

	for next := last + 1; ; next++ {
		if s.IsPaused() || ctx.Err() != nil {
			return Paused, nil
		}

		if s.backlogged(bctx) {
			return Throttled, nil
		}

		if s.limit != nil {
			if err = s.limit.Wait(ctx); err != nil {
				return Paused, nil
			}
		}

		hash, err := s.chain.BlockHash(bctx, next)
		if err != nil {
			return Aborted, fmt.Errorf("scanner: block %d: %w", next, err)
		}

		if types.IsZeroHash(hash) {
			return EndOfChain, nil
		}

		if !s.opts.TrustUnfinalized && next > finalized {
			if finalized, err = s.chain.FinalizedBlockNumber(bctx); err != nil {
				return Aborted, fmt.Errorf("scanner: finalized head: %w", err)
			}

			if next > finalized {
				return EndOfChain, nil
			}
		}

		b, err := s.fetch(bctx, hash)
		if err != nil {
			return Aborted, fmt.Errorf("scanner: block %d: %w", next, err)
		}

		if s.lastHash != "" && s.lastNum+1 == next && b.PHash != s.lastHash {
			s.log.Warn("block is not chained to the previous one", zap.Uint64("block", next),
				zap.String("parent", b.PHash), zap.String("previous", s.lastHash))
		}

		s.process(bctx, b)

		if err = s.SetLastSeen(bctx, next); err != nil {
			return Aborted, err
		}

		s.lastHash, s.lastNum = hash, next

		metrics.BlocksScanned.WithLabelValues(s.id).Inc()
		metrics.Cursor.WithLabelValues(s.id).Set(float64(next))
	}
}

func (s *Scanner) fetch(ctx context.Context, hash string) (types.Block, error) {
	b, err := s.chain.Block(ctx, hash)
	if err != nil {
		return b, err
	}

	if b.Events, err = s.chain.Events(ctx, hash); err != nil {
		return b, err
	}

	return b, nil
}

// process runs the handlers and the hook of block b. Failures are logged and counted, never returned.
func (s *Scanner) process(ctx context.Context, b types.Block) {
	log := s.log.With(zap.Uint64("block", b.Number))

	if err := s.dispatch(ctx, b); err != nil {
		n := len(multierr.Errors(err))
		metrics.HandlerFailures.WithLabelValues(s.id).Add(float64(n))
		log.Error("event handlers failed", zap.Int("failures", n), zap.Error(err))
	}

	if s.opts.Processor == nil {
		return
	}

	switch err := s.opts.Processor.ProcessBlock(ctx, b); {
	case errors.Is(err, ErrSkipBlock):
		log.Info("block skipped", zap.Error(err))
	case err != nil:
		metrics.HandlerFailures.WithLabelValues(s.id).Inc()
		log.Error("block hook failed", zap.Error(err))
	}
}

// dispatch runs every handler matching the events of b concurrently and waits for all of them.
func (s *Scanner) dispatch(ctx context.Context, b types.Block) error {
	byName := make(map[string][]types.Event)
	for _, e := range b.Events {
		byName[e.Name()] = append(byName[e.Name()], e)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)

	s.hmu.RLock()
	for name, evs := range byName {
		for _, h := range s.handlers[name] {
			name, evs, h := name, evs, h // per-iteration copies (go directive < 1.22)
			g.Go(func() error {
				if err := h(ctx, b, evs); err != nil {
					mu.Lock()
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
					mu.Unlock()
				}

				return nil
			})
		}
	}
	s.hmu.RUnlock()

	_ = g.Wait()

	return errs
}

// backlogged reports whether scanning must wait for the downstream queue to drain. Counting errors do not throttle.
func (s *Scanner) backlogged(ctx context.Context) bool {
	if s.opts.Backlog == nil || s.opts.HighWater <= 0 {
		return false
	}

	c, err := s.opts.Backlog.Counts(ctx)
	if err != nil {
		s.log.Warn("cannot count downstream jobs", zap.Error(err))

		return s.throttled
	}

	pending := c.Pending()
	low := int64(float64(s.opts.HighWater) * s.opts.LowWaterFraction)

	switch {
	case !s.throttled && pending >= s.opts.HighWater:
		s.throttled = true
		s.log.Warn("downstream backlog above high-water mark, throttling", zap.Int64("pending", pending))
	case s.throttled && pending < low:
		s.throttled = false
		s.log.Info("downstream backlog drained", zap.Int64("pending", pending))
	}

	return s.throttled
}
