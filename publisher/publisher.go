// Package publisher implements the transaction publisher microservice. The publisher consumes the jobs of its queue,
// submits their calls to the chain and records the accepted transactions for confirmation.
//
// Admission is gated by the capacity accountant: when capacity is exhausted the queue is paused until the next epoch
// starts (or a periodic check finds capacity again); when it becomes available the jobs that failed because the
// provider could not pay with capacity are retried and the queue is resumed.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/capgw/capacity"
	"github.com/tarancss/capgw/lib/chain"
	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/queue"
	"github.com/tarancss/capgw/lib/store"
)

// Timer names.
const (
	EpochTimer = "capacity-epoch-recheck"
	CheckTimer = "capacity-check"
)

// DefaultMortality is the validity period, in blocks, assumed for transactions whose submission reports the block
// number but not the mortality window.
const DefaultMortality = 64

// capacityRejection matches the failure reason of jobs rejected because the provider could not pay with capacity.
var capacityRejection = regexp.MustCompile(regexp.QuoteMeta(types.CapacityFeeRejection))

// Accountant is the capacity gate of the publisher.
type Accountant interface {
	Check(ctx context.Context) bool
	OnExhausted(fn capacity.Listener)
	OnAvailable(fn capacity.Listener)
}

// Scheduler keeps named, replaceable timers.
type Scheduler interface {
	Schedule(name string, d time.Duration, fn func())
	Cancel(name string) bool
	Stop()
}

// Options tune the publisher.
type Options struct {
	Concurrency   int
	NonceDelay    time.Duration // redelivery delay after a nonce conflict
	CheckInterval time.Duration // periodic capacity check, 0 disables it
}

// Publisher submits the jobs of one queue for one provider.
type Publisher struct {
	provider string
	q        queue.Queue
	w        *queue.Worker
	chain    chain.Client
	acct     Accountant
	db       store.DB
	timers   Scheduler
	opts     Options
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	paused bool // paused on capacity exhaustion
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a publisher consuming q. It subscribes to the capacity signals of acct.
func New(provider string, q queue.Queue, c chain.Client, acct Accountant, db store.DB, timers Scheduler,
	o Options, log *zap.Logger,
) *Publisher {
	p := &Publisher{
		provider: provider,
		q:        q,
		chain:    c,
		acct:     acct,
		db:       db,
		timers:   timers,
		opts:     o,
		log:      log.With(zap.String("queue", q.Name()), zap.String("provider", provider)),
		now:      time.Now,
	}

	p.w = queue.NewWorker(q, p.Process, o.Concurrency, log)

	acct.OnExhausted(p.exhausted)
	acct.OnAvailable(p.available)

	return p
}

// Start waits until the chain client is ready and capacity has been checked once, then starts the queue workers.
func (p *Publisher) Start(ctx context.Context) error {
	if err := p.chain.Ready(ctx); err != nil {
		return fmt.Errorf("publisher: chain not ready: %w", err)
	}

	p.acct.Check(ctx)
	p.w.SetConcurrency(p.opts.Concurrency)
	p.scheduleCheck()

	wctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.w.Run(wctx)
	}()

	p.log.Info("publisher started", zap.Int("concurrency", p.w.Concurrency()))

	return nil
}

// Stop cancels the timers and waits for the jobs being processed. Jobs left active by a crash are recovered by the
// queue.
func (p *Publisher) Stop() {
	p.timers.Stop()

	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.log.Info("publisher stopped")
}

// Process submits the calls of job j. A nonce conflict redelivers the job shortly, any other submission error is
// left to the retry policy of the queue.
func (p *Publisher) Process(ctx context.Context, j *queue.Job) error {
	var req types.TxReq
	if err := json.Unmarshal(j.Payload, &req); err != nil {
		return fmt.Errorf("publisher: cannot decode job %s: %w", j.ID, err)
	}

	var (
		res types.SubmitResult
		err error
	)

	switch len(req.Calls) {
	case 0:
		return types.ErrNoCalls
	case 1:
		res, err = p.chain.Submit(ctx, req.Calls[0])
	default:
		res, err = p.chain.SubmitBatch(ctx, req.Calls)
	}

	if errors.Is(err, types.ErrNonceConflict) {
		return queue.Delay(p.opts.NonceDelay, err)
	}

	if err != nil {
		return err
	}

	p.watch(ctx, j, req, res)

	return nil
}

// watch records an accepted transaction for confirmation. The job is complete even if recording fails: failing it
// would submit the calls again.
func (p *Publisher) watch(ctx context.Context, j *queue.Job, req types.TxReq, res types.SubmitResult) {
	e := store.TxWatchEntry{
		TxHash:       res.TxHash,
		ReferenceID:  req.ReferenceID,
		ProviderID:   p.provider,
		SuccessEvent: req.SuccessEvent,
		CreatedAt:    p.now().UTC(),
	}

	if e.ReferenceID == "" {
		e.ReferenceID = j.ID
	}

	if e.SuccessEvent == "" {
		e.SuccessEvent = types.DefaultSuccessEvent
	}

	switch {
	case res.Mortality != nil:
		e.Birth, e.Death = res.Mortality.Birth, res.Mortality.Death
	case res.BlockNumber != 0:
		e.Birth, e.Death = res.BlockNumber, res.BlockNumber+DefaultMortality
	}

	if err := p.db.AddTxWatch(ctx, e); err != nil {
		p.log.Error("cannot record submitted transaction", zap.String("job", j.ID), zap.String("tx", res.TxHash),
			zap.Error(err))

		return
	}

	p.log.Info("transaction submitted", zap.String("job", j.ID), zap.String("tx", res.TxHash),
		zap.Uint64("birth", e.Birth), zap.Uint64("death", e.Death))
}

// exhausted pauses the queue and schedules a capacity check for the start of the next epoch.
func (p *Publisher) exhausted(info types.CapacityInfo) {
	ctx := context.Background()

	p.mu.Lock()
	already := p.paused
	p.paused = true
	p.mu.Unlock()

	if !already {
		if err := p.q.Pause(ctx); err != nil {
			p.log.Error("cannot pause queue", zap.Error(err))
		}

		p.log.Warn("capacity exhausted, queue paused", zap.Uint64("nextEpochStart", info.NextEpochStart))
	}

	blocks := info.BlocksUntilNextEpoch()
	if blocks == 0 {
		blocks = 1
	}

	delay := time.Duration(blocks) * p.chain.AvgBlock()
	p.timers.Schedule(EpochTimer, delay, p.recheck)
	p.log.Debug("capacity recheck scheduled", zap.Duration("in", delay))
}

// recheck runs at the expected start of the next epoch. While the queue stays paused (blocks came slower than
// observed, or the check failed) it is scheduled again from a fresh snapshot.
func (p *Publisher) recheck() {
	ctx := context.Background()

	p.acct.Check(ctx)

	p.mu.Lock()
	paused := p.paused
	p.mu.Unlock()

	if !paused {
		return
	}

	info, err := p.chain.CapacityInfo(ctx, p.provider)
	if err != nil {
		p.log.Warn("cannot read capacity, rechecking in one block", zap.Error(err))
	}

	p.exhausted(info)
}

// available retries the jobs rejected for lack of capacity and resumes the queue.
func (p *Publisher) available(types.CapacityInfo) {
	ctx := context.Background()

	failed, err := p.q.Failed(ctx, capacityRejection)
	if err != nil {
		p.log.Error("cannot list failed jobs", zap.Error(err))
	}

	for _, j := range failed {
		if err = p.q.Retry(ctx, j.ID); err != nil {
			p.log.Error("cannot retry job", zap.String("job", j.ID), zap.Error(err))
		}
	}

	p.timers.Cancel(EpochTimer)

	p.mu.Lock()
	was := p.paused
	p.paused = false
	p.mu.Unlock()

	// resume even if not paused by this process: a previous one may have left the queue paused
	if err = p.q.Resume(ctx); err != nil {
		p.log.Error("cannot resume queue", zap.Error(err))
	}

	if was || len(failed) > 0 {
		p.log.Info("capacity available, queue resumed", zap.Int("retried", len(failed)))
	}
}

// scheduleCheck runs the periodic capacity check.
func (p *Publisher) scheduleCheck() {
	if p.opts.CheckInterval <= 0 {
		return
	}

	p.timers.Schedule(CheckTimer, p.opts.CheckInterval, func() {
		p.acct.Check(context.Background())
		p.scheduleCheck()
	})
}
