package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/metrics"
)

const defaultPoll = 200 * time.Millisecond

// Handler processes a job. Returning an error wrapped with Delay redelivers the job without consuming an attempt;
// any other error is recorded as a failed attempt.
type Handler func(ctx context.Context, j *Job) error

// Worker runs a handler over the jobs of a queue with a configurable number of parallel consumers.
type Worker struct {
	q    Queue
	h    Handler
	log  *zap.Logger
	poll time.Duration

	mu          sync.Mutex
	concurrency int
}

// NewWorker returns a worker for q running concurrency consumers.
func NewWorker(q Queue, h Handler, concurrency int, log *zap.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		q:           q,
		h:           h,
		log:         log.With(zap.String("queue", q.Name()), zap.String("worker", uuid.NewString())),
		poll:        defaultPoll,
		concurrency: concurrency,
	}
}

// SetConcurrency changes the number of consumers started by the next Run.
func (w *Worker) SetConcurrency(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n > 0 {
		w.concurrency = n
	}
}

// Concurrency returns the configured number of consumers.
func (w *Worker) Concurrency() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.concurrency
}

// Run consumes jobs until ctx is done. Jobs being processed when ctx is cancelled run to completion.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	n := w.Concurrency()
	w.log.Info("worker started", zap.Int("concurrency", n))

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for ctx.Err() == nil {
				ok, err := w.ProcessNext(context.WithoutCancel(ctx))
				if err != nil {
					w.log.Error("cannot take job", zap.Error(err))
				}

				if ok {
					continue
				}

				select {
				case <-ctx.Done():
				case <-time.After(w.poll):
				}
			}
		}()
	}

	wg.Wait()
	w.log.Info("worker stopped")
}

// ProcessNext takes one job, runs the handler and records the outcome. It returns false when no job was available.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	j, err := w.q.Next(ctx)
	if err != nil || j == nil {
		return false, err
	}

	herr := w.h(ctx, j)

	var de *DelayError

	switch {
	case herr == nil:
		err = w.q.Complete(ctx, j)
		w.count(metrics.OutcomeCompleted)
	case errors.As(herr, &de):
		err = w.q.MoveToDelayed(ctx, j.ID, de.Delay)
		w.count(metrics.OutcomeDelayed)
		w.log.Debug("job delayed", zap.String("job", j.ID), zap.Duration("delay", de.Delay), zap.Error(de.Err))
	default:
		var st State

		st, err = w.q.Fail(ctx, j, herr)
		if st == StateFailed {
			w.count(metrics.OutcomeFailed)
			w.log.Error("job failed", zap.String("job", j.ID), zap.Int("attempts", j.AttemptsMade), zap.Error(herr))
		} else {
			w.count(metrics.OutcomeRetrying)
			w.log.Warn("job attempt failed", zap.String("job", j.ID), zap.Int("attempts", j.AttemptsMade),
				zap.Error(herr))
		}
	}

	return true, err
}

func (w *Worker) count(outcome string) {
	metrics.JobsProcessed.WithLabelValues(w.q.Name(), outcome).Inc()
}
