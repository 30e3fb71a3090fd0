package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// txRetries bounds the attempts of an optimistic transaction.
const txRetries = 10

// Options configure a queue.
type Options struct {
	Prefix   string        // key prefix, defaults to "cgw"
	Attempts int           // attempts before a job fails for good, defaults to 3
	Backoff  time.Duration // first retry delay, doubled on each attempt; defaults to 1s
}

// Redis implements Queue on Redis. Each job is a JSON document under <prefix>:<name>:job:<id>; its id is also kept
// in exactly one container matching its state: the wait and active lists or the delayed, completed and failed
// sorted sets (scored by ready or finish time in milliseconds).
type Redis struct {
	c    *redis.Client
	name string
	opts Options
	now  func() time.Time
}

// NewRedis returns the queue name stored through c.
func NewRedis(c *redis.Client, name string, o Options) *Redis {
	if o.Prefix == "" {
		o.Prefix = "cgw"
	}

	if o.Attempts <= 0 {
		o.Attempts = 3
	}

	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}

	return &Redis{c: c, name: name, opts: o, now: time.Now}
}

func (q *Redis) key(s string) string {
	return q.opts.Prefix + ":" + q.name + ":" + s
}

func (q *Redis) jobKey(id string) string {
	return q.key("job:" + id)
}

func ms(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Name returns the queue name.
func (q *Redis) Name() string {
	return q.name
}

// Add enqueues payload under id unless a job with that id already exists. The job document and its wait list entry
// are written in one transaction.
func (q *Redis) Add(ctx context.Context, id string, payload []byte) (*Job, bool, error) {
	j := &Job{ID: id, Payload: payload, State: StateWaiting, CreatedAt: q.now().UTC()}

	b, err := json.Marshal(j)
	if err != nil {
		return nil, false, fmt.Errorf("queue: cannot marshal job %s: %w", id, err)
	}

	var created bool

	err = q.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, q.jobKey(id)).Result()
		if err != nil || n == 1 {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, q.jobKey(id), b, 0)
			p.LPush(ctx, q.key("wait"), id)

			return nil
		})
		created = err == nil

		return err
	}, q.jobKey(id))
	if err != nil {
		return nil, false, err
	}

	if !created {
		existing, err := q.Job(ctx, id)

		return existing, false, err
	}

	return j, true, nil
}

// Job returns the job with id or ErrJobNotFound.
func (q *Redis) Job(ctx context.Context, id string) (*Job, error) {
	return q.load(ctx, q.c, id)
}

// Pause stops workers from taking new jobs. Jobs being processed are not affected.
func (q *Redis) Pause(ctx context.Context) error {
	return q.c.Set(ctx, q.key("paused"), "1", 0).Err()
}

// Resume lets workers take jobs again.
func (q *Redis) Resume(ctx context.Context) error {
	return q.c.Del(ctx, q.key("paused")).Err()
}

// IsPaused reports whether the queue is paused.
func (q *Redis) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.c.Exists(ctx, q.key("paused")).Result()

	return n == 1, err
}

// Failed returns failed jobs, oldest failure first, filtered by reason when not nil.
func (q *Redis) Failed(ctx context.Context, reason *regexp.Regexp) ([]*Job, error) {
	ids, err := q.c.ZRange(ctx, q.key("failed"), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))

	for _, id := range ids {
		j, err := q.Job(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if reason == nil || reason.MatchString(j.FailedReason) {
			jobs = append(jobs, j)
		}
	}

	return jobs, nil
}

// Retry moves a failed job back to the wait list with a fresh attempt budget.
func (q *Redis) Retry(ctx context.Context, id string) error {
	j, err := q.Job(ctx, id)
	if err != nil {
		return err
	}

	if j.State != StateFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, j.State)
	}

	j.State = StateWaiting
	j.AttemptsMade = 0
	j.FailedReason = ""
	j.FinishedAt = time.Time{}

	return q.move(ctx, j, func(p redis.Pipeliner) {
		p.LPush(ctx, q.key("wait"), id)
	})
}

// MoveToDelayed moves the job, whatever its state, to the delayed set. It is promoted to the wait list once delay
// has elapsed.
func (q *Redis) MoveToDelayed(ctx context.Context, id string, delay time.Duration) error {
	j, err := q.Job(ctx, id)
	if err != nil {
		return err
	}

	return q.delay(ctx, j, delay)
}

func (q *Redis) delay(ctx context.Context, j *Job, delay time.Duration) error {
	j.State = StateDelayed
	j.DelayedUntil = q.now().Add(delay).UTC()

	return q.move(ctx, j, func(p redis.Pipeliner) {
		p.ZAdd(ctx, q.key("delayed"), redis.Z{Score: ms(j.DelayedUntil), Member: j.ID})
	})
}

// Counts returns the number of jobs in every state.
func (q *Redis) Counts(ctx context.Context) (Counts, error) {
	var (
		c                  Counts
		wait, active       *redis.IntCmd
		delayed, completed *redis.IntCmd
		failed             *redis.IntCmd
	)

	_, err := q.c.Pipelined(ctx, func(p redis.Pipeliner) error {
		wait = p.LLen(ctx, q.key("wait"))
		active = p.LLen(ctx, q.key("active"))
		delayed = p.ZCard(ctx, q.key("delayed"))
		completed = p.ZCard(ctx, q.key("completed"))
		failed = p.ZCard(ctx, q.key("failed"))

		return nil
	})
	if err != nil {
		return c, err
	}

	c.Waiting, c.Active, c.Delayed = wait.Val(), active.Val(), delayed.Val()
	c.Completed, c.Failed = completed.Val(), failed.Val()

	return c, nil
}

// Next takes the oldest waiting job and marks it active. It returns nil when the queue is paused or empty.
func (q *Redis) Next(ctx context.Context) (*Job, error) {
	paused, err := q.IsPaused(ctx)
	if err != nil || paused {
		return nil, err
	}

	if err = q.promote(ctx); err != nil {
		return nil, err
	}

	id, err := q.c.RPopLPush(ctx, q.key("wait"), q.key("active")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	j, err := q.Job(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		// id without a job document
		return nil, q.c.LRem(ctx, q.key("active"), 0, id).Err()
	}

	if err != nil {
		return nil, err
	}

	j.State = StateActive
	j.ProcessedAt = q.now().UTC()

	return j, q.save(ctx, q.c, j)
}

// Complete marks an active job as completed.
func (q *Redis) Complete(ctx context.Context, j *Job) error {
	j.State = StateCompleted
	j.FinishedAt = q.now().UTC()

	return q.move(ctx, j, func(p redis.Pipeliner) {
		p.ZAdd(ctx, q.key("completed"), redis.Z{Score: ms(j.FinishedAt), Member: j.ID})
	})
}

// Fail records cause as the job failure. The job is delayed with exponential backoff while it has attempts left,
// otherwise it is moved to the failed set. Returns the resulting state.
func (q *Redis) Fail(ctx context.Context, j *Job, cause error) (State, error) {
	j.AttemptsMade++
	j.FailedReason = cause.Error()

	if j.AttemptsMade < q.opts.Attempts {
		return StateDelayed, q.delay(ctx, j, q.opts.Backoff<<(j.AttemptsMade-1))
	}

	j.State = StateFailed
	j.FinishedAt = q.now().UTC()

	return StateFailed, q.move(ctx, j, func(p redis.Pipeliner) {
		p.ZAdd(ctx, q.key("failed"), redis.Z{Score: ms(j.FinishedAt), Member: j.ID})
	})
}

// Recover moves jobs left active by a crashed worker back to the wait list. It must only run while no worker of
// this queue is processing.
func (q *Redis) Recover(ctx context.Context) (int, error) {
	var n int

	for {
		id, err := q.c.RPopLPush(ctx, q.key("active"), q.key("wait")).Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}

		if err != nil {
			return n, err
		}

		j, err := q.Job(ctx, id)
		if err != nil {
			continue
		}

		j.State = StateWaiting
		if err = q.save(ctx, q.c, j); err != nil {
			return n, err
		}

		n++
	}
}

// promote moves due delayed jobs to the head of the wait list.
func (q *Redis) promote(ctx context.Context) error {
	now := q.now().UnixMilli()

	ids, err := q.c.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		err = q.watch(ctx, func(tx *redis.Tx) error {
			// another worker may have promoted or moved it meanwhile; every move rewrites the job document
			score, err := tx.ZScore(ctx, q.key("delayed"), id).Result()
			if errors.Is(err, redis.Nil) || score > float64(now) {
				return nil
			}

			if err != nil {
				return err
			}

			j, err := q.load(ctx, tx, id)
			if err != nil {
				return err
			}

			j.State = StateWaiting

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.ZRem(ctx, q.key("delayed"), id)
				if err := q.save(ctx, p, j); err != nil {
					return err
				}

				return p.RPush(ctx, q.key("wait"), id).Err()
			})

			return err
		}, q.jobKey(id))

		switch {
		case errors.Is(err, ErrJobNotFound):
			// id without a job document
			q.c.ZRem(ctx, q.key("delayed"), id)
		case err != nil:
			return err
		}
	}

	return nil
}

// watch runs fn in an optimistic transaction over keys, retrying when another client changed them.
func (q *Redis) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error

	for i := 0; i < txRetries; i++ {
		if err = q.c.Watch(ctx, fn, keys...); !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (q *Redis) load(ctx context.Context, c getter, id string) (*Job, error) {
	b, err := c.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	var j Job
	if err = json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("queue: corrupted job %s: %w", id, err)
	}

	return &j, nil
}

// move detaches the job from every container, saves it and runs add, all in one transaction.
func (q *Redis) move(ctx context.Context, j *Job, add func(p redis.Pipeliner)) error {
	_, err := q.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.key("wait"), 0, j.ID)
		p.LRem(ctx, q.key("active"), 0, j.ID)
		p.ZRem(ctx, q.key("delayed"), j.ID)
		p.ZRem(ctx, q.key("completed"), j.ID)
		p.ZRem(ctx, q.key("failed"), j.ID)

		if err := q.save(ctx, p, j); err != nil {
			return err
		}

		add(p)

		return nil
	})

	return err
}

func (q *Redis) save(ctx context.Context, c redis.Cmdable, j *Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("queue: cannot marshal job %s: %w", j.ID, err)
	}

	return c.Set(ctx, q.jobKey(j.ID), b, 0).Err()
}
