package queue

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T, o Options) (*Redis, *clock) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := NewRedis(c, "publish", o)
	q.now = clk.now

	return q, clk
}

func TestAddIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	j, created, err := q.Add(ctx, "a", []byte(`{"n":1}`))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StateWaiting, j.State)

	j, created, err = q.Add(ctx, "a", []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.JSONEq(t, `{"n":1}`, string(j.Payload), "the existing job is returned untouched")

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Waiting)

	// still deduplicated once the job has completed
	j, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, j))

	j, created, err = q.Add(ctx, "a", []byte(`{"n":1}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, StateCompleted, j.State)

	_, err = q.Job(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestNextOrderAndPause(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_, _, err := q.Add(ctx, id, []byte(`{}`))
		require.NoError(t, err)
	}

	j, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", j.ID)
	assert.Equal(t, StateActive, j.State)

	require.NoError(t, q.Pause(ctx))
	paused, err := q.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	j2, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j2, "a paused queue hands out no jobs")

	// in-flight jobs are not affected
	require.NoError(t, q.Complete(ctx, j))

	require.NoError(t, q.Resume(ctx))
	j, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", j.ID)

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Waiting: 1, Active: 1, Completed: 1}, c)
	assert.Equal(t, int64(2), c.Pending())
}

func TestMoveToDelayed(t *testing.T) {
	q, clk := newTestQueue(t, Options{})
	ctx := context.Background()

	_, _, err := q.Add(ctx, "a", []byte(`{}`))
	require.NoError(t, err)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MoveToDelayed(ctx, j.ID, 100*time.Millisecond))

	j, err = q.Job(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, j.State)
	assert.Zero(t, j.AttemptsMade)

	j, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j, "not due yet")

	clk.advance(100 * time.Millisecond)

	j, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "a", j.ID)

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Active: 1}, c)
}

func TestFailBackoffAndRetry(t *testing.T) {
	q, clk := newTestQueue(t, Options{Attempts: 3, Backoff: time.Second})
	ctx := context.Background()

	_, _, err := q.Add(ctx, "a", []byte(`{}`))
	require.NoError(t, err)

	for i, backoff := range []time.Duration{time.Second, 2 * time.Second} {
		j, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, j, "attempt %d", i+1)

		st, err := q.Fail(ctx, j, errors.New("boom"))
		require.NoError(t, err)
		assert.Equal(t, StateDelayed, st)

		clk.advance(backoff - time.Millisecond)
		j, err = q.Next(ctx)
		require.NoError(t, err)
		assert.Nil(t, j, "backoff %s not elapsed", backoff)
		clk.advance(time.Millisecond)
	}

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)

	st, err := q.Fail(ctx, j, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st)

	j, err = q.Job(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, j.State)
	assert.Equal(t, 3, j.AttemptsMade)
	assert.Equal(t, "boom", j.FailedReason)

	require.NoError(t, q.Retry(ctx, "a"))
	j, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Zero(t, j.AttemptsMade)
	assert.Empty(t, j.FailedReason)

	assert.ErrorIs(t, q.Retry(ctx, "a"), ErrNotFailed)
}

func TestFailedFilter(t *testing.T) {
	q, _ := newTestQueue(t, Options{Attempts: 1})
	ctx := context.Background()

	reasons := map[string]string{
		"fee":   "1010: Invalid Transaction: Inability to pay some fees: balance too low",
		"other": "1002: Verification Error: Runtime error",
	}

	for _, id := range []string{"fee", "other"} {
		_, _, err := q.Add(ctx, id, []byte(`{}`))
		require.NoError(t, err)

		j, err := q.Next(ctx)
		require.NoError(t, err)

		_, err = q.Fail(ctx, j, errors.New(reasons[id]))
		require.NoError(t, err)
	}

	all, err := q.Failed(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	fee, err := q.Failed(ctx, regexp.MustCompile(regexp.QuoteMeta("Inability to pay some fees")))
	require.NoError(t, err)
	require.Len(t, fee, 1)
	assert.Equal(t, "fee", fee[0].ID)
}

func TestRecover(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	for _, id := range []string{"1", "2"} {
		_, _, err := q.Add(ctx, id, []byte(`{}`))
		require.NoError(t, err)
		_, err = q.Next(ctx)
		require.NoError(t, err)
	}

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Waiting: 2}, c)

	j, err := q.Job(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, j.State)
}

var errTimeout = errors.New("i/o timeout")

// failingTx fails the first transaction carrying cmd. When executed is set the transaction reaches redis and only
// its reply is lost.
type failingTx struct {
	cmd      string
	executed bool
	done     bool
}

func (h *failingTx) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failingTx) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h *failingTx) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if h.done || !carries(cmds, h.cmd) {
			return next(ctx, cmds)
		}

		h.done = true

		if h.executed {
			if err := next(ctx, cmds); err != nil {
				return err
			}
		}

		return errTimeout
	}
}

func carries(cmds []redis.Cmder, name string) bool {
	for _, c := range cmds {
		if c.Name() == name {
			return true
		}
	}

	return false
}

func TestInterruptedAddIsDeliverable(t *testing.T) {
	for _, executed := range []bool{false, true} {
		q, _ := newTestQueue(t, Options{})
		ctx := context.Background()
		q.c.AddHook(&failingTx{cmd: "lpush", executed: executed})

		_, _, err := q.Add(ctx, "a", []byte(`{}`))
		require.ErrorIs(t, err, errTimeout)

		// the client retries after the timeout
		j, created, err := q.Add(ctx, "a", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, !executed, created)
		assert.Equal(t, StateWaiting, j.State)

		next, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, next, "a waiting job must be delivered")
		assert.Equal(t, "a", next.ID)

		c, err := q.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, Counts{Active: 1}, c)
	}
}

func TestInterruptedPromotionKeepsJobDelayed(t *testing.T) {
	q, clk := newTestQueue(t, Options{})
	ctx := context.Background()

	_, _, err := q.Add(ctx, "a", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, q.MoveToDelayed(ctx, "a", time.Second))

	clk.advance(time.Second)
	q.c.AddHook(&failingTx{cmd: "rpush"})

	_, err = q.Next(ctx)
	require.ErrorIs(t, err, errTimeout)

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Delayed: 1}, c)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "a", j.ID)
}
