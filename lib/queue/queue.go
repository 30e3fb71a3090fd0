// Package queue implements a durable, at-least-once job queue with delayed redelivery, pause/resume and per-job
// retry. Jobs are identified by caller supplied ids so adding the same id twice returns the existing job.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// State of a job.
type State string

// Job states.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is a unit of work. Payload must be valid JSON.
type Job struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	State        State           `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  time.Time       `json:"processedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
	DelayedUntil time.Time       `json:"delayedUntil"`
}

// Counts is the number of jobs per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Pending returns the jobs waiting or being processed.
func (c Counts) Pending() int64 {
	return c.Waiting + c.Active
}

// Queue is the job queue used by the publisher and the gateway.
type Queue interface {
	Name() string
	// Add enqueues payload under id. If a job with id exists in any state it is returned with created false.
	Add(ctx context.Context, id string, payload []byte) (job *Job, created bool, err error)
	Job(ctx context.Context, id string) (*Job, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)
	// Failed returns the failed jobs whose failure reason matches reason, or all of them if reason is nil.
	Failed(ctx context.Context, reason *regexp.Regexp) ([]*Job, error)
	Retry(ctx context.Context, id string) error
	MoveToDelayed(ctx context.Context, id string, delay time.Duration) error
	Counts(ctx context.Context) (Counts, error)

	// worker side
	Next(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, j *Job) error
	Fail(ctx context.Context, j *Job, cause error) (State, error)
}

// Errors returned
var (
	ErrJobNotFound = errors.New("job not found")
	ErrNotFailed   = errors.New("job is not in failed state")
)

// DelayError asks the worker to move the job to the delayed set instead of failing it. No attempt is consumed.
type DelayError struct {
	Delay time.Duration
	Err   error
}

func (e *DelayError) Error() string {
	return fmt.Sprintf("delayed %s: %v", e.Delay, e.Err)
}

func (e *DelayError) Unwrap() error {
	return e.Err
}

// Delay wraps err so the job is redelivered after d.
func Delay(d time.Duration, err error) error {
	return &DelayError{Delay: d, Err: err}
}
