// Package gateway implements the enqueue gateway of the publisher queue. Every request is enqueued under a stable id,
// so resubmitting a request (ie. a client retrying after a timeout) returns the job already enqueued instead of
// creating a new one.
//
// The id is the idempotency key of the request when present, otherwise the BLAKE3 hash of the canonical JSON
// encoding of the request. Only byte-identical requests share a hash: the same calls encoded or signed differently
// are different requests.
package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/queue"
)

// Result of an enqueue. Created is false when the request had already been enqueued; State is then the current
// state of the existing job.
type Result struct {
	ID      string      `json:"id"`
	State   queue.State `json:"state"`
	Created bool        `json:"created"`
}

// Gateway enqueues requests into the publisher queue.
type Gateway struct {
	q   queue.Queue
	log *zap.Logger

	mu      sync.Mutex
	s       *http.Server // http server
	stopped bool
}

// New returns a gateway for q.
func New(q queue.Queue, log *zap.Logger) *Gateway {
	return &Gateway{q: q, log: log.With(zap.String("queue", q.Name()))}
}

// JobID returns the id of the job for req.
func JobID(req types.TxReq) (string, error) {
	if req.IdempotencyKey != "" {
		return req.IdempotencyKey, nil
	}

	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("gateway: cannot encode request: %w", err)
	}

	h := blake3.Sum256(b)

	return hex.EncodeToString(h[:]), nil
}

// Enqueue adds req to the queue unless a job with the same id exists, in which case the existing job is reported.
func (g *Gateway) Enqueue(ctx context.Context, req types.TxReq) (Result, error) {
	if len(req.Calls) == 0 {
		return Result{}, types.ErrNoCalls
	}

	id, err := JobID(req)
	if err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: cannot encode request: %w", err)
	}

	j, created, err := g.q.Add(ctx, id, payload)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: cannot enqueue %s: %w", id, err)
	}

	if created {
		g.log.Debug("request enqueued", zap.String("job", id), zap.String("reference", req.ReferenceID))
	} else {
		g.log.Debug("request already enqueued", zap.String("job", id), zap.String("state", string(j.State)))
	}

	return Result{ID: id, State: j.State, Created: created}, nil
}
