package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/util"
	"github.com/tarancss/capgw/scanner"
)

// EventEnqueuer is the block hook of a scanner turning chain events into follow-on requests. The data of every
// event named in its list must be a request; it is enqueued with an idempotency key derived from the position of
// the event in the chain, so scanning a block again does not enqueue twice.
type EventEnqueuer struct {
	g      *Gateway
	events []string
	log    *zap.Logger
}

// NewEventEnqueuer returns a hook enqueuing the requests carried by events (section.method).
func NewEventEnqueuer(g *Gateway, events []string, log *zap.Logger) *EventEnqueuer {
	return &EventEnqueuer{g: g, events: events, log: log}
}

// ProcessBlock enqueues the requests of block b. Events whose data is not a valid request can never be processed:
// the others are enqueued and scanner.ErrSkipBlock is returned.
func (e *EventEnqueuer) ProcessBlock(ctx context.Context, b types.Block) error {
	var (
		skipped []string
		errs    error
	)

	for _, ev := range b.Events {
		if !util.In(e.events, ev.Name()) {
			continue
		}

		var req types.TxReq
		if err := json.Unmarshal(ev.Data, &req); err != nil || len(req.Calls) == 0 {
			skipped = append(skipped, fmt.Sprintf("%s#%d", ev.Name(), ev.Index))

			continue
		}

		if req.IdempotencyKey == "" {
			req.IdempotencyKey = fmt.Sprintf("%s:%d:%d", ev.Name(), b.Number, ev.Index)
		}

		if req.ReferenceID == "" {
			req.ReferenceID = ev.TxHash
		}

		res, err := e.g.Enqueue(ctx, req)
		if err != nil {
			errs = multierr.Append(errs, err)

			continue
		}

		e.log.Debug("follow-on request", zap.Uint64("block", b.Number), zap.String("event", ev.Name()),
			zap.String("job", res.ID), zap.Bool("created", res.Created))
	}

	if errs != nil {
		return errs
	}

	if len(skipped) > 0 {
		return fmt.Errorf("%w: undecodable events %v", scanner.ErrSkipBlock, skipped)
	}

	return nil
}
