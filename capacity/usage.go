package capacity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/store"
	"github.com/tarancss/capgw/scanner"
)

// WithdrawnEvent is the chain event reporting capacity consumed by a transaction.
const WithdrawnEvent = "capacity.CapacityWithdrawn"

// withdrawn is the data of a WithdrawnEvent.
type withdrawn struct {
	ProviderID string `json:"providerId"`
	Amount     uint64 `json:"amount,string"`
}

// UsageHandler returns a scanner handler for WithdrawnEvent that records the capacity withdrawn by transactions
// this service submitted, found in db, against the epoch of the block carrying them.
func (a *Accountant) UsageHandler(db store.DB) scanner.Handler {
	return func(ctx context.Context, b types.Block, evs []types.Event) error {
		var epoch *uint64

		for _, e := range evs {
			if e.TxHash == "" {
				continue
			}

			var w withdrawn
			if err := json.Unmarshal(e.Data, &w); err != nil {
				return fmt.Errorf("capacity: block %d event %d: %w", b.Number, e.Index, err)
			}

			if w.ProviderID != a.provider || w.Amount == 0 {
				continue
			}

			_, err := db.GetTxWatch(ctx, e.TxHash)
			if errors.Is(err, store.ErrDataNotFound) {
				// submitted by another service sharing the provider
				continue
			}

			if err != nil {
				return err
			}

			if epoch == nil {
				// the scanner may lag the head by a few blocks or a whole epoch
				info, err := a.chain.CapacityInfoAt(ctx, a.provider, b.Hash)
				if err != nil {
					return err
				}

				epoch = &info.CurrentEpoch
			}

			used, err := a.RecordUsage(ctx, *epoch, w.Amount)
			if err != nil {
				return err
			}

			a.log.Debug("capacity used", zap.String("tx", e.TxHash), zap.Uint64("amount", w.Amount),
				zap.Uint64("epoch", *epoch), zap.Uint64("used", used))
		}

		return nil
	}
}
