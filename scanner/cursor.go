package scanner

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tarancss/capgw/lib/store"
)

// CursorKey returns the shared store key holding the last block committed by scanner id.
func CursorKey(id string) string {
	return "scanner:" + id + ":lastSeenBlockNumber"
}

// LastSeen returns the last block number committed by the scanner, 0 if it never ran.
func (s *Scanner) LastSeen(ctx context.Context) (uint64, error) {
	v, err := s.kv.Get(ctx, CursorKey(s.id))
	if errors.Is(err, store.ErrDataNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("scanner: cannot read cursor: %w", err)
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("scanner: corrupted cursor %q: %w", v, err)
	}

	return n, nil
}

// SetLastSeen moves the cursor. Operators use it to skip history or replay blocks; the scan loop commits through it
// after every block.
func (s *Scanner) SetLastSeen(ctx context.Context, n uint64) error {
	if err := s.kv.Set(ctx, CursorKey(s.id), strconv.FormatUint(n, 10)); err != nil {
		return fmt.Errorf("scanner: cannot commit block %d: %w", n, err)
	}

	return nil
}
