package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/storage"
)

// ChainError locates one verification failure.
type ChainError struct {
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
}

func (c ChainError) Error() string {
	return fmt.Sprintf("entry %d: %s", c.Seq, c.Reason)
}

// Report is the outcome of a full chain walk.
type Report struct {
	Valid  bool         `json:"valid"`
	Errors []ChainError `json:"errors"`
	Count  int          `json:"count"`
	// Truncated is set when the first retained entry does not chain
	// from genesis: a prune removed its predecessors, so linkage before
	// that point is no longer verifiable. Reported honestly instead of
	// forging continuity.
	Truncated bool `json:"truncated,omitempty"`
}

// VerifyChain walks every retained entry, checks linkage against the
// predecessor, and recomputes every hash. It collects all mismatches
// rather than stopping at the first.
func (l *Ledger) VerifyChain(ctx context.Context) (Report, error) {
	l.mu.Lock()
	if err := l.ready(); err != nil {
		l.mu.Unlock()
		return Report{}, err
	}
	l.mu.Unlock()

	rep := Report{Valid: true}
	prevHash := ""
	first := true
	err := l.store.ScanRows(ctx, func(row storage.LedgerRow) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := fromRow(row)
		if err != nil {
			rep.Errors = append(rep.Errors, ChainError{Seq: row.Seq, Reason: "unreadable entry"})
			rep.Count++
			prevHash = row.Hash
			first = false
			return nil
		}
		rep.Count++
		if first {
			first = false
			if e.PrevHash != Genesis {
				rep.Truncated = true
			}
		} else if e.PrevHash != prevHash {
			rep.Errors = append(rep.Errors, ChainError{Seq: e.Seq, Reason: "previous hash does not match predecessor"})
		}
		if entryHash(e) != e.Hash {
			rep.Errors = append(rep.Errors, ChainError{Seq: e.Seq, Reason: "stored hash does not match recomputed hash"})
		}
		prevHash = e.Hash
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	rep.Valid = len(rep.Errors) == 0
	return rep, nil
}

// VerifyResourceHistory returns the ordered entries touching one
// resource, recomputing each hash. A mismatch fails with
// ErrChainIntegrity naming the entry.
func (l *Ledger) VerifyResourceHistory(ctx context.Context, resource string) ([]Entry, error) {
	l.mu.Lock()
	if err := l.ready(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	rows, err := l.store.RowsByResource(ctx, resource)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d unreadable", dropcore.ErrChainIntegrity, row.Seq)
		}
		if entryHash(e) != e.Hash {
			return nil, fmt.Errorf("%w: entry %d hash mismatch", dropcore.ErrChainIntegrity, e.Seq)
		}
		out = append(out, e)
	}
	return out, nil
}

// Prune deletes entries older than the retention window, keeping the
// remainder internally consistent from the first retained entry
// forward, and attests to its own pruning in a new entry.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ready(); err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-retention).UnixNano()
	removed, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		_, err = l.appendLocked(ctx, OpPrune, Metadata{Fields: map[string]string{
			"removed": fmt.Sprintf("%d", removed),
			"reason":  "retention",
		}})
		if err != nil {
			return removed, err
		}
		l.log.Info().Int("removed", removed).Msg("audit ledger pruned; pre-prune linkage no longer verifiable")
	}
	return removed, nil
}
