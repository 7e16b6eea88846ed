package audit

import (
	"context"
	"time"

	"github.com/syntrise/dropcore/internal/storage"
)

// ExportEntry is the portable shape for external verification: linkage
// material only, no metadata.
type ExportEntry struct {
	Seq       uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"previous_hash"`
}

// Bundle carries everything a third party needs to verify linkage
// independently.
type Bundle struct {
	Genesis  string        `json:"genesis"`
	TailHash string        `json:"tail_hash"`
	Entries  []ExportEntry `json:"entries"`
}

// Export returns the retained chain in portable form.
func (l *Ledger) Export(ctx context.Context) (Bundle, error) {
	l.mu.Lock()
	if err := l.ready(); err != nil {
		l.mu.Unlock()
		return Bundle{}, err
	}
	tail := l.tailHash
	l.mu.Unlock()

	b := Bundle{Genesis: Genesis, TailHash: tail}
	err := l.store.ScanRows(ctx, func(row storage.LedgerRow) error {
		b.Entries = append(b.Entries, ExportEntry{
			Seq:       row.Seq,
			Timestamp: time.Unix(0, row.TS).UTC(),
			Operation: row.Op,
			Hash:      row.Hash,
			PrevHash:  row.PrevHash,
		})
		return nil
	})
	if err != nil {
		return Bundle{}, err
	}
	return b, nil
}
