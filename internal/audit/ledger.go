// Package audit keeps a tamper-evident, hash-linked log of operations.
// Entries describe what happened, never content: metadata is sanitized
// against an allow-list and at most a content hash is recorded.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/storage"
)

// Genesis anchors the first entry's PrevHash.
const Genesis = "dropcore-audit-genesis"

// Operation kinds recorded in the ledger.
const (
	OpCreate      = "record.create"
	OpUpdate      = "record.update"
	OpDelete      = "record.delete"
	OpDecryptFail = "record.decrypt_fail"
	OpKeySetup    = "key.setup"
	OpKeyRotate   = "key.rotate"
	OpKeyDelete   = "key.delete"
	OpSyncPush    = "sync.push"
	OpSyncPull    = "sync.pull"
	OpSearch      = "search.query"
	OpPrune       = "ledger.prune"
)

// allowedMetaKeys is the only metadata that may enter an entry. Anything
// else, above all anything that could carry user content, is stripped,
// even when passed by mistake.
var allowedMetaKeys = map[string]struct{}{
	"count":         {},
	"category":      {},
	"privacy_level": {},
	"trigger":       {},
	"status":        {},
	"duration_ms":   {},
	"error_kind":    {},
	"removed":       {},
	"reason":        {},
}

// Entry is one immutable link in the chain.
type Entry struct {
	Seq         uint64            `json:"seq"`
	Timestamp   time.Time         `json:"timestamp"`
	Operation   string            `json:"operation"`
	Resource    string            `json:"resource,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	PrevHash    string            `json:"previous_hash"`
	Hash        string            `json:"hash"`
}

// Metadata is the caller-supplied side of an entry. Resource is an
// opaque reference (a record id, never content); ContentHash, when set,
// is a hash of the content, not the content.
type Metadata struct {
	Resource    string
	ContentHash string
	Fields      map[string]string
}

type ledgerState int

const (
	stateUninitialized ledgerState = iota
	stateInitializing
	stateReady
)

// Ledger is the single writer over the chain tail. Concurrent appends
// serialize on the mutex so PrevHash is never computed from a stale
// tail.
type Ledger struct {
	store storage.LedgerStore
	log   zerolog.Logger

	mu       sync.Mutex
	state    ledgerState
	tailHash string
	nextSeq  uint64
}

func NewLedger(store storage.LedgerStore, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, log: log, state: stateUninitialized}
}

// Init loads the chain tail. Must complete before Append or any verify
// operation; until then they fail with ErrNotReady.
func (l *Ledger) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == stateReady {
		return nil
	}
	l.state = stateInitializing
	tail, ok, err := l.store.TailRow(ctx)
	if err != nil {
		l.state = stateUninitialized
		return err
	}
	if ok {
		l.tailHash = tail.Hash
		l.nextSeq = tail.Seq + 1
	} else {
		l.tailHash = Genesis
		l.nextSeq = 1
	}
	l.state = stateReady
	l.log.Info().Uint64("next_seq", l.nextSeq).Msg("audit ledger ready")
	return nil
}

func (l *Ledger) ready() error {
	if l.state != stateReady {
		return fmt.Errorf("%w: audit ledger not initialized", dropcore.ErrNotReady)
	}
	return nil
}

// Append sanitizes metadata, links the entry to the current tail,
// computes its hash, persists it, and advances the tail.
func (l *Ledger) Append(ctx context.Context, op string, meta Metadata) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ready(); err != nil {
		return Entry{}, err
	}
	return l.appendLocked(ctx, op, meta)
}

func (l *Ledger) appendLocked(ctx context.Context, op string, meta Metadata) (Entry, error) {
	e := Entry{
		Seq:         l.nextSeq,
		Timestamp:   time.Now().UTC(),
		Operation:   op,
		Resource:    meta.Resource,
		ContentHash: meta.ContentHash,
		Meta:        sanitizeMeta(meta.Fields),
		PrevHash:    l.tailHash,
	}
	e.Hash = entryHash(e)

	row, err := toRow(e)
	if err != nil {
		return Entry{}, err
	}
	if err := l.store.AppendRow(ctx, row); err != nil {
		return Entry{}, err
	}
	l.tailHash = e.Hash
	l.nextSeq++
	return e, nil
}

// TailHash returns the current chain tail, for export consumers.
func (l *Ledger) TailHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tailHash
}

// HashContent is the helper callers use to record a content reference
// without recording content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func sanitizeMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if _, ok := allowedMetaKeys[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// entryHash covers every field except Hash itself, in a fixed order
// with unambiguous separators.
func entryHash(e Entry) string {
	h := sha256.New()
	var b strings.Builder
	b.WriteString(strconv.FormatUint(e.Seq, 10))
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(e.Timestamp.UnixNano(), 10))
	b.WriteByte('\n')
	b.WriteString(e.Operation)
	b.WriteByte('\n')
	b.WriteString(e.Resource)
	b.WriteByte('\n')
	b.WriteString(e.ContentHash)
	b.WriteByte('\n')
	keys := make([]string, 0, len(e.Meta))
	for k := range e.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Meta[k])
		b.WriteByte(';')
	}
	b.WriteByte('\n')
	b.WriteString(e.PrevHash)
	h.Write([]byte(b.String()))
	return hex.EncodeToString(h.Sum(nil))
}

func toRow(e Entry) (storage.LedgerRow, error) {
	var metaJSON []byte
	if len(e.Meta) > 0 {
		var err error
		metaJSON, err = json.Marshal(e.Meta)
		if err != nil {
			return storage.LedgerRow{}, err
		}
	}
	return storage.LedgerRow{
		Seq:         e.Seq,
		TS:          e.Timestamp.UnixNano(),
		Op:          e.Operation,
		Resource:    e.Resource,
		ContentHash: e.ContentHash,
		MetaJSON:    metaJSON,
		PrevHash:    e.PrevHash,
		Hash:        e.Hash,
	}, nil
}

func fromRow(r storage.LedgerRow) (Entry, error) {
	e := Entry{
		Seq:         r.Seq,
		Timestamp:   time.Unix(0, r.TS).UTC(),
		Operation:   r.Op,
		Resource:    r.Resource,
		ContentHash: r.ContentHash,
		PrevHash:    r.PrevHash,
		Hash:        r.Hash,
	}
	if len(r.MetaJSON) > 0 {
		if err := json.Unmarshal(r.MetaJSON, &e.Meta); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}
