package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/syntrise/dropcore/internal/audit"
	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/envelope"
	"github.com/syntrise/dropcore/internal/record"
	"github.com/syntrise/dropcore/internal/search"
	"github.com/syntrise/dropcore/internal/storage"
)

// Queue actions.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// Reconciler orchestrates encrypt-before-send and decrypt-after-fetch.
type Reconciler struct {
	backend Backend
	tok     *search.Tokenizer
	queue   storage.QueueStore
	ledger  *audit.Ledger
	log     zerolog.Logger

	// netTimeout bounds each backend call. Local crypto and storage are
	// assumed bounded and run without deadlines.
	netTimeout time.Duration
}

func New(backend Backend, tok *search.Tokenizer, queue storage.QueueStore, ledger *audit.Ledger, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		backend:    backend,
		tok:        tok,
		queue:      queue,
		ledger:     ledger,
		log:        log,
		netTimeout: 30 * time.Second,
	}
}

// PrepareForUpload encrypts a record and generates a fresh token set.
// Returns nil (no payload, no error) when the record's privacy level
// forbids syncing entirely.
func (r *Reconciler) PrepareForUpload(d record.Drop, key []byte) (*Payload, error) {
	if !d.Privacy.SyncAllowed() {
		return nil, nil
	}
	var tokens []string
	if d.HasSensitive() || d.Category != "" {
		var err error
		tokens, err = r.tok.RecordTokens(d)
		if err != nil {
			return nil, err
		}
	}
	enc, err := envelope.EncryptRecord(d, key)
	if err != nil {
		return nil, err
	}
	return &Payload{
		ID:                enc.ID,
		UserID:            enc.UserID,
		Category:          enc.Category,
		CreatedAt:         enc.CreatedAt,
		UpdatedAt:         enc.UpdatedAt,
		Favorite:          enc.Favorite,
		Archived:          enc.Archived,
		Deleted:           enc.Deleted,
		Privacy:           enc.Privacy,
		Media:             enc.Media,
		EncryptionVersion: enc.EncryptionVersion,
		Ciphertext:        enc.Ciphertext,
		Nonce:             enc.Nonce,
		Tokens:            tokens,
	}, nil
}

// ProcessFetched turns a backend payload back into a local record.
func (r *Reconciler) ProcessFetched(p Payload, key []byte) (record.Drop, error) {
	d := record.Drop{
		ID:                p.ID,
		UserID:            p.UserID,
		Category:          p.Category,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		Favorite:          p.Favorite,
		Archived:          p.Archived,
		Deleted:           p.Deleted,
		Privacy:           p.Privacy,
		Media:             p.Media,
		EncryptionVersion: p.EncryptionVersion,
		Ciphertext:        p.Ciphertext,
		Nonce:             p.Nonce,
	}
	return envelope.DecryptRecord(d, key)
}

// Merged is a merge result: the winning record plus what still needs to
// happen to it.
type Merged struct {
	record.Drop
	NeedsUpload   bool
	NeedsReupload bool
}

// Merge unifies local and server record sets. Server wins per id unless
// the local copy has a strictly newer modification time, in which case
// local wins flagged for re-upload. Local-only ids are flagged for
// upload. Output is ordered by modification time descending; the
// operation is idempotent.
func Merge(local, server []record.Drop) []Merged {
	byID := make(map[string]Merged, len(local)+len(server))
	for _, s := range server {
		byID[s.ID] = Merged{Drop: s}
	}
	for _, l := range local {
		s, onServer := byID[l.ID]
		switch {
		case !onServer:
			byID[l.ID] = Merged{Drop: l, NeedsUpload: true}
		case l.UpdatedAt.After(s.UpdatedAt):
			byID[l.ID] = Merged{Drop: l, NeedsReupload: true}
		}
	}
	out := make([]Merged, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Result summarizes one pass over a batch.
type Result struct {
	Uploaded int
	Queued   int
	Failed   []RecordFailure
}

// RecordFailure attaches a failure to its record without aborting the
// batch.
type RecordFailure struct {
	ID  string
	Err error
}

// Upload pushes one record now, or queues it for retry on network
// failure. A missing key is systemic, not per-record: it short-circuits
// with ErrNotReady.
func (r *Reconciler) Upload(ctx context.Context, d record.Drop, key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: no master key for upload", dropcore.ErrNotReady)
	}
	p, err := r.PrepareForUpload(d, key)
	if err != nil {
		return err
	}
	if p == nil {
		return nil // privacy level keeps this record local
	}
	nctx, cancel := context.WithTimeout(ctx, r.netTimeout)
	defer cancel()
	if err := r.backend.UpsertRecord(nctx, *p); err != nil {
		if qerr := r.enqueue(ctx, d.ID, ActionUpsert); qerr != nil {
			return qerr
		}
		r.log.Warn().Str("record", d.ID).Err(err).Msg("upload failed, queued for retry")
		return fmt.Errorf("%w: %v", dropcore.ErrNetwork, err)
	}
	r.auditOp(ctx, audit.OpSyncPush, d)
	return nil
}

// SyncUp uploads a batch with per-record isolation: one bad record does
// not abort the rest, but a systemic failure (no key) short-circuits
// with a single not-ready status.
func (r *Reconciler) SyncUp(ctx context.Context, drops []record.Drop, key []byte) (Result, error) {
	if len(key) == 0 {
		return Result{}, fmt.Errorf("%w: no master key for sync", dropcore.ErrNotReady)
	}
	var res Result
	for _, d := range drops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := r.Upload(ctx, d, key)
		switch {
		case err == nil:
			res.Uploaded++
		case errors.Is(err, dropcore.ErrNetwork):
			res.Queued++
		default:
			res.Failed = append(res.Failed, RecordFailure{ID: d.ID, Err: err})
		}
	}
	return res, nil
}

// Fetch pulls server records modified since the watermark and decrypts
// them, isolating per-record decrypt failures.
func (r *Reconciler) Fetch(ctx context.Context, userID string, since time.Time, key []byte) ([]record.Drop, []RecordFailure, error) {
	if len(key) == 0 {
		return nil, nil, fmt.Errorf("%w: no master key for fetch", dropcore.ErrNotReady)
	}
	nctx, cancel := context.WithTimeout(ctx, r.netTimeout)
	defer cancel()
	payloads, err := r.backend.FetchSince(nctx, userID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", dropcore.ErrNetwork, err)
	}
	out := make([]record.Drop, 0, len(payloads))
	var failed []RecordFailure
	for _, p := range payloads {
		if err := ctx.Err(); err != nil {
			return out, failed, err
		}
		d, err := r.ProcessFetched(p, key)
		if err != nil {
			failed = append(failed, RecordFailure{ID: p.ID, Err: err})
		}
		out = append(out, d) // flagged but visible-intact on failure
	}
	r.auditPull(ctx, len(out))
	return out, failed, nil
}

// Search sends query tokens (never the query text) to the backend and
// returns ranked candidate ids for the client to fetch and decrypt.
func (r *Reconciler) Search(ctx context.Context, userID, query string, limit int) ([]Candidate, error) {
	tokens, err := r.tok.QueryTokens(query)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil // all stop words: empty result, never match-everything
	}
	nctx, cancel := context.WithTimeout(ctx, r.netTimeout)
	defer cancel()
	cands, err := r.backend.SearchTokens(nctx, userID, tokens, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dropcore.ErrNetwork, err)
	}
	return cands, nil
}

func (r *Reconciler) auditOp(ctx context.Context, op string, d record.Drop) {
	if r.ledger == nil {
		return
	}
	meta := audit.Metadata{
		Resource: d.ID,
		Fields:   map[string]string{"category": d.Category, "privacy_level": string(d.Privacy)},
	}
	if len(d.Ciphertext) > 0 {
		meta.ContentHash = audit.HashContent(d.Ciphertext)
	}
	if _, err := r.ledger.Append(ctx, op, meta); err != nil {
		r.log.Warn().Err(err).Msg("audit append failed")
	}
}

func (r *Reconciler) auditPull(ctx context.Context, count int) {
	if r.ledger == nil {
		return
	}
	_, err := r.ledger.Append(ctx, audit.OpSyncPull, audit.Metadata{
		Fields: map[string]string{"count": fmt.Sprintf("%d", count)},
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("audit append failed")
	}
}
