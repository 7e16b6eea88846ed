package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/syntrise/dropcore/internal/audit"
	"github.com/syntrise/dropcore/internal/envelope"
	"github.com/syntrise/dropcore/internal/record"
	"github.com/syntrise/dropcore/internal/search"
	"github.com/syntrise/dropcore/internal/storage"
	"github.com/syntrise/dropcore/internal/syncer"
)

type searchHit struct {
	Drop    record.Drop `json:"drop"`
	Matches int         `json:"matches"`
}

// handleSearch ranks local records against the query under the blind
// token scheme; plaintext never reaches the index, and a query of
// nothing but stop words matches nothing.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession()
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "q required", http.StatusBadRequest)
		return
	}
	strict := r.URL.Query().Get("strict") == "true"
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	qtokens, err := sess.tok.QueryTokens(q)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(qtokens) == 0 {
		writeJSON(w, []searchHit{})
		return
	}

	drops, err := s.loadLocalDrops(r.Context(), sess.key)
	if err != nil {
		writeErr(w, err)
		return
	}
	byID := make(map[string]record.Drop, len(drops))
	recs := make([]search.RecordTokens, 0, len(drops))
	for _, d := range drops {
		if d.DecryptFailed {
			continue
		}
		toks, err := sess.tok.RecordTokens(d)
		if err != nil {
			writeErr(w, err)
			return
		}
		byID[d.ID] = d
		recs = append(recs, search.RecordTokens{ID: d.ID, Tokens: toks})
	}

	ranked := search.Rank(qtokens, recs, 1, strict)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	hits := make([]searchHit, 0, len(ranked))
	for _, rk := range ranked {
		hits = append(hits, searchHit{Drop: byID[rk.ID], Matches: rk.Matches})
	}

	if _, err := s.ledger.Append(r.Context(), audit.OpSearch, audit.Metadata{
		Fields: map[string]string{"count": strconv.Itoa(len(hits))},
	}); err != nil {
		s.log.Error().Err(err).Msg("audit append")
	}
	writeJSON(w, hits)
}

type syncResp struct {
	Uploaded int      `json:"uploaded"`
	Queued   int      `json:"queued"`
	Fetched  int      `json:"fetched"`
	Drained  int      `json:"drained"`
	Failed   []string `json:"failed,omitempty"`
}

// handleSync runs one full pass: push local records, pull server
// changes since the watermark, merge, and drain the retry queue.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession()
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if sess.recon == nil {
		http.Error(w, "no sync backend configured", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	local, err := s.loadLocalDrops(ctx, sess.key)
	if err != nil {
		writeErr(w, err)
		return
	}

	up, err := sess.recon.SyncUp(ctx, local, sess.key)
	if err != nil {
		writeErr(w, err)
		return
	}

	since := s.lastSync(ctx)
	remote, fetchFailed, err := sess.recon.Fetch(ctx, s.cfg.UserID, since, sess.key)
	if err != nil {
		writeErr(w, err)
		return
	}

	var resp syncResp
	resp.Uploaded = up.Uploaded
	resp.Queued = up.Queued
	resp.Fetched = len(remote)
	for _, f := range up.Failed {
		resp.Failed = append(resp.Failed, f.ID)
	}
	for _, f := range fetchFailed {
		resp.Failed = append(resp.Failed, f.ID)
	}

	for _, m := range syncer.Merge(local, remote) {
		if err := s.saveDrop(ctx, m.Drop, sess.key); err != nil {
			writeErr(w, err)
			return
		}
		if m.NeedsUpload || m.NeedsReupload {
			s.pushIfConfigured(ctx, sess, m.Drop)
		}
	}

	drained, err := sess.recon.Drain(ctx, s.recordSource(sess.key), sess.key)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp.Drained = drained.Uploaded

	s.setLastSync(ctx, time.Now().UTC())
	writeJSON(w, resp)
}

// recordSource adapts the local store for queue draining. The stored
// doc is the sealed form; it must be decrypted here so the reconciler
// re-tokenizes and re-seals the real sensitive fields, not an empty
// record. An undecryptable record fails its task loudly rather than
// overwriting the server copy.
func (s *Server) recordSource(key []byte) func(ctx context.Context, id string) (record.Drop, bool, error) {
	return func(ctx context.Context, id string) (record.Drop, bool, error) {
		row, err := s.store.GetRecord(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return record.Drop{}, false, nil
			}
			return record.Drop{}, false, err
		}
		var d record.Drop
		if err := json.Unmarshal(row.Doc, &d); err != nil {
			return record.Drop{}, false, err
		}
		dec, err := envelope.DecryptRecord(d, key)
		if err != nil {
			return record.Drop{}, false, err
		}
		return dec, true, nil
	}
}

func syncWatermarkKey(userID string) string { return "sync/last/" + userID }

func (s *Server) lastSync(ctx context.Context) time.Time {
	b, err := s.store.Get(ctx, syncWatermarkKey(s.cfg.UserID))
	if err != nil || len(b) != 8 {
		return time.Time{}
	}
	return time.Unix(int64(binary.BigEndian.Uint64(b)), 0).UTC()
}

func (s *Server) setLastSync(ctx context.Context, t time.Time) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.Unix()))
	if err := s.store.Put(ctx, syncWatermarkKey(s.cfg.UserID), b[:]); err != nil {
		s.log.Warn().Err(err).Msg("persist sync watermark")
	}
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report, err := s.ledger.VerifyChain(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bundle, err := s.ledger.Export(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, bundle)
}

type pruneReq struct {
	RetentionDays int `json:"retention_days"`
}

func (s *Server) handleAuditPrune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req pruneReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	days := req.RetentionDays
	if days <= 0 {
		days = s.cfg.AuditRetentionDays
	}
	removed, err := s.ledger.Prune(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]int{"removed": removed})
}
