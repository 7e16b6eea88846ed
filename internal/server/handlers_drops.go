package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/syntrise/dropcore/internal/audit"
	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/envelope"
	"github.com/syntrise/dropcore/internal/record"
	"github.com/syntrise/dropcore/internal/storage"
)

type dropReq struct {
	Category  string                `json:"category"`
	Text      string                `json:"text"`
	Note      string                `json:"note"`
	Tags      []string              `json:"tags"`
	Latitude  *float64              `json:"latitude"`
	Longitude *float64              `json:"longitude"`
	Favorite  *bool                 `json:"favorite"`
	Archived  *bool                 `json:"archived"`
	Privacy   dropcore.PrivacyLevel `json:"privacy"`
	Media     *record.MediaMeta     `json:"media"`
	MediaData []byte                `json:"media_data"`
}

func (s *Server) handleDrops(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession()
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		drops, err := s.loadLocalDrops(r.Context(), sess.key)
		if err != nil {
			writeErr(w, err)
			return
		}
		if cat := r.URL.Query().Get("category"); cat != "" {
			filtered := drops[:0]
			for _, d := range drops {
				if d.Category == cat {
					filtered = append(filtered, d)
				}
			}
			drops = filtered
		}
		writeJSON(w, drops)

	case http.MethodPost:
		var req dropReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Category) == "" {
			http.Error(w, "category required", http.StatusBadRequest)
			return
		}
		d := record.New(s.cfg.UserID, req.Category)
		req.apply(&d)

		s.auditRecord(r.Context(), audit.OpCreate, d)
		if err := s.saveDrop(r.Context(), d, sess.key); err != nil {
			writeErr(w, err)
			return
		}
		s.pushIfConfigured(r.Context(), sess, d)
		writeJSONStatus(w, http.StatusCreated, d)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDropByID(w http.ResponseWriter, r *http.Request) {
	sess, err := s.currentSession()
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/drops/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		d, err := s.loadDrop(r.Context(), id, sess.key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			writeErr(w, err)
			return
		}
		writeJSON(w, d)

	case http.MethodPut:
		d, err := s.loadDrop(r.Context(), id, sess.key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			writeErr(w, err)
			return
		}
		if d.DecryptFailed {
			http.Error(w, "record undecryptable, refusing blind update", http.StatusConflict)
			return
		}
		var req dropReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		req.apply(&d)
		d.UpdatedAt = time.Now().UTC()

		s.auditRecord(r.Context(), audit.OpUpdate, d)
		if err := s.saveDrop(r.Context(), d, sess.key); err != nil {
			writeErr(w, err)
			return
		}
		s.pushIfConfigured(r.Context(), sess, d)
		writeJSON(w, d)

	case http.MethodDelete:
		d, err := s.loadDrop(r.Context(), id, sess.key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			writeErr(w, err)
			return
		}
		// Tombstone rather than erase, so the delete can propagate.
		d = d.ClearSensitive()
		d.Deleted = true
		d.UpdatedAt = time.Now().UTC()
		d.EncryptionVersion = 0
		d.Ciphertext = nil
		d.Nonce = nil

		s.auditRecord(r.Context(), audit.OpDelete, d)
		if err := s.saveDrop(r.Context(), d, sess.key); err != nil {
			writeErr(w, err)
			return
		}
		if sess.recon != nil {
			if err := sess.recon.QueueDelete(r.Context(), d.ID); err != nil {
				s.log.Warn().Err(err).Str("record", d.ID).Msg("queue delete")
			}
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// apply copies the set request fields onto the drop. Nil pointers mean
// "leave unchanged" so partial updates work.
func (req dropReq) apply(d *record.Drop) {
	if req.Category != "" {
		d.Category = req.Category
	}
	if req.Text != "" {
		d.Text = req.Text
	}
	if req.Note != "" {
		d.Note = req.Note
	}
	if req.Tags != nil {
		d.Tags = req.Tags
	}
	if req.Latitude != nil {
		d.Latitude = req.Latitude
	}
	if req.Longitude != nil {
		d.Longitude = req.Longitude
	}
	if req.Favorite != nil {
		d.Favorite = *req.Favorite
	}
	if req.Archived != nil {
		d.Archived = *req.Archived
	}
	if req.Privacy != "" {
		d.Privacy = req.Privacy
	}
	if req.Media != nil {
		d.Media = req.Media
	}
	if req.MediaData != nil {
		d.MediaData = req.MediaData
	}
}

// saveDrop encrypts and persists one record locally.
func (s *Server) saveDrop(ctx context.Context, d record.Drop, key []byte) error {
	enc, err := envelope.EncryptRecord(d, key)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(enc)
	if err != nil {
		return err
	}
	return s.store.SaveRecord(ctx, storage.RecordRow{
		ID:        d.ID,
		UserID:    d.UserID,
		UpdatedAt: d.UpdatedAt.Unix(),
		Deleted:   d.Deleted,
		Doc:       doc,
	})
}

// loadDrop reads and decrypts one record. A failed decrypt still
// returns the visible fields, flagged.
func (s *Server) loadDrop(ctx context.Context, id string, key []byte) (record.Drop, error) {
	row, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return record.Drop{}, err
	}
	var d record.Drop
	if err := json.Unmarshal(row.Doc, &d); err != nil {
		return record.Drop{}, err
	}
	dec, err := envelope.DecryptRecord(d, key)
	if err != nil {
		s.log.Warn().Str("record", id).Msg("decrypt failed, serving visible fields")
		s.auditRecord(ctx, audit.OpDecryptFail, dec)
	}
	return dec, nil
}

func (s *Server) loadLocalDrops(ctx context.Context, key []byte) ([]record.Drop, error) {
	rows, err := s.store.ListRecords(ctx, s.cfg.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]record.Drop, 0, len(rows))
	for _, row := range rows {
		var d record.Drop
		if err := json.Unmarshal(row.Doc, &d); err != nil {
			s.log.Warn().Str("record", row.ID).Err(err).Msg("unreadable local record")
			continue
		}
		dec, err := envelope.DecryptRecord(d, key)
		if err != nil {
			s.auditRecord(ctx, audit.OpDecryptFail, dec)
		}
		out = append(out, dec)
	}
	return out, nil
}

// pushIfConfigured uploads now or queues for retry; local save already
// succeeded, so failures here never surface to the client.
func (s *Server) pushIfConfigured(ctx context.Context, sess *session, d record.Drop) {
	if sess.recon == nil || !d.Privacy.SyncAllowed() {
		return
	}
	if err := sess.recon.Upload(ctx, d, sess.key); err != nil {
		s.log.Warn().Err(err).Str("record", d.ID).Msg("upload deferred")
	}
}

func (s *Server) auditRecord(ctx context.Context, op string, d record.Drop) {
	_, err := s.ledger.Append(ctx, op, audit.Metadata{
		Resource:    d.ID,
		ContentHash: audit.HashContent([]byte(d.Text + d.Note)),
		Fields: map[string]string{
			"category":      d.Category,
			"privacy_level": string(d.Privacy),
		},
	})
	if err != nil {
		s.log.Error().Err(err).Str("op", op).Msg("audit append")
	}
}
