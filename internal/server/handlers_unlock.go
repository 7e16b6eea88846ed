package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/syntrise/dropcore/internal/audit"
	"github.com/syntrise/dropcore/internal/auth"
	cr "github.com/syntrise/dropcore/internal/crypto"
	"github.com/syntrise/dropcore/internal/keystore"
	"github.com/syntrise/dropcore/internal/search"
	"github.com/syntrise/dropcore/internal/syncer"
)

type unlockReq struct {
	Passphrase string `json:"passphrase"`
}

// handleUnlock resolves the master key (verifying the passphrase
// against the stored key, or creating one on first use) and issues a
// bearer token for the rest of the API.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rlUnlockIP.allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}

	var req unlockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	has, err := s.keys.HasStoredKey(r.Context(), s.cfg.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !has {
		if err := s.createKey(r, req.Passphrase); err != nil {
			writeErr(w, err)
			return
		}
	}

	mat, err := s.keys.Retrieve(r.Context(), s.cfg.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}

	// Password-derived keys re-verify the passphrase even though the
	// device key already unwrapped the bytes; a wrong passphrase must
	// never unlock.
	if mat.Type() == keystore.KeyTypePassword {
		if !s.verifyPassphrase(mat, req.Passphrase) {
			keystore.Discard(mat)
			http.Error(w, "invalid passphrase", http.StatusUnauthorized)
			return
		}
	}

	s.dropSessionLocked()
	key, _ := mat.Bytes()
	tok := search.NewTokenizer(search.DeriveSearchKey(mat), search.DefaultConfig())
	sess := &session{material: mat, key: key, tok: tok}
	if s.backend != nil {
		sess.recon = syncer.New(s.backend, tok, s.store, s.ledger, s.log)
	}
	s.sess = sess

	token, expires, err := s.signer.IssueToken(s.cfg.UserID)
	if err != nil {
		s.dropSessionLocked()
		writeErr(w, err)
		return
	}
	s.log.Info().Str("user", s.cfg.UserID).Str("key_type", string(mat.Type())).Msg("unlocked")
	writeJSON(w, map[string]any{"token": token, "expires": expires})
}

// createKey provisions the master key on first unlock per the
// configured mode.
func (s *Server) createKey(r *http.Request, passphrase string) error {
	var (
		d   keystore.Derived
		kt  keystore.KeyType
		err error
	)
	switch s.cfg.KeyMode {
	case "password":
		d, err = keystore.DeriveFromPassword(passphrase, nil)
		kt = keystore.KeyTypePassword
	default:
		d, err = keystore.GenerateRandom()
		kt = keystore.KeyTypeRandom
	}
	if err != nil {
		return err
	}
	defer cr.Zero(d.Key)

	if err := s.keys.Store(r.Context(), s.cfg.UserID, d.Key, d.Salt, kt); err != nil {
		return err
	}
	_, err = s.ledger.Append(r.Context(), audit.OpKeySetup, audit.Metadata{
		Fields: map[string]string{"trigger": "first_unlock", "status": "ok"},
	})
	return err
}

func (s *Server) verifyPassphrase(mat keystore.Material, passphrase string) bool {
	stored, ok := mat.Bytes()
	if !ok {
		// Opaque password keys cannot be re-verified locally; the
		// external keystore gates access instead.
		return true
	}
	d, err := keystore.DeriveFromPassword(passphrase, mat.Salt())
	if err != nil {
		return false
	}
	defer cr.Zero(d.Key)
	return subtle.ConstantTimeCompare(d.Key, stored) == 1
}

// handleRotate replaces the master key and re-encrypts every local
// record under it; without the re-encrypt pass, rotation would orphan
// all prior ciphertext.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.currentSession()
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var req unlockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	// Decrypt everything under the old key before it goes away.
	drops, err := s.loadLocalDrops(r.Context(), sess.key)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, d := range drops {
		if d.DecryptFailed {
			http.Error(w, "undecryptable record present, rotation would lose it: "+d.ID, http.StatusConflict)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		d  keystore.Derived
		kt keystore.KeyType
	)
	switch s.cfg.KeyMode {
	case "password":
		d, err = keystore.DeriveFromPassword(req.Passphrase, nil)
		kt = keystore.KeyTypePassword
	default:
		d, err = keystore.GenerateRandom()
		kt = keystore.KeyTypeRandom
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	defer cr.Zero(d.Key)

	if err := s.keys.Store(r.Context(), s.cfg.UserID, d.Key, d.Salt, kt); err != nil {
		writeErr(w, err)
		return
	}

	s.dropSessionLocked()
	mat, err := s.keys.Retrieve(r.Context(), s.cfg.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	key, _ := mat.Bytes()
	tok := search.NewTokenizer(search.DeriveSearchKey(mat), search.DefaultConfig())
	newSess := &session{material: mat, key: key, tok: tok}
	if s.backend != nil {
		newSess.recon = syncer.New(s.backend, tok, s.store, s.ledger, s.log)
	}
	s.sess = newSess

	reencrypted := 0
	for _, dr := range drops {
		if err := r.Context().Err(); err != nil {
			break
		}
		if err := s.saveDrop(r.Context(), dr, key); err != nil {
			writeErr(w, err)
			return
		}
		reencrypted++
	}

	if _, err := s.ledger.Append(r.Context(), audit.OpKeyRotate, audit.Metadata{
		Fields: map[string]string{"count": strconv.Itoa(reencrypted), "status": "ok"},
	}); err != nil {
		s.log.Error().Err(err).Msg("audit append")
	}

	token, expires, err := s.signer.IssueToken(s.cfg.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.log.Info().Int("reencrypted", reencrypted).Msg("master key rotated")
	writeJSON(w, map[string]any{"token": token, "expires": expires, "reencrypted": reencrypted})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.FromContext(r.Context()); !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	s.dropSessionLocked()
	s.mu.Unlock()
	s.log.Info().Msg("locked")
	w.WriteHeader(http.StatusNoContent)
}
