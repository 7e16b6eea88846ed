package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/syntrise/dropcore/internal/audit"
	"github.com/syntrise/dropcore/internal/record"
	"github.com/syntrise/dropcore/internal/storage"
	"github.com/syntrise/dropcore/internal/syncer"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := Config{
		DataDir: t.TempDir(),
		UserID:  "u1",
		KeyMode: "password",
		Backend: "none",
	}
	s, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close(context.Background())
	})
	return s, ts
}

func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func unlock(t *testing.T, ts *httptest.Server, passphrase string) string {
	t.Helper()
	var resp struct {
		Token string `json:"token"`
	}
	code := doJSON(t, http.MethodPost, ts.URL+"/api/unlock", "",
		map[string]string{"passphrase": passphrase}, &resp)
	if code != http.StatusOK {
		t.Fatalf("unlock = %d, want 200", code)
	}
	if resp.Token == "" {
		t.Fatal("unlock returned empty token")
	}
	return resp.Token
}

func TestUnlockWrongPassphrase(t *testing.T) {
	_, ts := newTestServer(t)
	unlock(t, ts, "correct horse battery")

	code := doJSON(t, http.MethodPost, ts.URL+"/api/unlock", "",
		map[string]string{"passphrase": "wrong"}, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("wrong passphrase = %d, want 401", code)
	}
}

func TestProtectedRequiresToken(t *testing.T) {
	_, ts := newTestServer(t)
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/drops", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", code)
	}
}

func TestDropLifecycle(t *testing.T) {
	_, ts := newTestServer(t)
	token := unlock(t, ts, "correct horse battery")

	var created record.Drop
	code := doJSON(t, http.MethodPost, ts.URL+"/api/drops", token, map[string]any{
		"category": "journal",
		"text":     "met the harbor master about mooring fees",
		"tags":     []string{"harbor"},
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create = %d, want 201", code)
	}
	if created.ID == "" || created.Text == "" {
		t.Fatalf("created = %+v, want id and text", created)
	}

	var list []record.Drop
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/drops", token, nil, &list); code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	if len(list) != 1 || list[0].Text != created.Text {
		t.Fatalf("list = %+v, want decrypted text back", list)
	}

	var updated record.Drop
	code = doJSON(t, http.MethodPut, ts.URL+"/api/drops/"+created.ID, token,
		map[string]any{"note": "fees waived"}, &updated)
	if code != http.StatusOK || updated.Note != "fees waived" {
		t.Fatalf("update = (%d, %+v)", code, updated)
	}
	if updated.Text != created.Text {
		t.Fatal("partial update clobbered untouched field")
	}

	if code := doJSON(t, http.MethodDelete, ts.URL+"/api/drops/"+created.ID, token, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", code)
	}
	list = nil
	doJSON(t, http.MethodGet, ts.URL+"/api/drops", token, nil, &list)
	if len(list) != 0 {
		t.Fatalf("list after delete = %+v, want empty", list)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	token := unlock(t, ts, "correct horse battery")

	for _, text := range []string{"picked wild blackberries by the river", "grocery run for the week"} {
		code := doJSON(t, http.MethodPost, ts.URL+"/api/drops", token,
			map[string]any{"category": "journal", "text": text}, nil)
		if code != http.StatusCreated {
			t.Fatalf("create = %d", code)
		}
	}

	var hits []searchHit
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/search?q=blackberries", token, nil, &hits); code != http.StatusOK {
		t.Fatalf("search = %d", code)
	}
	if len(hits) != 1 || hits[0].Drop.Text != "picked wild blackberries by the river" {
		t.Fatalf("hits = %+v, want the blackberry record", hits)
	}

	// All stop words: empty result, not everything.
	hits = nil
	doJSON(t, http.MethodGet, ts.URL+"/api/search?q=the", token, nil, &hits)
	if len(hits) != 0 {
		t.Fatalf("stop-word query hits = %+v, want none", hits)
	}
}

func TestAuditEndpoints(t *testing.T) {
	_, ts := newTestServer(t)
	token := unlock(t, ts, "correct horse battery")

	doJSON(t, http.MethodPost, ts.URL+"/api/drops", token,
		map[string]any{"category": "journal", "text": "audit me"}, nil)

	var report audit.Report
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/audit/verify", token, nil, &report); code != http.StatusOK {
		t.Fatalf("verify = %d", code)
	}
	if !report.Valid || report.Count < 2 {
		t.Fatalf("report = %+v, want valid chain with key setup and create", report)
	}

	var bundle audit.Bundle
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/audit/export", token, nil, &bundle); code != http.StatusOK {
		t.Fatalf("export = %d", code)
	}
	if bundle.Genesis != audit.Genesis || len(bundle.Entries) != report.Count {
		t.Fatalf("bundle = %+v", bundle)
	}
}

// captureBackend records upserted payloads for inspection.
type captureBackend struct {
	upserts []syncer.Payload
}

func (b *captureBackend) UpsertRecord(ctx context.Context, p syncer.Payload) error {
	b.upserts = append(b.upserts, p)
	return nil
}

func (b *captureBackend) SoftDelete(ctx context.Context, userID, id string) error { return nil }

func (b *captureBackend) FetchSince(ctx context.Context, userID string, since time.Time) ([]syncer.Payload, error) {
	return nil, nil
}

func (b *captureBackend) SearchTokens(ctx context.Context, userID string, tokens []string, limit int) ([]syncer.Candidate, error) {
	return nil, nil
}

func TestDrainUploadsDecryptedRecord(t *testing.T) {
	s, ts := newTestServer(t)
	token := unlock(t, ts, "correct horse battery")

	var created record.Drop
	code := doJSON(t, http.MethodPost, ts.URL+"/api/drops", token, map[string]any{
		"category": "journal",
		"text":     "riverside blackberry picking",
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}

	ctx := context.Background()
	// Queue the record the way a failed upload would.
	if err := s.store.UpsertTask(ctx, storage.QueueRow{
		RecordID: created.ID, Action: syncer.ActionUpsert, EnqueuedAt: 1,
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	backend := &captureBackend{}
	recon := syncer.New(backend, sess.tok, s.store, s.ledger, zerolog.Nop())

	res, err := recon.Drain(ctx, s.recordSource(sess.key), sess.key)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Uploaded != 1 || len(backend.upserts) != 1 {
		t.Fatalf("drain result = %+v, upserts = %d", res, len(backend.upserts))
	}

	// The drained payload must carry the real envelope and the full
	// token set, not an empty re-encryption of the stored sealed form.
	p := backend.upserts[0]
	if p.EncryptionVersion == 0 || len(p.Ciphertext) == 0 {
		t.Fatalf("payload version=%d ciphertext=%d bytes, want sealed envelope",
			p.EncryptionVersion, len(p.Ciphertext))
	}
	want, err := sess.tok.QueryTokens("blackberry")
	if err != nil {
		t.Fatalf("query tokens: %v", err)
	}
	have := make(map[string]bool, len(p.Tokens))
	for _, tk := range p.Tokens {
		have[tk] = true
	}
	found := false
	for _, tk := range want {
		if have[tk] {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("payload tokens miss the record text, sealed form was tokenized")
	}
}

func TestDrainFailsUndecryptableRecord(t *testing.T) {
	s, ts := newTestServer(t)
	token := unlock(t, ts, "correct horse battery")

	var created record.Drop
	code := doJSON(t, http.MethodPost, ts.URL+"/api/drops", token, map[string]any{
		"category": "journal",
		"text":     "soon corrupted",
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}

	ctx := context.Background()
	row, err := s.store.GetRecord(ctx, created.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	var stored record.Drop
	if err := json.Unmarshal(row.Doc, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	stored.Ciphertext[0] ^= 0xFF
	row.Doc, _ = json.Marshal(stored)
	if err := s.store.SaveRecord(ctx, row); err != nil {
		t.Fatalf("save corrupted: %v", err)
	}
	if err := s.store.UpsertTask(ctx, storage.QueueRow{
		RecordID: created.ID, Action: syncer.ActionUpsert, EnqueuedAt: 1,
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	backend := &captureBackend{}
	recon := syncer.New(backend, sess.tok, s.store, s.ledger, zerolog.Nop())

	res, err := recon.Drain(ctx, s.recordSource(sess.key), sess.key)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].ID != created.ID {
		t.Fatalf("failed = %+v, want the corrupted record", res.Failed)
	}
	if len(backend.upserts) != 0 {
		t.Fatalf("upserts = %+v, undecryptable record must not reach the backend", backend.upserts)
	}
}

func TestRotateReencrypts(t *testing.T) {
	_, ts := newTestServer(t)
	token := unlock(t, ts, "first passphrase here")

	code := doJSON(t, http.MethodPost, ts.URL+"/api/drops", token,
		map[string]any{"category": "journal", "text": "survives rotation"}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}

	var rot struct {
		Token       string `json:"token"`
		Reencrypted int    `json:"reencrypted"`
	}
	code = doJSON(t, http.MethodPost, ts.URL+"/api/key/rotate", token,
		map[string]string{"passphrase": "second passphrase here"}, &rot)
	if code != http.StatusOK || rot.Reencrypted != 1 {
		t.Fatalf("rotate = (%d, %+v)", code, rot)
	}

	// Old passphrase no longer unlocks; the new one does and reads the record.
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/unlock", "",
		map[string]string{"passphrase": "first passphrase here"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("old passphrase = %d, want 401", code)
	}
	token2 := unlock(t, ts, "second passphrase here")
	var list []record.Drop
	doJSON(t, http.MethodGet, ts.URL+"/api/drops", token2, nil, &list)
	if len(list) != 1 || list[0].Text != "survives rotation" {
		t.Fatalf("list after rotate = %+v", list)
	}
}

func TestLockDropsSession(t *testing.T) {
	_, ts := newTestServer(t)
	token := unlock(t, ts, "correct horse battery")

	if code := doJSON(t, http.MethodPost, ts.URL+"/api/lock", token, map[string]string{}, nil); code != http.StatusNoContent {
		t.Fatalf("lock = %d, want 204", code)
	}
	// Token is still valid JWT but the key is gone.
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/drops", token, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("post-lock list = %d, want 401", code)
	}
}

func TestUnlockSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{DataDir: dir, UserID: "u1", KeyMode: "password", Backend: "none"}

	s1, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ts1 := httptest.NewServer(s1.Handler())
	token := unlock(t, ts1, "correct horse battery")
	code := doJSON(t, http.MethodPost, ts1.URL+"/api/drops", token,
		map[string]any{"category": "journal", "text": "before restart"}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	ts1.Close()
	if err := s1.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ts2 := httptest.NewServer(s2.Handler())
	defer func() {
		ts2.Close()
		_ = s2.Close(context.Background())
	}()

	token2 := unlock(t, ts2, "correct horse battery")
	var list []record.Drop
	doJSON(t, http.MethodGet, ts2.URL+"/api/drops", token2, nil, &list)
	if len(list) != 1 || list[0].Text != "before restart" {
		t.Fatalf("list after restart = %+v", list)
	}
}
