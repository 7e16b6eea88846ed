package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/syntrise/dropcore/internal/audit"
	"github.com/syntrise/dropcore/internal/auth"
	"github.com/syntrise/dropcore/internal/keystore"
	"github.com/syntrise/dropcore/internal/platform"
	"github.com/syntrise/dropcore/internal/search"
	"github.com/syntrise/dropcore/internal/storage"
	"github.com/syntrise/dropcore/internal/syncer"
)

// session is the unlocked state: resolved key material and the
// tokenizer and reconciler built from it. nil while locked.
type session struct {
	material keystore.Material
	key      []byte // nil for opaque material
	tok      *search.Tokenizer
	recon    *syncer.Reconciler
}

type Server struct {
	cfg Config
	log zerolog.Logger

	mux    *http.ServeMux
	signer *auth.JWTSigner

	store   *storage.SQLiteStore
	keys    *keystore.Store
	ledger  *audit.Ledger
	backend syncer.Backend

	mu   sync.Mutex
	sess *session

	rlUnlockIP *multiLimiter
}

func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Server, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}

	store, err := storage.OpenSQLite(filepath.Join(cfg.DataDir, "dropcore.db"))
	if err != nil {
		return nil, err
	}

	kc, err := platform.NewFileKeychain(filepath.Join(cfg.DataDir, "keychain"))
	if err != nil {
		store.Close()
		return nil, err
	}
	deviceKey, err := platform.LoadOrCreateDeviceKey(kc, "device", 32)
	if err != nil {
		store.Close()
		return nil, err
	}
	keys, err := keystore.New(store, deviceKey, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	ledger := audit.NewLedger(store, log)
	if err := ledger.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}

	var backend syncer.Backend
	switch cfg.Backend {
	case "mongo":
		backend, err = syncer.NewMongoBackend(ctx, cfg.Mongo.URI, cfg.Mongo.DB, cfg.Mongo.Collection)
		if err != nil {
			store.Close()
			return nil, err
		}
	case "http":
		backend = syncer.NewHTTPBackend(cfg.Remote.URL, cfg.Remote.Token)
	}

	priv, _, err := auth.GenerateEd25519()
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		mux:     http.NewServeMux(),
		signer:  auth.NewJWTSigner(priv, cfg.JWTIssuer, time.Duration(cfg.TokenTTLMinutes)*time.Minute),
		store:   store,
		keys:    keys,
		ledger:  ledger,
		backend: backend,
	}

	perWindow := func(n int, window time.Duration) float64 { return float64(n) / window.Seconds() }
	s.rlUnlockIP = newMultiLimiter(rate.Limit(perWindow(10, time.Minute)), 10, time.Hour)

	s.routes()
	return s, nil
}

func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.dropSessionLocked()
	s.mu.Unlock()
	if mb, ok := s.backend.(*syncer.MongoBackend); ok {
		_ = mb.Close(ctx)
	}
	return s.store.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") && !s.isPublic(path) {
		auth.Required(s.signer)(s.mux).ServeHTTP(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/health", "/api/health", "/api/unlock":
		return true
	default:
		return false
	}
}

// currentSession returns the unlocked session or an error fit for a
// 401 response.
func (s *Server) currentSession() (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, fmt.Errorf("locked: unlock first")
	}
	return s.sess, nil
}

func (s *Server) dropSessionLocked() {
	if s.sess == nil {
		return
	}
	keystore.Discard(s.sess.material)
	s.sess = nil
}
