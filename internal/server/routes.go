package server

import "net/http"

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.HandleFunc("/api/unlock", s.handleUnlock)
	s.mux.HandleFunc("/api/lock", s.handleLock)
	s.mux.HandleFunc("/api/key/rotate", s.handleRotate)

	s.mux.HandleFunc("/api/drops", s.handleDrops)
	s.mux.HandleFunc("/api/drops/", s.handleDropByID)
	s.mux.HandleFunc("/api/search", s.handleSearch)
	s.mux.HandleFunc("/api/sync", s.handleSync)

	s.mux.HandleFunc("/api/audit/verify", s.handleAuditVerify)
	s.mux.HandleFunc("/api/audit/export", s.handleAuditExport)
	s.mux.HandleFunc("/api/audit/prune", s.handleAuditPrune)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
