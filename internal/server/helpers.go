package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/syntrise/dropcore/internal/dropcore"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}

// writeErr maps the core sentinels to HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, dropcore.ErrAuthentication):
		code = http.StatusUnauthorized
	case errors.Is(err, dropcore.ErrConfiguration):
		code = http.StatusBadRequest
	case errors.Is(err, dropcore.ErrNotReady):
		code = http.StatusConflict
	case errors.Is(err, dropcore.ErrKeyNotFound):
		code = http.StatusNotFound
	case errors.Is(err, dropcore.ErrNetwork):
		code = http.StatusBadGateway
	case errors.Is(err, dropcore.ErrStorageUnavailable):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}
