package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/queue"
	"github.com/councilkb/councilkb/internal/store"
)

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	Detail    string    `json:"detail"`
	ErrorCode string    `json:"error_code"`
	Timestamp time.Time `json:"timestamp"`
}

// requireAPIKey rejects requests without the pre-shared key. An empty
// configured key disables authentication, for local development.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.settings.Server.APIKey
		if want != "" {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				s.writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("invalid api key"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, err error) {
	s.writeJSON(w, status, errorEnvelope{
		Detail:    err.Error(),
		ErrorCode: code,
		Timestamp: time.Now().UTC(),
	})
}

// respondError maps domain error kinds to HTTP statuses. Only explicitly
// tagged errors get a kind-specific status; anything untagged is internal.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, queue.ErrUnknownTask) {
		s.writeError(w, http.StatusNotFound, "not_found", err)
		return
	}

	var ke *domain.KindError
	if errors.As(err, &ke) {
		switch ke.Kind {
		case domain.KindInputInvalid:
			s.writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		case domain.KindExternalTemporary:
			s.writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", err)
			return
		}
	}

	s.logger.Error("request failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal_error", err)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err)
		return false
	}
	return true
}
