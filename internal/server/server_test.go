package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/config"
)

func newTestServer(apiKey string) *Server {
	cfg := &config.Settings{}
	cfg.Server.APIKey = apiKey
	return New(nil, nil, nil, nil, cfg, nil)
}

func TestHealthzIsOpen(t *testing.T) {
	srv := newTestServer("secret")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
}

func TestAPIKeyRequired(t *testing.T) {
	srv := newTestServer("secret")

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"correct key", "secret", http.StatusBadRequest}, // passes auth, fails decoding
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/search", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestEmptyAPIKeyDisablesAuth(t *testing.T) {
	srv := newTestServer("")

	// Reaches the handler without a key; the malformed body stops the
	// request before any backend is touched.
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorEnvelopeShape(t *testing.T) {
	srv := newTestServer("secret")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var env struct {
		Detail    string `json:"detail"`
		ErrorCode string `json:"error_code"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "unauthorized", env.ErrorCode)
	assert.NotEmpty(t, env.Detail)
	assert.NotEmpty(t, env.Timestamp)
}

func TestReprocessRejectsBadStep(t *testing.T) {
	srv := newTestServer("")

	for _, body := range []string{`{"from_step":1}`, `{"from_step":8}`, `{}`} {
		req := httptest.NewRequest(http.MethodPost,
			"/documents/5f0c8f4e-3a1b-4f6e-9d2c-1a2b3c4d5e6f/reprocess",
			strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
}
