package httpapi

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"kait/internal/bank"
	"kait/internal/config"
	"kait/internal/ingest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	b, err := bank.New(config.ReasoningBankConfig{DBPath: filepath.Join(dir, "sidekick.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	proc := ingest.New(b, config.IngestConfig{RateLimitPerMin: 60}, filepath.Join(dir, "invalid_events.jsonl"))
	return NewServer(Config{Bank: b, Ingest: proc, Token: "secret"})
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/ingest", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestAcceptsWithValidToken(t *testing.T) {
	s := newTestServer(t)
	body := `{"source":"cli","user_input":"hi","ai_response":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestQueueEndpointReportsQuarantine(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
