package middleware_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yardsight/yardsight/analysis-engine/internal/api/middleware"
)

// captureLog points the global logger at a buffer for the test's
// duration.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func serve(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLoggerRecordsRequestFields(t *testing.T) {
	buf := captureLog(t)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	})
	handler := chimw.RequestID(middleware.Logger(inner))

	rec := serve(handler, "/api/v1/analyses/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)

	line := buf.String()
	assert.Contains(t, line, `"level":"warn"`)
	assert.Contains(t, line, `"path":"/api/v1/analyses/nope"`)
	assert.Contains(t, line, `"status":404`)
	assert.Contains(t, line, `"bytes":7`)
	assert.Contains(t, line, `"request_id":"`)
}

func TestLoggerLevelsByStatusClass(t *testing.T) {
	buf := captureLog(t)

	status := http.StatusOK
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	handler := middleware.Logger(inner)

	serve(handler, "/api/v1/status")
	assert.Contains(t, buf.String(), `"level":"info"`)

	buf.Reset()
	status = http.StatusBadGateway
	serve(handler, "/api/v1/analyses")
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestLoggerSkipsProbeAndScrapePaths(t *testing.T) {
	buf := captureLog(t)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler := middleware.Logger(inner)

	rec := serve(handler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(handler, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, buf.String())
}
