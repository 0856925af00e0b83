package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitrarr/mitra-go/internal/buildinfo"
	"github.com/mitrarr/mitra-go/internal/datastore/entities"
	"github.com/mitrarr/mitra-go/internal/datastore/repository"
	"github.com/mitrarr/mitra-go/internal/observability"
	"github.com/mitrarr/mitra-go/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *repository.Store) {
	t.Helper()
	ctx := context.Background()

	db := testutil.NewTestDB(t)
	store := repository.NewStore(db)

	src := testutil.SeedSource(t, db, "RR/CIVIL", true)
	sys := testutil.SeedSystem(t, db, "FACE-A", "http://a.local", src)
	rec := testutil.SeedRecord(t, db, src, testutil.RecordSpec{Name: "MARIA DA SILVA"})

	_, err := store.Links.Create(ctx, &entities.RecordSystemLink{RecordID: rec.ID, RecognitionSystemID: sys.ID})
	require.NoError(t, err)

	require.NoError(t, store.OpLog.Append(ctx, entities.LogRecordCreated, &rec.ID, "record created"))
	require.NoError(t, store.OpLog.Append(ctx, entities.LogUploadFailed, nil, "FACE-A unreachable"))
	require.NoError(t, store.OpLog.Append(ctx, entities.LogUploadFailed, nil, "FACE-A unreachable again"))

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	s, err := New(DefaultConfig(), store,
		WithLogger(testutil.DiscardLogger()),
		WithMetrics(m),
		WithBuildInfo(&buildinfo.Context{Version: "v0.9.0"}))
	require.NoError(t, err)
	return s, store
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "v0.9.0", body["version"])
	assert.Equal(t, "unknown", body["build_date"])
}

func TestStatus(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := get(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Records)
	assert.Equal(t, int64(0), body.Alerts)
	assert.Equal(t, int64(1), body.RecordLinks.Total)
	assert.Equal(t, int64(1), body.RecordLinks.Pending)
	assert.Equal(t, int64(1), body.Operations["record_created"])
	assert.Equal(t, int64(2), body.Operations["upload_failed"])
}

func TestStatus_InvalidSince(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := get(t, s, "/api/v1/status?since=yesterday")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid since parameter", body.Message)
	assert.Len(t, body.CorrelationID, 8)
}

func TestLogs(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantLen  int
	}{
		{"all newest first", "/api/v1/logs", http.StatusOK, 3},
		{"by code", "/api/v1/logs?code=39", http.StatusOK, 2},
		{"several codes", "/api/v1/logs?code=39&code=10", http.StatusOK, 3},
		{"limit", "/api/v1/logs?limit=1", http.StatusOK, 1},
		{"since duration", "/api/v1/logs?since=48h", http.StatusOK, 3},
		{"bad code", "/api/v1/logs?code=x", http.StatusBadRequest, 0},
		{"bad limit", "/api/v1/logs?limit=0", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.target)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var entries []LogEntry
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
			assert.Len(t, entries, tt.wantLen)
		})
	}

	rec := get(t, s, "/api/v1/logs?limit=1")
	var entries []LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "upload_failed", entries[0].Name)
	assert.True(t, entries[0].Failure)
	assert.Equal(t, "FACE-A unreachable again", entries[0].Message)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	require.Equal(t, http.StatusOK, get(t, s, "/api/v1/status").Code)

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/api/v1/status",status_code="200"} 1`)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Metrics = false
	s, err := New(cfg, repository.NewStore(testutil.NewTestDB(t)), WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Listen = "8080"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ReadTimeout = 0
	require.Error(t, cfg.Validate())
}
