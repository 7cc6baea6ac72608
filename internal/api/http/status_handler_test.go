package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sampsyo/cluster-workers/internal/master"
)

type stubSource struct {
	snap master.Snapshot
	err  error
}

func (s stubSource) Snapshot(context.Context) (master.Snapshot, error) {
	return s.snap, s.err
}

func newMux(src master.SnapshotSource) *http.ServeMux {
	mux := http.NewServeMux()
	NewStatusHandler(src, "node-1", slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterRoutes(mux)
	return mux
}

func TestStatus(t *testing.T) {
	src := stubSource{snap: master.Snapshot{
		QueuedTasks: 2,
		IdleWorkers: 1,
		Workers:     3,
		QueuedJobs:  []string{"a", "b"},
		ActiveJobs:  []string{"c", "d"},
		ActiveTasks: 2,
	}}

	rec := httptest.NewRecorder()
	newMux(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "node-1", body["node_id"])
	assert.EqualValues(t, 2, body["queued_tasks"])
	assert.EqualValues(t, 3, body["workers"])
	assert.Equal(t, []any{"a", "b"}, body["queued_jobs"])
}

type stubDirectory []string

func (d stubDirectory) Hosts() []string { return d }

func TestStatusWithDirectory(t *testing.T) {
	mux := http.NewServeMux()
	NewStatusHandler(stubSource{}, "", slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithDirectory(stubDirectory{"node1", "node2"}).
		RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []any{"node1", "node2"}, body["announced_workers"])
	assert.NotContains(t, body, "node_id")
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		src    stubSource
		want   int
	}{
		{"wrong method", http.MethodPost, stubSource{}, http.StatusMethodNotAllowed},
		{"source failure", http.MethodGet, stubSource{err: errors.New("stopped")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newMux(tt.src).ServeHTTP(rec, httptest.NewRequest(tt.method, "/status", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	mux := newMux(stubSource{})
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cw_http_requests_total")
}
