package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sampsyo/cluster-workers/internal/master"
	"github.com/sampsyo/cluster-workers/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HostLister lists the workers announced out of band, such as through etcd.
type HostLister interface {
	Hosts() []string
}

// StatusHandler serves the master's read-only status API.
type StatusHandler struct {
	source    master.SnapshotSource
	directory HostLister
	nodeID    string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewStatusHandler creates a handler reporting source's state.
func NewStatusHandler(source master.SnapshotSource, nodeID string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		source: source,
		nodeID: nodeID,
		logger: logger.With("component", "status-handler"),
		tracer: otel.Tracer("cluster-workers-api"),
	}
}

// WithDirectory adds the announced worker hosts to /status.
func (h *StatusHandler) WithDirectory(d HostLister) *StatusHandler {
	h.directory = d
	return h
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers /status and /metrics on mux.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/status", h.instrument("/status", http.HandlerFunc(h.handleStatus)))
	mux.Handle("/metrics", promhttp.Handler())
}

func (h *StatusHandler) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

type statusResponse struct {
	NodeID string `json:"node_id,omitempty"`
	master.Snapshot
	AnnouncedWorkers []string `json:"announced_workers,omitempty"`
}

func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "handler.Status")
	defer span.End()

	snap, err := h.source.Snapshot(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to read dispatcher state")
		span.RecordError(err)
		h.logger.Error("error reading dispatcher state", "error", err)
		http.Error(w, "Master is shutting down", http.StatusServiceUnavailable)
		return
	}

	resp := statusResponse{NodeID: h.nodeID, Snapshot: snap}
	if h.directory != nil {
		resp.AnnouncedWorkers = h.directory.Hosts()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
