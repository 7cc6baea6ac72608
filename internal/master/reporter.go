package master

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SnapshotSource reports the dispatcher state. *Server implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Reporter periodically logs the dispatcher state on a cron schedule.
type Reporter struct {
	cron     *cron.Cron
	schedule string
	source   SnapshotSource
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewReporter creates a reporter for schedule, a standard cron expression or
// a descriptor such as "@every 30s".
func NewReporter(schedule string, source SnapshotSource, logger *slog.Logger) *Reporter {
	return &Reporter{
		cron:     cron.New(),
		schedule: schedule,
		source:   source,
		logger:   logger.With("component", "status-reporter"),
		tracer:   otel.Tracer("cluster-workers-master"),
	}
}

// Run reports on schedule until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.schedule, func() { r.report(ctx) }); err != nil {
		r.logger.Error("invalid report schedule", "schedule", r.schedule, "error", err)
		return err
	}

	r.logger.Info("status reporter started", "schedule", r.schedule)
	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("status reporter stopped")
	return nil
}

func (r *Reporter) report(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "master.Report")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snap, err := r.source.Snapshot(ctx)
	if err != nil {
		// Shutting down.
		span.RecordError(err)
		return
	}
	span.SetAttributes(
		attribute.Int("workers", snap.Workers),
		attribute.Int("queued_tasks", snap.QueuedTasks),
	)
	r.logger.Info("status",
		"workers", snap.Workers,
		"idle", snap.IdleWorkers,
		"active", snap.ActiveTasks,
		"queued", snap.QueuedTasks,
		"connections", snap.Connections,
	)
}
