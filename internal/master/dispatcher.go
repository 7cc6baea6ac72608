package master

import (
	"context"
	"log/slog"
	"slices"

	"github.com/sampsyo/cluster-workers/internal/metrics"
	"github.com/sampsyo/cluster-workers/internal/protocol"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Peer is one connection as seen by the Dispatcher.
type Peer interface {
	// ID names the connection in logs.
	ID() string
	// Send queues msg for delivery without blocking. It fails once the
	// connection is closed.
	Send(msg protocol.Message) error
}

type queuedTask struct {
	task   *protocol.TaskMessage
	client Peer
}

type activeTask struct {
	client Peer
	worker Peer
}

// Snapshot is a point-in-time view of the matching state.
type Snapshot struct {
	QueuedTasks int      `json:"queued_tasks"`
	IdleWorkers int      `json:"idle_workers"`
	ActiveTasks int      `json:"active_tasks"`
	Workers     int      `json:"workers"`
	Connections int      `json:"connections"`
	QueuedJobs  []string `json:"queued_jobs"`
	ActiveJobs  []string `json:"active_jobs"`
}

// Dispatcher pairs queued tasks with idle workers in strict arrival order
// and routes results back to the client that submitted each task.
//
// A Dispatcher is not safe for concurrent use; Server drives it from a
// single goroutine.
type Dispatcher struct {
	queued []queuedTask
	idle   []Peer
	active map[string]activeTask
	conns  map[Peer]struct{}

	logger *slog.Logger
	tracer trace.Tracer
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		active: make(map[string]activeTask),
		conns:  make(map[Peer]struct{}),
		logger: logger.With("component", "dispatcher"),
		tracer: otel.Tracer("cluster-workers-master"),
	}
}

// Connect records a new live connection.
func (d *Dispatcher) Connect(p Peer) {
	d.conns[p] = struct{}{}
	d.updateGauges()
}

// Disconnect forgets a connection. Tasks it submitted stay queued and are
// discarded when they reach the front; a job it was running stays active
// forever, since there is no retry.
func (d *Dispatcher) Disconnect(p Peer) {
	if _, ok := d.conns[p]; !ok {
		return
	}
	delete(d.conns, p)
	d.idle = slices.DeleteFunc(d.idle, func(w Peer) bool { return w == p })

	for jobID, at := range d.active {
		if at.worker == p {
			d.logger.Warn("worker disconnected while running job; job will not complete",
				"worker", p.ID(), "job_id", jobID)
		}
	}
	d.updateGauges()
}

// Handle applies one message received from p and then dispatches as many
// queued tasks as possible.
func (d *Dispatcher) Handle(ctx context.Context, p Peer, msg protocol.Message) {
	ctx, span := d.tracer.Start(ctx, "master.Handle",
		trace.WithAttributes(
			attribute.String("message.tag", msg.Tag()),
			attribute.String("conn.id", p.ID()),
		))
	defer span.End()

	metrics.MasterMessagesTotal.WithLabelValues(msg.Tag()).Inc()

	switch m := msg.(type) {
	case *protocol.TaskMessage:
		d.enqueue(p, m)
	case *protocol.ResultMessage:
		d.complete(p, m)
	case *protocol.WorkerRegisterMessage:
		if slices.Contains(d.idle, p) {
			d.logger.Warn("worker registered twice", "worker", p.ID())
			break
		}
		d.idle = append(d.idle, p)
		d.logWorkers()
	case *protocol.WorkerDepartMessage:
		d.idle = slices.DeleteFunc(d.idle, func(w Peer) bool { return w == p })
		d.logWorkers()
	}

	d.dispatch(ctx)
	d.updateGauges()
}

func (d *Dispatcher) enqueue(client Peer, task *protocol.TaskMessage) {
	if d.known(task.JobID) {
		d.logger.Warn("dropping task with duplicate job id", "job_id", task.JobID, "client", client.ID())
		metrics.DroppedTotal.WithLabelValues("duplicate_job").Inc()
		return
	}
	d.queued = append(d.queued, queuedTask{task: task, client: client})
	d.logger.Debug("task queued", "job_id", task.JobID, "client", client.ID(), "queued", len(d.queued))
}

func (d *Dispatcher) known(jobID string) bool {
	if _, ok := d.active[jobID]; ok {
		return true
	}
	return slices.ContainsFunc(d.queued, func(q queuedTask) bool { return q.task.JobID == jobID })
}

func (d *Dispatcher) complete(worker Peer, res *protocol.ResultMessage) {
	at, ok := d.active[res.JobID]
	if !ok {
		d.logger.Warn("result for unknown job", "job_id", res.JobID, "worker", worker.ID())
		metrics.DroppedTotal.WithLabelValues("unknown_job").Inc()
	} else {
		delete(d.active, res.JobID)
	}

	if !slices.Contains(d.idle, worker) {
		d.idle = append(d.idle, worker)
	}
	if !ok {
		return
	}

	if _, live := d.conns[at.client]; !live {
		d.logger.Warn("client gone; dropping result", "job_id", res.JobID, "client", at.client.ID())
		metrics.DroppedTotal.WithLabelValues("client_gone_result").Inc()
		return
	}
	if err := at.client.Send(res); err != nil {
		d.logger.Warn("failed to forward result", "job_id", res.JobID, "client", at.client.ID(), "error", err)
		metrics.DroppedTotal.WithLabelValues("client_gone_result").Inc()
	}
}

// dispatch pops the oldest queued task and the oldest idle worker until
// either side runs out.
func (d *Dispatcher) dispatch(ctx context.Context) {
	for len(d.queued) > 0 && len(d.idle) > 0 {
		qt := d.queued[0]
		d.queued = d.queued[1:]

		if _, live := d.conns[qt.client]; !live {
			d.logger.Warn("client gone; discarding queued task", "job_id", qt.task.JobID, "client", qt.client.ID())
			metrics.DroppedTotal.WithLabelValues("client_gone_queued").Inc()
			continue
		}

		worker := d.idle[0]
		d.idle = d.idle[1:]

		if err := worker.Send(qt.task); err != nil {
			// Never delivered: keep the task at the head of the queue and
			// try the next worker.
			d.logger.Warn("failed to send task to worker", "job_id", qt.task.JobID, "worker", worker.ID(), "error", err)
			d.queued = slices.Insert(d.queued, 0, qt)
			continue
		}
		d.active[qt.task.JobID] = activeTask{client: qt.client, worker: worker}
		metrics.TasksDispatchedTotal.Inc()
		trace.SpanFromContext(ctx).AddEvent("task_dispatched", trace.WithAttributes(
			attribute.String("job.id", qt.task.JobID),
			attribute.String("worker.id", worker.ID()),
		))
		d.logger.Debug("task dispatched", "job_id", qt.task.JobID, "worker", worker.ID())
	}
}

// Snapshot reports the current state.
func (d *Dispatcher) Snapshot() Snapshot {
	s := Snapshot{
		QueuedTasks: len(d.queued),
		IdleWorkers: len(d.idle),
		ActiveTasks: len(d.active),
		Workers:     len(d.idle) + len(d.active),
		Connections: len(d.conns),
		QueuedJobs:  make([]string, 0, len(d.queued)),
		ActiveJobs:  make([]string, 0, len(d.active)),
	}
	for _, qt := range d.queued {
		s.QueuedJobs = append(s.QueuedJobs, qt.task.JobID)
	}
	for jobID := range d.active {
		s.ActiveJobs = append(s.ActiveJobs, jobID)
	}
	slices.Sort(s.ActiveJobs)
	return s
}

func (d *Dispatcher) logWorkers() {
	d.logger.Info("workers changed", "workers", len(d.idle)+len(d.active), "idle", len(d.idle))
}

func (d *Dispatcher) updateGauges() {
	metrics.QueuedTasks.Set(float64(len(d.queued)))
	metrics.IdleWorkers.Set(float64(len(d.idle)))
	metrics.ActiveTasks.Set(float64(len(d.active)))
	metrics.Connections.Set(float64(len(d.conns)))
}
