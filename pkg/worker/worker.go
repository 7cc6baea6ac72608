// Package worker runs jobs handed out by the master.
//
// A worker holds one connection to the master, announces itself with a
// register message and then executes one task at a time, answering each
// with exactly one result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/sampsyo/cluster-workers/internal/protocol"
)

// Worker is a connection to the master plus the executor that serves it.
type Worker struct {
	addr     string
	executor *Executor
	logger   *slog.Logger

	writeMu sync.Mutex
}

// New creates a worker for the master at addr (host:port).
func New(addr string, executor *Executor, logger *slog.Logger) *Worker {
	return &Worker{
		addr:     addr,
		executor: executor,
		logger:   logger.With("component", "worker", "master", addr),
	}
}

// Run serves tasks until the master closes the connection or ctx is
// cancelled. On cancellation it tells the master it is departing.
func (w *Worker) Run(ctx context.Context) error {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", w.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to master: %w", err)
	}
	defer nc.Close()

	if err := w.send(nc, &protocol.WorkerRegisterMessage{}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	w.logger.Info("registered with master")

	stop := context.AfterFunc(ctx, func() {
		if err := w.send(nc, &protocol.WorkerDepartMessage{}); err != nil {
			w.logger.Debug("failed to send depart", "error", err)
		}
		_ = nc.Close()
	})
	defer stop()

	r := protocol.NewReader(nc)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return nil
			}
			if errors.Is(err, protocol.ErrClosed) {
				w.logger.Info("connection to master closed")
				return nil
			}
			return fmt.Errorf("failed to read from master: %w", err)
		}

		task, ok := msg.(*protocol.TaskMessage)
		if !ok {
			w.logger.Warn("ignoring unexpected message", "tag", msg.Tag())
			continue
		}

		res := w.executor.Execute(ctx, task)
		if err := w.send(nc, res); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to send result for job %s: %w", task.JobID, err)
		}
	}
}

func (w *Worker) send(nc net.Conn, msg protocol.Message) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return protocol.WriteMessage(nc, msg)
}
