package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sampsyo/cluster-workers/internal/metrics"
	"github.com/sampsyo/cluster-workers/internal/protocol"
	"github.com/sampsyo/cluster-workers/pkg/funcs"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs tasks against a function registry.
type Executor struct {
	registry      *funcs.Registry
	searchPathEnv string

	// mu serializes jobs; the sandbox changes process-wide state.
	mu     sync.Mutex
	logger *slog.Logger
	tracer trace.Tracer
}

// NewExecutor creates an executor. searchPathEnv names the variable that
// receives each task's search path entries.
func NewExecutor(registry *funcs.Registry, searchPathEnv string, logger *slog.Logger) *Executor {
	if registry == nil {
		registry = funcs.Default
	}
	if searchPathEnv == "" {
		searchPathEnv = "PATH"
	}
	return &Executor{
		registry:      registry,
		searchPathEnv: searchPathEnv,
		logger:        logger.With("component", "executor"),
		tracer:        otel.Tracer("cluster-workers-worker"),
	}
}

// Execute runs task and returns its result. Every failure, including a
// panic in the job body, is captured in the result.
func (e *Executor) Execute(ctx context.Context, task *protocol.TaskMessage) *protocol.ResultMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "worker.Execute",
		trace.WithAttributes(attribute.String("job.id", task.JobID)))
	defer span.End()

	start := time.Now()
	name, value, err := e.run(ctx, task)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.String("job.func", name))
	metrics.JobExecutionSeconds.WithLabelValues(name).Observe(elapsed.Seconds())
	logger := e.logger.With("job_id", task.JobID, "func", name)

	var payload []byte
	if err == nil {
		payload, err = protocol.EncodeBlob(value)
	}
	if err != nil {
		logger.Warn("job failed", "error", err, "duration", elapsed)
		metrics.JobExecutionTotal.WithLabelValues(name, "failed").Inc()
		span.SetStatus(codes.Error, "job failed")
		span.RecordError(err)

		payload, err = protocol.EncodeBlob(failureText(err))
		if err != nil {
			// A string always encodes.
			panic(err)
		}
		return &protocol.ResultMessage{JobID: task.JobID, Success: false, Payload: payload}
	}

	logger.Info("job succeeded", "duration", elapsed)
	metrics.JobExecutionTotal.WithLabelValues(name, "success").Inc()
	span.SetStatus(codes.Ok, "job succeeded")
	return &protocol.ResultMessage{JobID: task.JobID, Success: true, Payload: payload}
}

func (e *Executor) run(ctx context.Context, task *protocol.TaskMessage) (name string, value any, err error) {
	ref, err := funcs.DecodeRef(task.Func)
	if err != nil {
		return "unknown", nil, err
	}
	name = ref.Name

	var args []any
	if len(task.Args) > 0 {
		if args, err = protocol.DecodeArgs(task.Args); err != nil {
			return name, nil, err
		}
	}
	var kwargs map[string]any
	if len(task.Kwargs) > 0 {
		if kwargs, err = protocol.DecodeKwargs(task.Kwargs); err != nil {
			return name, nil, err
		}
	}

	fn, err := e.registry.Lookup(name)
	if err != nil {
		return name, nil, err
	}

	sb, err := enter(e.searchPathEnv, task.Dir, task.SearchPath)
	if err != nil {
		return name, nil, err
	}
	defer func() {
		if rerr := sb.restore(); rerr != nil {
			e.logger.Error("failed to restore sandbox", "error", rerr)
		}
	}()

	value, err = e.invoke(ctx, fn, args, kwargs)
	return name, value, err
}

// PanicError is a panic recovered from a job body.
type PanicError struct {
	Value any
	// Stack holds the goroutine frames from the panic site down to the
	// job function, formatted like a runtime traceback.
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

func (e *Executor) invoke(ctx context.Context, fn funcs.Func, args []any, kwargs map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: userStack()}
		}
	}()
	return fn(ctx, args, kwargs)
}

// userStack formats the frames of the panicking goroutine that belong to
// the job: everything between the runtime's panic machinery and invoke.
// It must be called from invoke's deferred function.
func userStack() string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	inPanic, inUser := false, false
	for {
		f, more := frames.Next()
		switch {
		case strings.HasSuffix(f.Function, ".(*Executor).invoke"):
			return b.String()
		case !inPanic:
			inPanic = f.Function == "runtime.gopanic"
		case !inUser && strings.HasPrefix(f.Function, "runtime."):
			// panicmem, sigpanic, goPanicIndex and friends.
		default:
			inUser = true
			fmt.Fprintf(&b, "%s(...)\n\t%s:%d\n", f.Function, f.File, f.Line)
		}
		if !more {
			return b.String()
		}
	}
}

// failureText is the trace shipped back for a failed job.
func failureText(err error) string {
	var perr *PanicError
	if errors.As(err, &perr) {
		return perr.Error()
	}
	return "error: " + err.Error()
}
