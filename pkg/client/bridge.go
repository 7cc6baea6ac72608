// Package client submits jobs to the master and collects their results.
//
// Bridge owns the connection and a background goroutine that reads
// results. Client tracks the jobs of the current batch for Wait, and Pool
// hands out a Future per job.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sampsyo/cluster-workers/internal/domain"
	"github.com/sampsyo/cluster-workers/internal/protocol"
	"github.com/sampsyo/cluster-workers/pkg/funcs"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Completion receives each result. value is the job's return value on
// success and its failure trace (a string) otherwise. It runs on the
// bridge goroutine.
type Completion func(jobID string, success bool, value any)

// Options tune a Bridge. Zero values select the defaults.
type Options struct {
	// SearchPathEnv names the variable whose entries are shipped with each
	// job. Default PATH.
	SearchPathEnv string
	// PollInterval bounds how long Stop waits for the reader to notice.
	// Default 100ms.
	PollInterval time.Duration
	// DialTimeout bounds the initial connection. Default 10s.
	DialTimeout time.Duration
	// FuncCacheSize is the number of encoded function references kept.
	// Default 128.
	FuncCacheSize int
	// OnDisconnect, if set, is called once when the connection ends for any
	// reason other than Stop.
	OnDisconnect func(err error)
	Logger       *slog.Logger
}

func (o *Options) setDefaults() {
	if o.SearchPathEnv == "" {
		o.SearchPathEnv = "PATH"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.FuncCacheSize <= 0 {
		o.FuncCacheSize = 128
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Bridge connects caller goroutines to the master. Submit may be called
// from any goroutine.
type Bridge struct {
	addr       string
	opts       Options
	completion Completion
	logger     *slog.Logger
	funcCache  *lru.Cache[string, []byte]
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)

	// stopCtx is cancelled by Stop so a pending dial gives up at once.
	stopCtx    context.Context
	cancelStop context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	started bool
	ready   bool
	err     error
	nc      net.Conn

	writeMu  sync.Mutex
	stopping atomic.Bool
	done     chan struct{}
}

// NewBridge creates a bridge to the master at addr. Call Start before
// submitting.
func NewBridge(addr string, completion Completion, opts Options) (*Bridge, error) {
	opts.setDefaults()
	cache, err := lru.New[string, []byte](opts.FuncCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create function cache: %w", err)
	}
	var d net.Dialer
	b := &Bridge{
		addr:       addr,
		opts:       opts,
		completion: completion,
		logger:     opts.Logger.With("component", "client-bridge", "master", addr),
		funcCache:  cache,
		dial:       d.DialContext,
		done:       make(chan struct{}),
	}
	b.stopCtx, b.cancelStop = context.WithCancel(context.Background())
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Start launches the background goroutine. It returns at once; Submit
// waits for the connection.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	go b.run()
}

// Stop ends the background goroutine and closes the connection. Jobs still
// in flight are abandoned.
func (b *Bridge) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}
	b.stopping.Store(true)
	b.cancelStop()
	<-b.done
}

// Submit sends a job calling the function registered as name. The job runs
// in the caller's working directory with the caller's search path.
func (b *Bridge) Submit(jobID, name string, args []any, kwargs map[string]any) error {
	nc, err := b.wait()
	if err != nil {
		return err
	}

	task, err := b.newTask(jobID, name, args, kwargs)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := protocol.WriteMessage(nc, task); err != nil {
		return fmt.Errorf("failed to submit job %s: %w", jobID, err)
	}
	return nil
}

func (b *Bridge) wait() (net.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil, errors.New("client bridge not started")
	}
	for !b.ready && b.err == nil {
		b.cond.Wait()
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.nc, nil
}

func (b *Bridge) newTask(jobID, name string, args []any, kwargs map[string]any) (*protocol.TaskMessage, error) {
	fn, ok := b.funcCache.Get(name)
	if !ok {
		var err error
		if fn, err = funcs.EncodeRef(name); err != nil {
			return nil, err
		}
		b.funcCache.Add(name, fn)
	}

	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to read working directory: %w", err)
	}

	task := &protocol.TaskMessage{
		JobID:      jobID,
		Func:       fn,
		Dir:        dir,
		SearchPath: filepath.SplitList(os.Getenv(b.opts.SearchPathEnv)),
	}
	if len(args) > 0 {
		if task.Args, err = protocol.EncodeBlob(args); err != nil {
			return nil, fmt.Errorf("job %s: %w", jobID, err)
		}
	}
	if len(kwargs) > 0 {
		if task.Kwargs, err = protocol.EncodeBlob(kwargs); err != nil {
			return nil, fmt.Errorf("job %s: %w", jobID, err)
		}
	}
	return task, nil
}

func (b *Bridge) run() {
	defer close(b.done)

	ctx, cancel := context.WithTimeout(b.stopCtx, b.opts.DialTimeout)
	nc, err := b.dial(ctx, "tcp", b.addr)
	cancel()
	if err != nil {
		if b.stopping.Load() {
			b.logger.Debug("stopped while connecting")
			b.finish(nil)
			return
		}
		err = fmt.Errorf("failed to connect to master: %w", err)
		b.logger.Error("connection failed", "error", err)
		b.finish(err)
		return
	}

	b.mu.Lock()
	b.nc = nc
	b.ready = true
	b.cond.Broadcast()
	b.mu.Unlock()
	b.logger.Debug("connected")

	err = b.readLoop(nc)
	_ = nc.Close()
	b.finish(err)
}

// finish records the terminal state and wakes blocked submitters.
func (b *Bridge) finish(cause error) {
	b.mu.Lock()
	b.err = domain.ErrBridgeStopped
	if cause != nil {
		b.err = fmt.Errorf("%w: %w", domain.ErrBridgeStopped, cause)
	}
	err := b.err
	b.cond.Broadcast()
	b.mu.Unlock()

	if !b.stopping.Load() && b.opts.OnDisconnect != nil {
		b.opts.OnDisconnect(err)
	}
}

// readLoop delivers results until the connection ends or Stop is called.
// A nil return means a requested stop.
func (b *Bridge) readLoop(nc net.Conn) error {
	r := protocol.NewReader(nc)
	for {
		if b.stopping.Load() {
			return nil
		}
		if err := nc.SetReadDeadline(time.Now().Add(b.opts.PollInterval)); err != nil {
			return err
		}

		msg, err := r.ReadMessage()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if b.stopping.Load() {
				return nil
			}
			if errors.Is(err, protocol.ErrClosed) {
				b.logger.Warn("master closed the connection")
			} else {
				b.logger.Error("failed to read from master", "error", err)
			}
			return err
		}

		res, ok := msg.(*protocol.ResultMessage)
		if !ok {
			b.logger.Warn("ignoring unexpected message", "tag", msg.Tag())
			continue
		}
		b.deliver(res)
	}
}

func (b *Bridge) deliver(res *protocol.ResultMessage) {
	value, err := protocol.DecodeBlob(res.Payload)
	success := res.Success
	if err != nil {
		b.logger.Error("failed to decode result", "job_id", res.JobID, "error", err)
		value, success = err.Error(), false
	}
	if !success {
		if _, ok := value.(string); !ok {
			value = fmt.Sprint(value)
		}
	}
	if b.completion != nil {
		b.completion(res.JobID, success, value)
	}
}
