package client

import (
	"context"
	"sync"

	"github.com/sampsyo/cluster-workers/internal/domain"
)

// Future is the eventual result of one job.
type Future struct {
	jobID string
	done  chan struct{}
	value any
	err   error
}

// JobID returns the id the job was submitted under.
func (f *Future) JobID() string { return f.jobID }

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Get blocks until the job finishes or ctx is done. A job that failed on
// its worker returns a *RemoteError.
func (f *Future) Get(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(value any, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Pool submits jobs and returns a Future for each.
type Pool struct {
	bridge *Bridge

	mu      sync.Mutex
	cond    *sync.Cond
	futures map[string]*Future
	closed  error
}

// NewPool connects a pool to the master at addr.
func NewPool(addr string, opts Options) (*Pool, error) {
	p := &Pool{futures: make(map[string]*Future)}
	p.cond = sync.NewCond(&p.mu)

	user := opts.OnDisconnect
	opts.OnDisconnect = func(err error) {
		p.abandon(err)
		if user != nil {
			user(err)
		}
	}

	b, err := NewBridge(addr, p.complete, opts)
	if err != nil {
		return nil, err
	}
	p.bridge = b
	b.Start()
	return p, nil
}

// Submit sends a job calling the function registered as name under a fresh
// job id.
func (p *Pool) Submit(name string, args []any, kwargs map[string]any) (*Future, error) {
	f := &Future{jobID: NewJobID(), done: make(chan struct{})}

	p.mu.Lock()
	if p.closed != nil {
		p.mu.Unlock()
		return nil, p.closed
	}
	p.futures[f.jobID] = f
	p.mu.Unlock()

	if err := p.bridge.Submit(f.jobID, name, args, kwargs); err != nil {
		p.mu.Lock()
		delete(p.futures, f.jobID)
		p.cond.Broadcast()
		p.mu.Unlock()
		return nil, err
	}
	return f, nil
}

// Shutdown stops the pool. With wait set it first blocks until every
// future has resolved.
func (p *Pool) Shutdown(wait bool) {
	if wait {
		p.mu.Lock()
		for len(p.futures) > 0 {
			p.cond.Wait()
		}
		p.mu.Unlock()
	}
	p.bridge.Stop()
}

func (p *Pool) complete(jobID string, success bool, value any) {
	p.mu.Lock()
	f, ok := p.futures[jobID]
	delete(p.futures, jobID)
	p.cond.Broadcast()
	p.mu.Unlock()
	if !ok {
		return
	}

	if success {
		f.resolve(value, nil)
	} else {
		f.resolve(nil, &RemoteError{JobID: jobID, Trace: value.(string)})
	}
}

// abandon fails every outstanding future with err and refuses later
// submissions.
func (p *Pool) abandon(err error) {
	p.mu.Lock()
	if err == nil {
		err = domain.ErrBridgeStopped
	}
	p.closed = err
	futures := p.futures
	p.futures = make(map[string]*Future)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, f := range futures {
		f.resolve(nil, err)
	}
}
