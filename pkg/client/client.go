package client

import (
	"context"
	"sync"
)

// Callback receives the value of each successful job.
type Callback func(jobID string, value any)

// Client submits jobs and waits for all of them to finish.
//
// The first failure aborts the wait: Wait returns it as a *RemoteError and
// stops tracking the jobs still in flight. Their successful results, if
// they arrive, are still passed to the callback; their failures are
// dropped so they cannot end a later Wait.
type Client struct {
	bridge   *Bridge
	callback Callback

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string]struct{}
	err     error
}

// New connects a client to the master at addr. callback may be nil.
func New(addr string, callback Callback, opts Options) (*Client, error) {
	c := &Client{callback: callback, pending: make(map[string]struct{})}
	c.cond = sync.NewCond(&c.mu)

	user := opts.OnDisconnect
	opts.OnDisconnect = func(err error) {
		c.fail(err)
		if user != nil {
			user(err)
		}
	}

	b, err := NewBridge(addr, c.complete, opts)
	if err != nil {
		return nil, err
	}
	c.bridge = b
	b.Start()
	return c, nil
}

// Submit sends a job calling the function registered as name.
func (c *Client) Submit(jobID, name string, args []any, kwargs map[string]any) error {
	// Tracked first so a fast result always finds its id.
	c.track(jobID)

	if err := c.bridge.Submit(jobID, name, args, kwargs); err != nil {
		c.mu.Lock()
		delete(c.pending, jobID)
		c.cond.Broadcast()
		c.mu.Unlock()
		return err
	}
	return nil
}

// Wait blocks until every submitted job has finished or one has failed.
// It returns the failure, if any, and clears it.
func (c *Client) Wait() error {
	return c.WaitContext(context.Background())
}

// WaitContext is like Wait but gives up when ctx is done.
func (c *Client) WaitContext(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) > 0 && c.err == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	err := c.err
	c.err = nil
	return err
}

// Outstanding reports how many jobs Wait is waiting for.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the bridge. Jobs in flight are abandoned.
func (c *Client) Close() {
	c.bridge.Stop()
}

func (c *Client) track(jobID string) {
	c.mu.Lock()
	c.pending[jobID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) complete(jobID string, success bool, value any) {
	if success && c.callback != nil {
		c.callback(jobID, value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[jobID]; !ok {
		// Left over from a batch whose Wait already returned.
		return
	}
	if success {
		delete(c.pending, jobID)
	} else {
		c.abort(&RemoteError{JobID: jobID, Trace: value.(string)})
	}
	c.cond.Broadcast()
}

// fail records err, keeping the first one, and releases waiters.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abort(err)
	c.cond.Broadcast()
}

// abort ends the current batch. c.mu must be held.
func (c *Client) abort(err error) {
	if c.err == nil {
		c.err = err
	}
	clear(c.pending)
}
