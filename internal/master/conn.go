package master

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/sampsyo/cluster-workers/internal/protocol"
)

var errConnClosed = errors.New("connection closed")

// Conn is an accepted connection. Outgoing frames are queued without bound
// and written by a dedicated goroutine so that a slow peer never stalls the
// dispatcher.
type Conn struct {
	id     string
	nc     net.Conn
	logger *slog.Logger

	mu      sync.Mutex
	pending [][]byte
	notify  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, nc net.Conn, logger *slog.Logger) *Conn {
	c := &Conn{
		id:     id,
		nc:     nc,
		logger: logger.With("conn", id, "remote_addr", nc.RemoteAddr().String()),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ID implements Peer.
func (c *Conn) ID() string { return c.id }

// Send implements Peer.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Frame(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	c.mu.Lock()
	c.pending = append(c.pending, data)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.nc.Close()
	})
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}

		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, data := range batch {
			if _, err := c.nc.Write(data); err != nil {
				c.logger.Debug("write failed; closing connection", "error", err)
				c.Close()
				return
			}
		}
	}
}
