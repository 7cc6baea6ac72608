package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sampsyo/cluster-workers/internal/protocol"

	"golang.org/x/sync/errgroup"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
	eventSnapshot
)

type event struct {
	kind  eventKind
	conn  *Conn
	msg   protocol.Message
	reply chan Snapshot
}

// Server accepts connections and feeds everything they send into a single
// goroutine that owns the Dispatcher. Each connection has its own reader
// goroutine, so handlers only ever block on their own socket.
type Server struct {
	addr       string
	dispatcher *Dispatcher
	logger     *slog.Logger

	events chan event
	nextID atomic.Uint64

	mu    sync.Mutex
	ln    net.Listener
	conns map[*Conn]struct{}
}

// NewServer creates a server for addr (host:port).
func NewServer(addr string, dispatcher *Dispatcher, logger *slog.Logger) *Server {
	return &Server{
		addr:       addr,
		dispatcher: dispatcher,
		logger:     logger.With("component", "master-server"),
		events:     make(chan event, 256),
		conns:      make(map[*Conn]struct{}),
	}
}

// Listen binds the listening socket. Serve calls it if needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled. It closes the listener
// and every open connection before returning.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.logger.Info("master listening", "addr", s.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.loop(ctx)
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.mu.Lock()
		_ = s.ln.Close()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		return nil
	})

	err := g.Wait()
	s.logger.Info("master stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		id := "c" + strconv.FormatUint(s.nextID.Add(1), 10)
		c := newConn(id, nc, s.logger)

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		// The connect event is queued before the reader starts, so it is
		// always handled before the connection's first message.
		if !s.post(ctx, event{kind: eventConnect, conn: c}) {
			c.Close()
			return nil
		}
		go s.readLoop(ctx, c)
	}
}

func (s *Server) readLoop(ctx context.Context, c *Conn) {
	defer func() {
		c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.post(ctx, event{kind: eventDisconnect, conn: c})
	}()

	r := protocol.NewReader(c.nc)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			var perr *protocol.ProtocolError
			switch {
			case errors.Is(err, protocol.ErrClosed):
				c.logger.Debug("connection closed by peer")
			case errors.As(err, &perr):
				c.logger.Error("protocol violation; dropping connection", "error", err)
			default:
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		if !s.post(ctx, event{kind: eventMessage, conn: c, msg: msg}) {
			return
		}
	}
}

func (s *Server) post(ctx context.Context, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// loop is the only goroutine that touches the dispatcher.
func (s *Server) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch ev.kind {
			case eventConnect:
				s.dispatcher.Connect(ev.conn)
			case eventMessage:
				s.dispatcher.Handle(ctx, ev.conn, ev.msg)
			case eventDisconnect:
				s.dispatcher.Disconnect(ev.conn)
			case eventSnapshot:
				ev.reply <- s.dispatcher.Snapshot()
			}
		}
	}
}

// Snapshot asks the dispatcher goroutine for its current state.
func (s *Server) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !s.post(ctx, event{kind: eventSnapshot, reply: reply}) {
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
