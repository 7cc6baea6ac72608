package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sampsyo/cluster-workers/internal/protocol"
)

// fakeMaster accepts a single worker connection.
func fakeMaster(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		conns <- nc
	}()
	return ln.Addr().String(), conns
}

func readMsg(t *testing.T, nc net.Conn, r *protocol.Reader) protocol.Message {
	t.Helper()
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	msg, err := r.ReadMessage()
	require.NoError(t, err)
	return msg
}

func TestWorkerServesTasks(t *testing.T) {
	addr, conns := fakeMaster(t)
	w := New(addr, newTestExecutor(t), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	nc := <-conns
	defer nc.Close()
	r := protocol.NewReader(nc)
	assert.IsType(t, &protocol.WorkerRegisterMessage{}, readMsg(t, nc, r))

	for i, n := range []int{7, 3} {
		require.NoError(t, protocol.WriteMessage(nc, newTask(t, string(rune('a'+i)), "square", []any{n}, nil)))
		res, ok := readMsg(t, nc, r).(*protocol.ResultMessage)
		require.True(t, ok)
		require.True(t, res.Success)
		assert.Equal(t, n*n, decode(t, res))
	}

	require.NoError(t, protocol.WriteMessage(nc, newTask(t, "c", "fail", nil, nil)))
	res, ok := readMsg(t, nc, r).(*protocol.ResultMessage)
	require.True(t, ok)
	assert.False(t, res.Success)
	assert.Contains(t, decode(t, res), "boom")

	cancel()
	assert.IsType(t, &protocol.WorkerDepartMessage{}, readMsg(t, nc, r))
	assert.NoError(t, <-done)
}

func TestWorkerStopsWhenMasterCloses(t *testing.T) {
	addr, conns := fakeMaster(t)
	w := New(addr, newTestExecutor(t), testLogger())

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	nc := <-conns
	defer nc.Close()
	r := protocol.NewReader(nc)
	assert.IsType(t, &protocol.WorkerRegisterMessage{}, readMsg(t, nc, r))
	require.NoError(t, nc.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = New(addr, newTestExecutor(t), testLogger()).Run(context.Background())
	assert.ErrorContains(t, err, "failed to connect")
}
