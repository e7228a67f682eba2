package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-drawroom/internal/protocol"
	"github.com/npezzotti/go-drawroom/internal/types"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is an in-memory Conn. The test plays the server through
// toClient and fromClient.
type fakeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.toClient:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}

	select {
	case c.fromClient <- data:
		return nil
	case <-c.closed:
		return errFakeClosed
	}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// serve writes env to the client side.
func (c *fakeConn) serve(t *testing.T, env *protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	c.toClient <- data
}

// next returns the next envelope written by the client.
func (c *fakeConn) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case data := <-c.fromClient:
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for client message")
	}
	return nil
}

// acceptJoin reads the client's JOIN and acknowledges it.
func (c *fakeConn) acceptJoin(t *testing.T) *protocol.Join {
	t.Helper()
	env := c.next(t)
	require.Equal(t, protocol.TypeJoin, env.Type)
	j := env.Join
	c.serve(t, protocol.NewJoin(j.UserId, j.Username, j.RoomId, types.Palette[0]))
	c.serve(t, protocol.NewUsers([]types.User{{Id: j.UserId, Name: j.Username, Color: types.Palette[0]}}))
	return j
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	// errs are returned by the first len(errs) dials
	errs  []error
	conns chan *fakeConn
}

func newFakeDialer(errs ...error) *fakeDialer {
	return &fakeDialer{errs: errs, conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	n := d.dials
	d.dials++
	d.mu.Unlock()

	if n < len(d.errs) && d.errs[n] != nil {
		return nil, d.errs[n]
	}

	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timeout waiting for dial")
	}
	return nil
}

type recordingHandler struct {
	mu        sync.Mutex
	states    []State
	envelopes []*protocol.Envelope
}

func (h *recordingHandler) HandleState(st State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.states = append(h.states, st)
}

func (h *recordingHandler) HandleEnvelope(env *protocol.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.envelopes = append(h.envelopes, env)
}

func (h *recordingHandler) States() []State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]State(nil), h.states...)
}
