package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-drawroom/internal/protocol"
	"github.com/npezzotti/go-drawroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWsServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := newTestServer(t, nil)
	go s.Run()

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c := NewClient(conn, s, s.log)
		s.RegisterClient(c)
		go c.Write()
		go c.Read()
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
	})

	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env *protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

// readUntil skips envelopes until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ protocol.MessageType) *protocol.Envelope {
	t.Helper()
	for {
		env := readEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
	}
}

func TestClient_relay(t *testing.T) {
	_, url := newWsServer(t)
	a := dial(t, url)
	b := dial(t, url)

	writeEnvelope(t, a, protocol.NewJoin("a", "alice", "demo", ""))
	readUntil(t, a, protocol.TypeUsers)
	writeEnvelope(t, b, protocol.NewJoin("b", "bob", "demo", ""))
	users := readUntil(t, b, protocol.TypeUsers)
	assert.Len(t, users.Users.Users, 2)
	readUntil(t, a, protocol.TypeJoin)

	writeEnvelope(t, a, protocol.NewCursorMove("a", "demo", types.Position{X: 4, Y: 2}))
	cursor := readEnvelope(t, b)
	require.Equal(t, protocol.TypeCursorMove, cursor.Type)
	assert.Equal(t, "a", cursor.Cursor.UserId)

	writeEnvelope(t, a, protocol.NewDraw(types.Operation{Kind: types.KindRect, ObjectId: "r1", Width: 100}))
	draw := readEnvelope(t, b)
	require.Equal(t, protocol.TypeDraw, draw.Type)
	assert.Equal(t, "r1", draw.Draw.ObjectId)

	a.Close()
	left := readEnvelope(t, b)
	require.Equal(t, protocol.TypeLeave, left.Type, "expected a broken transport to trigger a leave")
	assert.Equal(t, "a", left.Leave.UserId)
}

func TestClient_malformedMessageKeepsConnection(t *testing.T) {
	_, url := newWsServer(t)
	a := dial(t, url)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`garbage`)))

	writeEnvelope(t, a, protocol.NewJoin("a", "alice", "demo", ""))
	ack := readEnvelope(t, a)
	assert.Equal(t, protocol.TypeJoin, ack.Type)
}

func TestClient_assignsIdentity(t *testing.T) {
	_, url := newWsServer(t)
	a := dial(t, url)

	writeEnvelope(t, a, protocol.NewJoin("", "  ", "demo", ""))
	ack := readEnvelope(t, a)
	require.Equal(t, protocol.TypeJoin, ack.Type)
	assert.NotEmpty(t, ack.Join.UserId, "expected server to assign a user id")
	assert.Equal(t, defaultUsername, ack.Join.Username)
}

func TestClient_secondRoomRejected(t *testing.T) {
	s, url := newWsServer(t)
	a := dial(t, url)

	writeEnvelope(t, a, protocol.NewJoin("a", "alice", "demo", ""))
	readUntil(t, a, protocol.TypeUsers)

	writeEnvelope(t, a, protocol.NewJoin("a", "alice", "other", ""))
	writeEnvelope(t, a, protocol.NewJoin("a", "alice", "demo", ""))
	ack := readEnvelope(t, a)
	require.Equal(t, protocol.TypeJoin, ack.Type)
	assert.Equal(t, "demo", ack.Join.RoomId)

	_, ok := s.RoomUsers("other")
	assert.False(t, ok, "expected join to a second room to be rejected")
}

func TestClient_rateLimit(t *testing.T) {
	_, url := newWsServer(t)
	a := dial(t, url)

	writeEnvelope(t, a, protocol.NewJoin("a", "alice", "demo", ""))
	readUntil(t, a, protocol.TypeUsers)

	data, err := protocol.Encode(protocol.NewCursorMove("a", "demo", types.Position{X: 1, Y: 1}))
	require.NoError(t, err)
	for range inboundBurst * 2 {
		if a.WriteMessage(websocket.TextMessage, data) != nil {
			break
		}
	}

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := a.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) {
				assert.False(t, netErr.Timeout(), "expected connection to be closed by the server, got %v", err)
			}
			return
		}
	}
}
