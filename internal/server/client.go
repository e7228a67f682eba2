package server

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-drawroom/internal/protocol"
	"github.com/npezzotti/go-drawroom/internal/stats"
	"github.com/npezzotti/go-drawroom/internal/types"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufferSize = 256

	inboundRate  = 50
	inboundBurst = 100

	defaultUsername = "Anonymous"
)

// Client is the server half of one participant's connection.
type Client struct {
	conn    *websocket.Conn
	server  *Server
	log     *log.Logger
	limiter *rate.Limiter
	// user is set by the read pump before the first join is handed to the
	// server and never changes afterwards.
	user types.User
	// roomId is owned by the read pump.
	roomId    string
	send      chan []byte
	room      *Room
	roomLock  sync.RWMutex
	stop      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, s *Server, l *log.Logger) *Client {
	return &Client{
		conn:    conn,
		server:  s,
		log:     l,
		limiter: rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		send:    make(chan []byte, sendBufferSize),
		stop:    make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			c.log.Printf("rate limit exceeded for %q, closing connection", c.user.Id)
			c.server.stats.Incr(stats.RateLimitedClients)
			break
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			c.log.Println("discarding message:", err)
			c.server.stats.Incr(stats.MalformedMessages)
			continue
		}

		c.dispatch(env)
	}
}

func (c *Client) dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoin:
		if err := c.joinRoom(env); err != nil {
			c.log.Println("join:", err)
		}
	case protocol.TypeLeave:
		c.leaveRoom(env)
	case protocol.TypeDraw, protocol.TypeCursorMove:
		c.publish(env)
	default:
		c.log.Printf("ignoring %s from client", env.Type)
	}
}

// joinRoom hands a join request to the server. The first join fixes the
// connection's identity and room.
func (c *Client) joinRoom(env *protocol.Envelope) error {
	join := env.Join
	if c.roomId != "" && c.roomId != join.RoomId {
		return fmt.Errorf("%w: connection already joined room %q", ErrJoinRejected, c.roomId)
	}

	if c.roomId == "" {
		id := join.UserId
		if id == "" {
			var err error
			if id, err = shortid.Generate(); err != nil {
				return err
			}
		}

		name := strings.TrimSpace(join.Username)
		if name == "" {
			name = defaultUsername
		}

		c.user = types.User{Id: id, Name: name}
		c.roomId = join.RoomId
	}

	select {
	case c.server.joinChan <- &ClientMessage{env: env, client: c}:
	default:
		c.log.Printf("joinChan full")
	}
	return nil
}

func (c *Client) leaveRoom(env *protocol.Envelope) {
	r := c.getRoom()
	if r == nil {
		c.log.Println("leave before join")
		return
	}

	select {
	case r.leaveChan <- &ClientMessage{env: env, client: c}:
	default:
		c.log.Printf("leaveChan full for room %q", r.id)
	}
}

func (c *Client) publish(env *protocol.Envelope) {
	r := c.getRoom()
	if r == nil {
		c.log.Printf("dropping %s before join", env.Type)
		return
	}

	select {
	case r.clientMsgChan <- &ClientMessage{env: env, client: c}:
	default:
		c.log.Printf("clientMsgChan full for room %q", r.id)
	}
}

// queueMessage never blocks; it reports false when the queue is full.
func (c *Client) queueMessage(data []byte) bool {
	select {
	case c.send <- data:
	default:
		return false
	}

	return true
}

func (c *Client) queueEnvelope(env *protocol.Envelope) bool {
	data, err := protocol.Encode(env)
	if err != nil {
		c.log.Printf("encode %s: %v", env.Type, err)
		return false
	}

	if !c.queueMessage(data) {
		c.log.Printf("failed to queue %s for %q, channel is full", env.Type, c.user.Id)
		return false
	}
	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// close stops the write pump, which closes the connection.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.server.deregisterClient(c)
	if r := c.getRoom(); r != nil {
		select {
		case r.leaveChan <- &ClientMessage{client: c}:
		case <-r.done:
		}
	}
	c.close()
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	c.room = r
}

func (c *Client) getRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()

	return c.room
}
