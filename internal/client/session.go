package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-drawroom/internal/protocol"
	"github.com/npezzotti/go-drawroom/internal/types"
)

const (
	defaultAckTimeout     = 10 * time.Second
	defaultReconnectDelay = 3 * time.Second
	writeWait             = 10 * time.Second
	outboundQueueSize     = 64
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handler receives session events. Calls are made from the session's
// event loop and must not block. A handler may call Disconnect, which then
// returns without waiting for the loop to finish.
type Handler interface {
	HandleState(State)
	HandleEnvelope(*protocol.Envelope)
}

type Config struct {
	URL      string
	RoomId   string
	Username string
	// UserId is reused for every reconnect. A random id is generated when
	// empty.
	UserId string
	Dialer Dialer
	// AckTimeout bounds the wait for the server's join acknowledgement.
	AckTimeout time.Duration
	// ReconnectDelay is the pause before a reconnect attempt. When
	// MaxReconnectDelay is larger the pause doubles per failed attempt up
	// to that bound.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Logger            *log.Logger
}

func (c *Config) setDefaults() {
	if c.UserId == "" {
		c.UserId = types.NewUserId()
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
}

// transport is one dialled connection and its outbound queue.
type transport struct {
	gen       uint64
	conn      Conn
	out       chan []byte
	quit      chan struct{}
	closeOnce sync.Once
}

func (t *transport) close() {
	t.closeOnce.Do(func() {
		close(t.quit)
	})
}

func (t *transport) enqueue(data []byte) bool {
	select {
	case t.out <- data:
		return true
	default:
		return false
	}
}

type event interface{}

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

type inbound struct {
	gen uint64
	env *protocol.Envelope
}

type readFailed struct {
	gen uint64
	err error
}

type ackExpired struct{ gen uint64 }

type retryDue struct{ gen uint64 }

// Session is one participant's connection to a room. It reconnects on
// transport loss until Disconnect is called.
type Session struct {
	cfg     Config
	handler Handler
	log     *log.Logger

	mu    sync.RWMutex
	state State
	cur   *transport

	events         chan event
	quit           chan struct{}
	disconnectOnce sync.Once
	done           chan struct{}
	// handler callbacks in progress
	callbacks atomic.Int32

	// owned by the event loop
	gen       uint64
	timer     *time.Timer
	delay     time.Duration
	connected chan error
	ctx       context.Context
	cancel    context.CancelFunc
}

// Connect dials the server and joins cfg.RoomId. It returns once the
// server acknowledges the join, the first attempt fails or ctx is done.
// On ErrTransportUnavailable and ErrTimeout the returned session is
// already retrying; the caller keeps it or calls Disconnect.
func Connect(ctx context.Context, cfg Config, handler Handler) (*Session, error) {
	cfg.setDefaults()
	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		handler:   handler,
		log:       cfg.Logger,
		state:     StateConnecting,
		events:    make(chan event, 16),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		delay:     cfg.ReconnectDelay,
		connected: make(chan error, 1),
		ctx:       loopCtx,
		cancel:    cancel,
	}
	result := s.connected

	go s.run()

	select {
	case err := <-result:
		return s, err
	case <-ctx.Done():
		s.Disconnect()
		return nil, ctx.Err()
	}
}

func (s *Session) UserId() string {
	return s.cfg.UserId
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == StateOpen
}

// Send queues a drawing operation. It never blocks and reports false when
// the operation was dropped because the session is not open or the
// outbound queue is full.
func (s *Session) Send(op types.Operation) bool {
	op.UserId = s.cfg.UserId
	op.Username = s.cfg.Username
	op.RoomId = s.cfg.RoomId
	return s.enqueue(protocol.NewDraw(op))
}

// UpdateCursor queues a cursor position with the same guarantees as Send.
func (s *Session) UpdateCursor(pos types.Position) bool {
	return s.enqueue(protocol.NewCursorMove(s.cfg.UserId, s.cfg.RoomId, pos))
}

func (s *Session) enqueue(env *protocol.Envelope) bool {
	s.mu.RLock()
	t, open := s.cur, s.state == StateOpen
	s.mu.RUnlock()
	if !open || t == nil {
		return false
	}

	data, err := protocol.Encode(env)
	if err != nil {
		s.log.Printf("encode %s: %v", env.Type, err)
		return false
	}
	return t.enqueue(data)
}

// Disconnect leaves the room, closes the transport and cancels any pending
// reconnect. It is safe to call more than once. It waits for the session to
// finish unless a handler callback is running.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() {
		close(s.quit)
	})
	if s.callbacks.Load() > 0 {
		return
	}
	<-s.done
}

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) run() {
	defer close(s.done)
	s.connect()

	for {
		select {
		case <-s.quit:
			s.handleDisconnect()
			return
		case ev := <-s.events:
			switch ev := ev.(type) {
			case dialResult:
				s.handleDial(ev)
			case inbound:
				s.handleInbound(ev)
			case readFailed:
				s.handleReadFailed(ev)
			case ackExpired:
				s.handleAckExpired(ev)
			case retryDue:
				if ev.gen == s.gen {
					s.connect()
				}
			}
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	s.callbacks.Add(1)
	defer s.callbacks.Add(-1)
	s.handler.HandleState(st)
}

func (s *Session) setTransport(t *transport) {
	s.mu.Lock()
	s.cur = t
	s.mu.Unlock()
}

// notifyConnect completes a pending Connect call.
func (s *Session) notifyConnect(err error) {
	if s.connected == nil {
		return
	}
	s.connected <- err
	s.connected = nil
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) connect() {
	s.gen++
	gen := s.gen
	s.setState(StateConnecting)

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AckTimeout)
		defer cancel()

		conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)
		s.post(dialResult{gen: gen, conn: conn, err: err})
	}()
}

func (s *Session) handleDial(ev dialResult) {
	if ev.gen != s.gen {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}

	if ev.err != nil {
		s.log.Printf("dial %s: %v", s.cfg.URL, ev.err)
		s.notifyConnect(fmt.Errorf("%w: %v", ErrTransportUnavailable, ev.err))
		s.setState(StateClosed)
		s.scheduleReconnect()
		return
	}

	t := &transport{
		gen:  ev.gen,
		conn: ev.conn,
		out:  make(chan []byte, outboundQueueSize),
		quit: make(chan struct{}),
	}

	join, err := protocol.Encode(protocol.NewJoin(s.cfg.UserId, s.cfg.Username, s.cfg.RoomId, ""))
	if err != nil {
		s.log.Printf("encode join: %v", err)
		ev.conn.Close()
		s.notifyConnect(fmt.Errorf("%w: %v", ErrTransportUnavailable, err))
		s.setState(StateClosed)
		s.scheduleReconnect()
		return
	}
	t.enqueue(join)
	s.setTransport(t)

	go s.writePump(t)
	go s.readPump(t)

	gen := ev.gen
	s.timer = time.AfterFunc(s.cfg.AckTimeout, func() {
		s.post(ackExpired{gen: gen})
	})
}

func (s *Session) handleInbound(ev inbound) {
	if ev.gen != s.gen {
		return
	}

	if s.State() == StateConnecting && ev.env.Type == protocol.TypeJoin && ev.env.Join.UserId == s.cfg.UserId {
		s.stopTimer()
		s.delay = s.cfg.ReconnectDelay
		s.setState(StateOpen)
		s.notifyConnect(nil)
	}

	s.callbacks.Add(1)
	defer s.callbacks.Add(-1)
	s.handler.HandleEnvelope(ev.env)
}

func (s *Session) handleReadFailed(ev readFailed) {
	if ev.gen != s.gen {
		return
	}

	s.log.Printf("connection lost: %v", ev.err)
	if s.State() == StateConnecting {
		s.notifyConnect(fmt.Errorf("%w: %v", ErrTransportUnavailable, ev.err))
	}
	s.dropTransport()
	s.setState(StateClosed)
	s.scheduleReconnect()
}

func (s *Session) handleAckExpired(ev ackExpired) {
	if ev.gen != s.gen || s.State() != StateConnecting {
		return
	}

	s.log.Printf("no join acknowledgement within %s", s.cfg.AckTimeout)
	s.notifyConnect(ErrTimeout)
	s.setState(StateClosing)
	s.dropTransport()
	s.setState(StateClosed)
	s.scheduleReconnect()
}

func (s *Session) handleDisconnect() {
	s.stopTimer()
	s.cancel()

	if t := s.currentTransport(); t != nil {
		wasOpen := s.State() == StateOpen
		s.setState(StateClosing)
		if wasOpen {
			if leave, err := protocol.Encode(protocol.NewLeave(s.cfg.UserId, s.cfg.Username, s.cfg.RoomId)); err == nil {
				t.enqueue(leave)
			}
		}
		s.dropTransport()
	}

	s.notifyConnect(ErrClosed)
	s.setState(StateClosed)
}

func (s *Session) currentTransport() *transport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cur
}

// dropTransport closes the current transport and invalidates its pending
// events.
func (s *Session) dropTransport() {
	s.stopTimer()
	if t := s.currentTransport(); t != nil {
		t.close()
		s.setTransport(nil)
	}
	s.gen++
}

func (s *Session) scheduleReconnect() {
	delay := s.delay
	if s.cfg.MaxReconnectDelay > s.cfg.ReconnectDelay {
		s.delay = min(s.delay*2, s.cfg.MaxReconnectDelay)
	}

	s.setState(StateReconnecting)
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() {
		s.post(retryDue{gen: gen})
	})
}

func (s *Session) writePump(t *transport) {
	defer t.conn.Close()

	for {
		select {
		case data := <-t.out:
			if !s.write(t, data) {
				return
			}
		case <-t.quit:
			// flush what was queued before the close, a LEAVE included
			for {
				select {
				case data := <-t.out:
					if !s.write(t, data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) write(t *transport, data []byte) bool {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Printf("write: %v", err)
		return false
	}
	return true
}

func (s *Session) readPump(t *transport) {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			s.post(readFailed{gen: t.gen, err: err})
			return
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			s.log.Println("discarding message:", err)
			continue
		}

		s.post(inbound{gen: t.gen, env: env})
	}
}
