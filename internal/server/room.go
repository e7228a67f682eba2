package server

import (
	"context"
	"log"
	"time"

	"github.com/npezzotti/go-drawroom/internal/oplog"
	"github.com/npezzotti/go-drawroom/internal/protocol"
	"github.com/npezzotti/go-drawroom/internal/stats"
	"github.com/npezzotti/go-drawroom/internal/types"
)

const (
	idleRoomTimeout = time.Second * 5
	storeTimeout    = time.Second * 2
	// maxReplay bounds the operations replayed to a joiner so the replay
	// fits in its outbound queue.
	maxReplay = 200
)

type Room struct {
	id            string
	server        *Server
	log           *log.Logger
	store         oplog.Store
	stats         stats.StatsProvider
	presence      *Presence
	colors        map[string]string
	nextColor     int
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	idleTimeout   time.Duration
	// killTimer unloads the room once it has been empty for idleTimeout
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(id string, s *Server) *Room {
	return &Room{
		id:            id,
		server:        s,
		log:           s.log,
		store:         s.store,
		stats:         s.stats,
		presence:      NewPresence(),
		colors:        make(map[string]string),
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		idleTimeout:   s.idleTimeout,
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(r.idleTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case msg := <-r.clientMsgChan:
			switch msg.env.Type {
			case protocol.TypeDraw:
				r.handleDraw(msg)
			case protocol.TypeCursorMove:
				r.handleCursor(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			if r.handleRoomExit(e) {
				return
			}
		}
	}
}

// Users returns a snapshot of the room's presence.
func (r *Room) Users() []types.User {
	return r.presence.Snapshot()
}

func (r *Room) Id() string {
	return r.id
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.id)
	select {
	case r.server.unloadRoomChan <- r.id:
	default:
		r.killTimer.Reset(r.idleTimeout)
	}
}

// handleRoomExit reports whether the room stopped. An unforced exit is
// refused while members are present or a join is waiting.
func (r *Room) handleRoomExit(e exitReq) bool {
	if !e.force && (r.presence.Len() > 0 || len(r.joinChan) > 0) {
		r.log.Printf("room %q is active, refusing to exit", r.id)
		e.done <- false
		return false
	}

	r.log.Printf("room %q is exiting", r.id)
	r.killTimer.Stop()
	for _, c := range r.presence.Members() {
		c.close()
	}

	close(r.done)
	e.done <- true
	return true
}

func (r *Room) colorFor(userId string) string {
	if color, ok := r.colors[userId]; ok {
		return color
	}

	color := types.Palette[r.nextColor%len(types.Palette)]
	r.nextColor++
	r.colors[userId] = color
	return color
}

func (r *Room) handleJoin(join *ClientMessage) {
	// stop the kill timer since we have a new client
	r.killTimer.Stop()

	c := join.client
	user := types.User{
		Id:    c.user.Id,
		Name:  c.user.Name,
		Color: r.colorFor(c.user.Id),
	}

	prev := r.presence.Put(user, c)
	if prev != nil && prev != c {
		r.log.Printf("user %q reconnected to room %q, closing stale connection", user.Id, r.id)
		prev.close()
	}

	c.queueEnvelope(protocol.NewJoin(user.Id, user.Name, r.id, user.Color))
	c.queueEnvelope(protocol.NewUsers(r.presence.Snapshot()))

	if prev == c {
		// repeated join on the same connection only refreshes the snapshot
		return
	}

	r.replay(c)

	r.log.Printf("user %q joined room %q", user.Name, r.id)
	r.broadcast(protocol.NewJoin(user.Id, user.Name, r.id, user.Color), c)
}

func (r *Room) replay(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	ops, err := r.store.Replay(ctx, r.id)
	if err != nil {
		r.log.Printf("replay room %q: %v", r.id, err)
		return
	}

	if len(ops) > maxReplay {
		ops = ops[len(ops)-maxReplay:]
	}

	for _, op := range ops {
		c.queueEnvelope(protocol.NewDraw(op))
	}
}

func (r *Room) handleLeave(leave *ClientMessage) {
	c := leave.client
	user, ok := r.presence.Remove(c.user.Id, c)
	if !ok {
		return
	}

	r.log.Printf("user %q left room %q", user.Name, r.id)
	r.broadcast(protocol.NewLeave(user.Id, user.Name, r.id), c)
	r.resetTimerIfEmpty()
}

// evict disconnects a member whose outbound queue is full and treats it
// as a leave.
func (r *Room) evict(c *Client) {
	user, ok := r.presence.Remove(c.user.Id, c)
	if !ok {
		return
	}

	r.log.Printf("evicting %q from room %q: %v", user.Id, r.id, ErrMemberWriteStalled)
	r.stats.Incr(stats.MembersEvicted)
	c.close()

	r.broadcast(protocol.NewLeave(user.Id, user.Name, r.id), c)
	r.resetTimerIfEmpty()
}

func (r *Room) resetTimerIfEmpty() {
	if r.presence.Len() == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.id)
		r.killTimer.Reset(r.idleTimeout)
	}
}

func (r *Room) handleDraw(msg *ClientMessage) {
	c := msg.client
	if !r.presence.Holds(c.user.Id, c) {
		r.log.Printf("dropping operation from non-member %q in room %q", c.user.Id, r.id)
		return
	}

	op := *msg.env.Draw
	op.UserId = c.user.Id
	op.Username = c.user.Name
	op.RoomId = r.id

	r.broadcast(protocol.NewDraw(op), c)
	r.stats.Incr(stats.OperationsRelayed)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	var err error
	if op.Kind == types.KindClear {
		err = r.store.Reset(ctx, r.id)
	} else {
		err = r.store.Append(ctx, r.id, op)
	}
	cancel()
	if err != nil {
		r.log.Printf("operation log for room %q: %v", r.id, err)
	}
}

func (r *Room) handleCursor(msg *ClientMessage) {
	c := msg.client
	if !r.presence.Holds(c.user.Id, c) {
		return
	}

	pos := msg.env.Cursor.Position
	if !r.presence.UpdateCursor(c.user.Id, pos) {
		return
	}

	r.broadcast(protocol.NewCursorMove(c.user.Id, r.id, pos), c)
}

// broadcast relays env to every member except origin and evicts the
// members that could not keep up.
func (r *Room) broadcast(env *protocol.Envelope, origin *Client) {
	data, err := protocol.Encode(env)
	if err != nil {
		r.log.Printf("encode %s: %v", env.Type, err)
		return
	}

	for _, c := range fanOut(r.presence.Members(), origin, data) {
		r.evict(c)
	}
}
