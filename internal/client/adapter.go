package client

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-drawroom/internal/protocol"
	"github.com/npezzotti/go-drawroom/internal/types"
)

const (
	cursorWindow    = 50 * time.Millisecond
	cursorThreshold = 5.0
)

// Surface is the drawing canvas. Apply must treat an operation whose
// object already exists as an update of that object.
type Surface interface {
	Apply(op types.Operation)
	Clear()
}

// Notifier receives presence and connectivity changes for display.
type Notifier interface {
	PeerJoined(types.User)
	PeerLeft(types.User)
	StateChanged(State)
}

type sessionHandle interface {
	Send(types.Operation) bool
	UpdateCursor(types.Position) bool
	IsConnected() bool
	Disconnect()
}

// Adapter connects a drawing surface to a Session: local operations and
// pointer movement go out, remote operations and presence come in.
type Adapter struct {
	selfId   string
	surface  Surface
	notifier Notifier

	sessionLock sync.RWMutex
	session     sessionHandle

	// remote operation being applied to the surface, nil otherwise
	applyLock sync.Mutex
	applying  *types.Operation

	mu     sync.Mutex
	users  []types.User
	lastTs int64

	// cursor throttling
	now      func() time.Time
	window   time.Duration
	lastEmit time.Time
	lastPos  *types.Position
	pending  *types.Position
	trailing *time.Timer
}

func NewAdapter(selfId string, surface Surface, notifier Notifier) *Adapter {
	return &Adapter{
		selfId:   selfId,
		surface:  surface,
		notifier: notifier,
		now:      time.Now,
		window:   cursorWindow,
	}
}

// Join connects a new adapter to cfg.RoomId. As with Connect, the adapter
// is returned together with ErrTransportUnavailable or ErrTimeout and
// keeps reconnecting in the background.
func Join(ctx context.Context, cfg Config, surface Surface, notifier Notifier) (*Adapter, error) {
	cfg.setDefaults()
	a := NewAdapter(cfg.UserId, surface, notifier)

	s, err := Connect(ctx, cfg, a)
	if s == nil {
		return nil, err
	}
	a.attach(s)
	return a, err
}

func (a *Adapter) attach(s sessionHandle) {
	a.sessionLock.Lock()
	defer a.sessionLock.Unlock()

	a.session = s
}

func (a *Adapter) getSession() sessionHandle {
	a.sessionLock.RLock()
	defer a.sessionLock.RUnlock()

	return a.session
}

func (a *Adapter) SelfUserId() string {
	return a.selfId
}

func (a *Adapter) IsConnected() bool {
	s := a.getSession()
	return s != nil && s.IsConnected()
}

// Users returns the presence view in join order, self included.
func (a *Adapter) Users() []types.User {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := make([]types.User, len(a.users))
	for i, u := range a.users {
		users[i] = u
		if u.Cursor != nil {
			pos := *u.Cursor
			users[i].Cursor = &pos
		}
	}
	return users
}

func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if a.trailing != nil {
		a.trailing.Stop()
		a.trailing = nil
	}
	a.mu.Unlock()

	if s := a.getSession(); s != nil {
		s.Disconnect()
	}
}

// Draw sends a locally created or modified object. Shape-creating
// operations get an object id when they have none. The returned operation
// is what was sent; ok is false when it was dropped. A Draw for the object
// of the remote operation currently being applied is dropped as an echo.
func (a *Adapter) Draw(op types.Operation) (types.Operation, bool) {
	if a.isEcho(op) {
		return op, false
	}

	if op.Kind.CreatesObject() && op.ObjectId == "" {
		op.ObjectId = types.NewObjectId()
	}

	a.mu.Lock()
	ts := types.NowMillis()
	if ts <= a.lastTs {
		ts = a.lastTs + 1
	}
	a.lastTs = ts
	a.mu.Unlock()
	op.Timestamp = ts

	s := a.getSession()
	if s == nil {
		return op, false
	}
	return op, s.Send(op)
}

// Clear wipes the local surface and tells the room to do the same.
func (a *Adapter) Clear() bool {
	a.surface.Clear()
	_, ok := a.Draw(types.Operation{Kind: types.KindClear})
	return ok
}

// PointerMoved sends the cursor at most once per window and only after it
// moved more than the threshold on either axis. The last suppressed
// position is sent when the window ends.
func (a *Adapter) PointerMoved(pos types.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.movedEnough(pos) {
		// back near the last sent position, nothing left to flush
		a.pending = nil
		return
	}

	elapsed := a.now().Sub(a.lastEmit)
	if elapsed >= a.window {
		a.pending = nil
		a.emitCursor(pos)
		return
	}

	a.pending = &pos
	if a.trailing == nil {
		a.trailing = time.AfterFunc(a.window-elapsed, a.flushCursor)
	}
}

func (a *Adapter) flushCursor() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.trailing = nil
	if a.pending == nil {
		return
	}

	pos := *a.pending
	a.pending = nil
	if a.movedEnough(pos) {
		a.emitCursor(pos)
	}
}

func (a *Adapter) movedEnough(pos types.Position) bool {
	if a.lastPos == nil {
		return true
	}
	return math.Abs(pos.X-a.lastPos.X) > cursorThreshold || math.Abs(pos.Y-a.lastPos.Y) > cursorThreshold
}

func (a *Adapter) emitCursor(pos types.Position) {
	s := a.getSession()
	if s == nil || !s.UpdateCursor(pos) {
		return
	}
	a.lastEmit = a.now()
	a.lastPos = &pos
}

func (a *Adapter) HandleState(st State) {
	if a.notifier != nil {
		a.notifier.StateChanged(st)
	}
}

func (a *Adapter) HandleEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeUsers:
		a.replaceUsers(env.Users.Users)
	case protocol.TypeJoin:
		a.handleJoin(env.Join)
	case protocol.TypeLeave:
		a.handleLeave(env.Leave)
	case protocol.TypeCursorMove:
		a.handleCursor(env.Cursor)
	case protocol.TypeDraw:
		a.applyRemote(*env.Draw)
	}
}

func (a *Adapter) replaceUsers(users []types.User) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.users = slices.Clone(users)
}

func (a *Adapter) handleJoin(j *protocol.Join) {
	if j.UserId == a.selfId {
		return
	}

	user := types.User{Id: j.UserId, Name: j.Username, Color: j.Color}

	a.mu.Lock()
	i := a.indexOf(j.UserId)
	if i >= 0 {
		user.Cursor = a.users[i].Cursor
		a.users[i] = user
	} else {
		a.users = append(a.users, user)
	}
	a.mu.Unlock()

	if a.notifier != nil {
		a.notifier.PeerJoined(user)
	}
}

func (a *Adapter) handleLeave(l *protocol.Leave) {
	a.mu.Lock()
	i := a.indexOf(l.UserId)
	if i < 0 {
		a.mu.Unlock()
		return
	}
	user := a.users[i]
	a.users = slices.Delete(a.users, i, i+1)
	a.mu.Unlock()

	if a.notifier != nil {
		a.notifier.PeerLeft(user)
	}
}

func (a *Adapter) handleCursor(c *protocol.CursorMove) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexOf(c.UserId); i >= 0 {
		pos := c.Position
		a.users[i].Cursor = &pos
	}
}

func (a *Adapter) indexOf(userId string) int {
	return slices.IndexFunc(a.users, func(u types.User) bool {
		return u.Id == userId
	})
}

func (a *Adapter) applyRemote(op types.Operation) {
	if op.UserId == a.selfId {
		return
	}

	a.setApplying(&op)
	defer a.setApplying(nil)

	if op.Kind == types.KindClear {
		a.surface.Clear()
		return
	}
	a.surface.Apply(op)
}

func (a *Adapter) setApplying(op *types.Operation) {
	a.applyLock.Lock()
	defer a.applyLock.Unlock()

	a.applying = op
}

func (a *Adapter) isEcho(op types.Operation) bool {
	a.applyLock.Lock()
	defer a.applyLock.Unlock()

	if a.applying == nil {
		return false
	}
	if a.applying.Kind == types.KindClear {
		return op.Kind == types.KindClear
	}
	return op.ObjectId != "" && op.ObjectId == a.applying.ObjectId
}
