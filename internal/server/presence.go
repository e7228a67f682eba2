package server

import (
	"cmp"
	"slices"
	"sync"

	"github.com/npezzotti/go-drawroom/internal/types"
)

type member struct {
	user   types.User
	client *Client
	seq    uint64
}

// Presence is the set of users currently in a room, keyed by user id.
// The owning room is the only writer; snapshots may be taken from any
// goroutine.
type Presence struct {
	mu      sync.RWMutex
	members map[string]*member
	seq     uint64
}

func NewPresence() *Presence {
	return &Presence{
		members: make(map[string]*member),
	}
}

// Put inserts or replaces the entry for user.Id and returns the
// connection that previously held it, if any. A replaced entry keeps its
// position in the join order.
func (p *Presence) Put(user types.User, c *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	user.Cursor = copyPosition(user.Cursor)
	if m, ok := p.members[user.Id]; ok {
		prev := m.client
		m.user = user
		m.client = c
		return prev
	}

	p.seq++
	p.members[user.Id] = &member{user: user, client: c, seq: p.seq}
	return nil
}

// Remove deletes the entry for userId if it is held by c. A nil c removes
// the entry regardless of its connection.
func (p *Presence) Remove(userId string, c *Client) (types.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[userId]
	if !ok || (c != nil && m.client != c) {
		return types.User{}, false
	}

	delete(p.members, userId)
	return m.user, true
}

// UpdateCursor sets the cursor of userId and reports whether the user was
// present.
func (p *Presence) UpdateCursor(userId string, pos types.Position) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[userId]
	if !ok {
		return false
	}

	m.user.Cursor = &pos
	return true
}

func (p *Presence) Get(userId string) (types.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, ok := p.members[userId]
	if !ok {
		return types.User{}, false
	}

	u := m.user
	u.Cursor = copyPosition(u.Cursor)
	return u, true
}

// Holds reports whether userId is present through connection c.
func (p *Presence) Holds(userId string, c *Client) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m, ok := p.members[userId]
	return ok && m.client == c
}

// Snapshot returns a copy of every user in join order.
func (p *Presence) Snapshot() []types.User {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ordered := p.ordered()
	users := make([]types.User, len(ordered))
	for i, m := range ordered {
		users[i] = m.user
		users[i].Cursor = copyPosition(m.user.Cursor)
	}
	return users
}

// Members returns the member connections in join order.
func (p *Presence) Members() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ordered := p.ordered()
	clients := make([]*Client, len(ordered))
	for i, m := range ordered {
		clients[i] = m.client
	}
	return clients
}

func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.members)
}

func (p *Presence) ordered() []*member {
	ms := make([]*member, 0, len(p.members))
	for _, m := range p.members {
		ms = append(ms, m)
	}
	slices.SortFunc(ms, func(a, b *member) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return ms
}

func copyPosition(pos *types.Position) *types.Position {
	if pos == nil {
		return nil
	}
	c := *pos
	return &c
}
