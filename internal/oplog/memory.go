package oplog

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-drawroom/internal/types"
)

const sweepInterval = time.Minute

type roomLog struct {
	ops     []types.Operation
	touched time.Time
}

// MemoryStore is a process-local Store. Each room keeps at most limit
// operations; the oldest are dropped first. A limit of zero disables
// recording. Like RedisStore, a room's log is forgotten logTTL after its
// last write.
type MemoryStore struct {
	mu        sync.Mutex
	limit     int
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	logs      map[string]*roomLog
}

func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		limit: limit,
		ttl:   logTTL,
		now:   time.Now,
		logs:  make(map[string]*roomLog),
	}
}

func (m *MemoryStore) Append(_ context.Context, roomId string, op types.Operation) error {
	if m.limit == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	l := m.live(roomId, now)
	if l == nil {
		l = &roomLog{}
		m.logs[roomId] = l
	}
	l.ops = append(l.ops, op)
	if over := len(l.ops) - m.limit; over > 0 {
		l.ops = slices.Delete(l.ops, 0, over)
	}
	l.touched = now
	return nil
}

func (m *MemoryStore) Replay(_ context.Context, roomId string) ([]types.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.live(roomId, m.now())
	if l == nil {
		return nil, nil
	}
	return slices.Clone(l.ops), nil
}

func (m *MemoryStore) Reset(_ context.Context, roomId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.logs, roomId)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of rooms holding a log.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.logs)
}

// live returns the room's log, dropping it when expired.
func (m *MemoryStore) live(roomId string, now time.Time) *roomLog {
	l, ok := m.logs[roomId]
	if !ok {
		return nil
	}
	if now.Sub(l.touched) >= m.ttl {
		delete(m.logs, roomId)
		return nil
	}
	return l
}

func (m *MemoryStore) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now

	for id, l := range m.logs {
		if now.Sub(l.touched) >= m.ttl {
			delete(m.logs, id)
		}
	}
}
