package server

import (
	"context"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-drawroom/internal/oplog"
	"github.com/npezzotti/go-drawroom/internal/stats"
	"github.com/npezzotti/go-drawroom/internal/types"
)

// RoomInfo describes a loaded room.
type RoomInfo struct {
	Id      string `json:"id"`
	Members int    `json:"members"`
}

type Server struct {
	log            *log.Logger
	store          oplog.Store
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	unloadRoomChan chan string
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	idleTimeout    time.Duration
	stop           chan struct{}
	stopOnce       sync.Once
	done           chan struct{}
}

func NewServer(logger *log.Logger, store oplog.Store, su stats.StatsProvider) *Server {
	for _, m := range stats.Metrics {
		su.RegisterMetric(m)
	}

	return &Server{
		log:            logger,
		store:          store,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan string, 64),
		rooms:          make(map[string]*Room),
		idleTimeout:    idleRoomTimeout,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (s *Server) Run() {
	for {
		select {
		case joinMsg := <-s.joinChan:
			s.routeJoin(joinMsg)
		case id := <-s.unloadRoomChan:
			s.unloadRoom(id)
		case <-s.stop:
			s.log.Println("shutting down rooms")
			s.roomsLock.Lock()
			for id, r := range s.rooms {
				s.log.Println("shutting down room", id)
				req := exitReq{force: true, done: make(chan bool, 1)}
				r.exit <- req
				<-req.done
				delete(s.rooms, id)
				s.stats.Decr(stats.ActiveRooms)
			}
			s.roomsLock.Unlock()

			close(s.done)
			return
		}
	}
}

func (s *Server) routeJoin(msg *ClientMessage) {
	roomId := msg.env.Join.RoomId

	s.roomsLock.Lock()
	room, ok := s.rooms[roomId]
	if !ok {
		room = newRoom(roomId, s)
		s.rooms[roomId] = room
		s.stats.Incr(stats.ActiveRooms)
		go room.start()
	}
	s.roomsLock.Unlock()

	msg.client.setRoom(room)
	select {
	case room.joinChan <- msg:
	default:
		s.log.Printf("join channel full on room %q", roomId)
	}
}

func (s *Server) unloadRoom(id string) {
	r, ok := s.getRoom(id)
	if !ok {
		return
	}

	req := exitReq{done: make(chan bool, 1)}
	r.exit <- req
	if !<-req.done {
		return
	}

	s.roomsLock.Lock()
	delete(s.rooms, id)
	s.roomsLock.Unlock()

	s.stats.Decr(stats.ActiveRooms)
	s.log.Printf("unloaded room %q", id)
}

func (s *Server) getRoom(id string) (*Room, bool) {
	s.roomsLock.RLock()
	defer s.roomsLock.RUnlock()

	r, ok := s.rooms[id]
	return r, ok
}

// Rooms lists the loaded rooms ordered by id.
func (s *Server) Rooms() []RoomInfo {
	s.roomsLock.RLock()
	infos := make([]RoomInfo, 0, len(s.rooms))
	for id, r := range s.rooms {
		infos = append(infos, RoomInfo{Id: id, Members: r.presence.Len()})
	}
	s.roomsLock.RUnlock()

	slices.SortFunc(infos, func(a, b RoomInfo) int {
		return strings.Compare(a.Id, b.Id)
	})
	return infos
}

// RoomUsers returns the presence snapshot of a loaded room.
func (s *Server) RoomUsers(id string) ([]types.User, bool) {
	r, ok := s.getRoom(id)
	if !ok {
		return nil, false
	}
	return r.Users(), true
}

// Ping reports whether the operation log backend is reachable.
func (s *Server) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Server) RegisterClient(c *Client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	s.clients[c] = struct{}{}
	s.stats.Incr(stats.ActiveClients)
}

func (s *Server) deregisterClient(c *Client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	s.stats.Decr(stats.ActiveClients)
}

// Shutdown closes every connection and stops every room. It returns
// ctx.Err() if the rooms have not stopped before ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Println("received shutdown signal")
	s.clientsLock.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clientsLock.Unlock()

	s.stopOnce.Do(func() {
		close(s.stop)
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
