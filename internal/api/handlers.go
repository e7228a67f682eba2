package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-drawroom/internal/server"
	"github.com/npezzotti/go-drawroom/internal/types"
)

const healthCheckTimeout = 2 * time.Second

type roomResponse struct {
	Id    string       `json:"id"`
	Users []types.User `json:"users"`
}

func (s *DrawroomApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *DrawroomApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.srv.Ping(ctx); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *DrawroomApp) listRooms(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, s.srv.Rooms())
}

func (s *DrawroomApp) getRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	users, ok := s.srv.RoomUsers(id)
	if !ok {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, roomResponse{Id: id, Users: users})
}

func (s *DrawroomApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// if no origin header, allow the request
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

func (s *DrawroomApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, s.srv, s.log)
	s.srv.RegisterClient(client)
	go client.Write()
	go client.Read()
}
