package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-drawroom/internal/client"
	"github.com/npezzotti/go-drawroom/internal/types"
)

// logSurface prints what a canvas would render.
type logSurface struct {
	log *log.Logger
}

func (s logSurface) Apply(op types.Operation) {
	s.log.Printf("apply %s %s from %s", op.Kind, op.ObjectId, op.Username)
}

func (s logSurface) Clear() {
	s.log.Println("clear")
}

type logNotifier struct {
	log *log.Logger
}

func (n logNotifier) PeerJoined(u types.User) {
	n.log.Printf("%s joined (%s)", u.Name, u.Color)
}

func (n logNotifier) PeerLeft(u types.User) {
	n.log.Printf("%s left", u.Name)
}

func (n logNotifier) StateChanged(st client.State) {
	n.log.Printf("connection %s", st)
}

var (
	url      string
	room     string
	name     string
	drawRect bool
)

func main() {
	logger := log.New(os.Stderr, "[drawbot] ", log.LstdFlags)

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	flag.StringVar(&url, "url", "ws://localhost:8000/ws", "drawroom websocket endpoint")
	flag.StringVar(&room, "room", "demo", "room to join")
	flag.StringVar(&name, "name", "drawbot", "display name")
	flag.BoolVar(&drawRect, "rect", false, "draw a rectangle after joining")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	adapter, err := client.Join(ctx, client.Config{
		URL:               url,
		RoomId:            room,
		Username:          name,
		MaxReconnectDelay: 30 * time.Second,
		Logger:            logger,
	}, logSurface{log: logger}, logNotifier{log: logger})
	cancel()
	switch {
	case adapter == nil:
		logger.Fatal("join:", err)
	case errors.Is(err, client.ErrTransportUnavailable), errors.Is(err, client.ErrTimeout):
		logger.Println("join:", err, "(retrying)")
	}
	defer adapter.Disconnect()

	logger.Printf("joined %q as %s", room, adapter.SelfUserId())

	if drawRect {
		op, ok := adapter.Draw(types.Operation{
			Kind:        types.KindRect,
			Left:        100,
			Top:         100,
			Width:       200,
			Height:      120,
			Fill:        "#3498db",
			Stroke:      "#34495e",
			StrokeWidth: 2,
		})
		if ok {
			logger.Printf("drew rect %s", op.ObjectId)
		} else {
			logger.Println("rect dropped, not connected")
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Printf("received signal: %s\n", sig)
}
