package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-drawroom/internal/config"
	"github.com/npezzotti/go-drawroom/internal/server"
)

type DrawroomApp struct {
	log            *log.Logger
	mux            *http.Server
	srv            *server.Server
	allowedOrigins []string
}

// NewDrawroomApp registers the drawroom routes on mux. Routes registered on
// mux by other components, such as the stats endpoint, are served too.
func NewDrawroomApp(mux *http.ServeMux, logger *log.Logger, srv *server.Server, cfg *config.Config) *DrawroomApp {
	s := &DrawroomApp{
		log:            logger,
		srv:            srv,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/rooms", s.listRooms)
	mux.HandleFunc("GET /api/rooms/{id}", s.getRoom)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *DrawroomApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *DrawroomApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *DrawroomApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
