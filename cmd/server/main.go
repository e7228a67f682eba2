package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-drawroom/internal/api"
	"github.com/npezzotti/go-drawroom/internal/config"
	"github.com/npezzotti/go-drawroom/internal/oplog"
	"github.com/npezzotti/go-drawroom/internal/server"
	"github.com/npezzotti/go-drawroom/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	redisAddr      string
	opLogSize      int
	allowedOrigins stringSliceFlag
)

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func main() {
	logger := log.New(os.Stderr, "[go-drawroom] ", log.LstdFlags)

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	flag.StringVar(&addr, "addr", envOr("DRAWROOM_ADDR", config.DefaultServerAddr), "server address")
	flag.StringVar(&redisAddr, "redis-addr", os.Getenv("DRAWROOM_REDIS_ADDR"), "redis address for the operation log, in-memory when empty")
	flag.IntVar(&opLogSize, "oplog-size", envIntOr("DRAWROOM_OPLOG_SIZE", config.DefaultOpLogSize), "operations kept per room")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("DRAWROOM_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, redisAddr, allowedOrigins, opLogSize)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var store oplog.Store
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisStore, err := oplog.NewRedisStore(ctx, cfg.RedisAddr, cfg.OpLogSize, logger)
		cancel()
		if err != nil {
			logger.Fatal("oplog:", err)
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Println("redis close:", err)
			}
		}()
		store = redisStore
	} else {
		store = oplog.NewMemoryStore(cfg.OpLogSize)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	drawServer := server.NewServer(logger, store, statsUpdater)

	srv := api.NewDrawroomApp(mux, logger, drawServer, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go drawServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down drawroom server...")
	if err := drawServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("drawroom server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
