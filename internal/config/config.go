package config

import (
	"fmt"
	"net/url"
)

const (
	DefaultServerAddr = "localhost:8000"
	DefaultOpLogSize  = 200
	// MaxOpLogSize keeps a full replay within a member's outbound queue.
	MaxOpLogSize = 200
)

type Config struct {
	ServerAddr     string
	RedisAddr      string
	AllowedOrigins []string
	OpLogSize      int
}

func validateOrigins(origins []string) error {
	for _, o := range origins {
		if o == "*" {
			continue
		}
		u, err := url.Parse(o)
		if err != nil {
			return fmt.Errorf("parse origin %q: %w", o, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("origin %q must include scheme and host", o)
		}
	}
	return nil
}

// NewConfig validates the server settings. An empty redisAddr selects the
// in-memory operation log.
func NewConfig(serverAddr, redisAddr string, allowedOrigins []string, opLogSize int) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opLogSize < 0 || opLogSize > MaxOpLogSize {
		return nil, fmt.Errorf("operation log size must be between 0 and %d", MaxOpLogSize)
	}
	if err := validateOrigins(allowedOrigins); err != nil {
		return nil, fmt.Errorf("allowed origins: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		RedisAddr:      redisAddr,
		AllowedOrigins: allowedOrigins,
		OpLogSize:      opLogSize,
	}, nil
}
