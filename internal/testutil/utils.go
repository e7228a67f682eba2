package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger prefixed with the test name. Output goes to
// stdout so goroutines that outlive the test can still log safely.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
