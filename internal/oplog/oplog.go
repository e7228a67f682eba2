// Package oplog keeps the recent drawing operations of each room so that
// late joiners can be brought up to date.
package oplog

import (
	"context"
	"time"

	"github.com/npezzotti/go-drawroom/internal/types"
)

// logTTL is how long a room's log outlives its last write.
const logTTL = 30 * time.Minute

type Store interface {
	// Append records op at the end of the room's log.
	Append(ctx context.Context, roomId string, op types.Operation) error
	// Replay returns the room's log oldest first.
	Replay(ctx context.Context, roomId string) ([]types.Operation, error)
	// Reset drops everything recorded for the room.
	Reset(ctx context.Context, roomId string) error
	Ping(ctx context.Context) error
}
