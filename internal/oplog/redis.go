package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/npezzotti/go-drawroom/internal/types"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each room's log in a capped Redis list that expires
// after logTTL without writes.
type RedisStore struct {
	client redis.UniversalClient
	limit  int64
	log    *log.Logger
}

func NewRedisStore(ctx context.Context, addr string, limit int, logger *log.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, limit: int64(limit), log: logger}, nil
}

func buildRoomKey(roomId string) string {
	return "drawroom:{" + roomId + "}:oplog"
}

func (s *RedisStore) Append(ctx context.Context, roomId string, op types.Operation) error {
	if s.limit == 0 {
		return nil
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}

	key := buildRoomKey(roomId)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.limit, -1)
	pipe.Expire(ctx, key, logTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

// Replay skips entries that do not decode.
func (s *RedisStore) Replay(ctx context.Context, roomId string) ([]types.Operation, error) {
	raw, err := s.client.LRange(ctx, buildRoomKey(roomId), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read operations: %w", err)
	}

	ops := make([]types.Operation, 0, len(raw))
	for _, r := range raw {
		var op types.Operation
		if err := json.Unmarshal([]byte(r), &op); err != nil {
			s.log.Printf("skipping operation in room %q: %v", roomId, err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (s *RedisStore) Reset(ctx context.Context, roomId string) error {
	if err := s.client.Del(ctx, buildRoomKey(roomId)).Err(); err != nil {
		return fmt.Errorf("reset operations: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
