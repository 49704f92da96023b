package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/councilkb/councilkb/internal/adapters/llm"
)

// Sessions is the Redis-backed conversation cache: per session a bounded
// FIFO of recent turns with a TTL. It is the only store chat history reads
// from; chat_logs rows are analytics, never read back here.
type Sessions struct {
	client *redis.Client
	prefix string
	window int
	ttl    time.Duration
}

// NewSessions wraps a Redis client. window is the number of retained turns
// (user and assistant messages each count as one).
func NewSessions(client *redis.Client, prefix string, window int, ttl time.Duration) *Sessions {
	return &Sessions{client: client, prefix: prefix, window: window, ttl: ttl}
}

func (s *Sessions) key(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

// History returns the retained turns, oldest first. A missing session is an
// empty history.
func (s *Sessions) History(ctx context.Context, sessionID string) ([]llm.Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session; %w", err)
	}

	turns := make([]llm.Turn, 0, len(raw))
	for _, r := range raw {
		var t llm.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Append pushes turns onto the session, trims to the window, and refreshes
// the TTL. Concurrent appends to one session may interleave; the list stays
// bounded either way.
func (s *Sessions) Append(ctx context.Context, sessionID string, turns ...llm.Turn) error {
	key := s.key(sessionID)

	pipe := s.client.TxPipeline()
	for _, t := range turns {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal turn; %w", err)
		}
		pipe.RPush(ctx, key, payload)
	}
	pipe.LTrim(ctx, key, int64(-s.window), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append session turns; %w", err)
	}
	return nil
}

// Delete clears a session. Deleting a missing session succeeds.
func (s *Sessions) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session; %w", err)
	}
	return nil
}
