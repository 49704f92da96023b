package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/councilkb/councilkb/internal/domain"
)

// InsertChatLog appends one conversational turn. ChatLog rows are analytics
// only; chat history reads come from the session cache, never from here.
func (s *Store) InsertChatLog(ctx context.Context, l *domain.ChatLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_logs (id, session_id, user_level, query, rewritten_query,
			response, chunks, sources, turn_index, retrieval_ms, generation_ms, total_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.SessionID, l.UserLevel, l.Query, l.RewrittenQuery,
		l.Response, l.Chunks, l.Sources, l.TurnIndex,
		l.RetrievalMillis, l.GenerationMillis, l.TotalMillis,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat log; %w", err)
	}
	return nil
}

// NextTurnIndex returns the next turn index for a session.
func (s *Store) NextTurnIndex(ctx context.Context, sessionID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(turn_index), -1) + 1 FROM chat_logs WHERE session_id = $1`,
		sessionID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute turn index; %w", err)
	}
	return next, nil
}
