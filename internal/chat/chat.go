// Package chat is the conversational layer over retrieval: it folds recent
// turns into a self-contained query, searches, and generates a grounded
// answer. Every step degrades rather than fails: a broken rewrite falls back
// to the raw query, a broken generation returns sources only, and zero hits
// produce a well-formed response with empty sources.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/councilkb/councilkb/internal/adapters/llm"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/retrieval"
	"github.com/councilkb/councilkb/internal/store"
)

var errEmptyQuery = errors.New("query is empty")

// Request is one chat turn. An empty SessionID starts a fresh session.
type Request struct {
	SessionID string
	Query     string
	UserLevel int
	TopK      int
	Filters   retrieval.Options
}

// Source is one citation attached to an answer.
type Source struct {
	DocumentID    uuid.UUID `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	ChunkID       uuid.UUID `json:"chunk_id"`
	SectionHeader string    `json:"section_header"`
	Relevance     float64   `json:"relevance_score"`
	DriveLink     *string   `json:"drive_link,omitempty"`
	EventTitle    *string   `json:"event_title,omitempty"`
}

// Metadata carries the latency counters of one turn.
type Metadata struct {
	LatencyMS           int64 `json:"latency_ms"`
	RetrievalLatencyMS  int64 `json:"retrieval_latency_ms"`
	GenerationLatencyMS int64 `json:"generation_latency_ms"`
}

// Response is the full chat answer. Answer is nil when generation failed;
// the sources still stand on their own.
type Response struct {
	SessionID      string   `json:"session_id"`
	RewrittenQuery string   `json:"rewritten_query"`
	Answer         *string  `json:"answer"`
	Sources        []Source `json:"sources"`
	Metadata       Metadata `json:"metadata"`
}

// Service glues sessions, retrieval, and generation together.
type Service struct {
	sessions *Sessions
	engine   *retrieval.Engine
	llm      llm.Client
	store    *store.Store
	settings *config.Settings
	logger   *slog.Logger
}

// New builds the chat service.
func New(sessions *Sessions, engine *retrieval.Engine, l llm.Client, s *store.Store,
	cfg *config.Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, engine: engine, llm: l, store: s, settings: cfg, logger: logger}
}

// Chat answers one turn.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	if req.Query == "" {
		return nil, domain.InputInvalid(errEmptyQuery)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.UserLevel == 0 {
		req.UserLevel = s.settings.Chat.DefaultLevel
	}
	if req.TopK == 0 {
		req.TopK = s.settings.Chat.DefaultTopK
	}

	history, err := s.sessions.History(ctx, req.SessionID)
	if err != nil {
		s.logger.Warn("failed to load session history", "session", req.SessionID, "error", err)
		history = nil
	}

	// Rewrite degrades to the raw query on failure; the adapter already
	// folds most failures into that fallback.
	rewritten, err := s.llm.RewriteQuery(ctx, history, req.Query)
	if err != nil || rewritten == "" {
		rewritten = req.Query
	}

	filters := req.Filters
	filters.UserLevel = req.UserLevel

	retrievalStart := time.Now()
	searchRes, err := s.engine.Search(ctx, rewritten, req.TopK, filters)
	if err != nil {
		return nil, err
	}
	retrievalMS := time.Since(retrievalStart).Milliseconds()

	contexts := make([]string, 0, len(searchRes.Results))
	sources := make([]Source, 0, len(searchRes.Results))
	for _, h := range searchRes.Results {
		contexts = append(contexts, h.ParentContent)
		sources = append(sources, Source{
			DocumentID:    h.DocumentID,
			DocumentTitle: h.DocumentTitle,
			ChunkID:       h.ChunkID,
			SectionHeader: h.SectionHeader,
			Relevance:     h.Score,
			DriveLink:     h.DriveLink,
			EventTitle:    h.EventTitle,
		})
	}

	generationStart := time.Now()
	var answer *string
	if len(contexts) > 0 {
		text, err := s.llm.GenerateAnswer(ctx, req.Query, contexts)
		if err != nil {
			s.logger.Warn("answer generation failed", "session", req.SessionID, "error", err)
		} else {
			answer = &text
		}
	}
	generationMS := time.Since(generationStart).Milliseconds()

	assistantText := ""
	if answer != nil {
		assistantText = *answer
	}
	if err := s.sessions.Append(ctx, req.SessionID,
		llm.Turn{Role: "user", Content: req.Query},
		llm.Turn{Role: "assistant", Content: assistantText},
	); err != nil {
		s.logger.Warn("failed to append session turns", "session", req.SessionID, "error", err)
	}

	totalMS := time.Since(started).Milliseconds()
	s.logTurn(req, rewritten, assistantText, searchRes, sources, retrievalMS, generationMS, totalMS)

	return &Response{
		SessionID:      req.SessionID,
		RewrittenQuery: rewritten,
		Answer:         answer,
		Sources:        sources,
		Metadata: Metadata{
			LatencyMS:           totalMS,
			RetrievalLatencyMS:  retrievalMS,
			GenerationLatencyMS: generationMS,
		},
	}, nil
}

// logTurn persists the analytics row asynchronously; a failure only logs.
func (s *Service) logTurn(req Request, rewritten, response string, searchRes *retrieval.Response,
	sources []Source, retrievalMS, generationMS, totalMS int64) {

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		turnIndex, err := s.store.NextTurnIndex(ctx, req.SessionID)
		if err != nil {
			s.logger.Warn("failed to compute turn index", "session", req.SessionID, "error", err)
			return
		}

		chunksJSON, _ := json.Marshal(searchRes.Results)
		sourcesJSON, _ := json.Marshal(sources)

		if err := s.store.InsertChatLog(ctx, &domain.ChatLog{
			SessionID:        req.SessionID,
			UserLevel:        req.UserLevel,
			Query:            req.Query,
			RewrittenQuery:   rewritten,
			Response:         response,
			Chunks:           chunksJSON,
			Sources:          sourcesJSON,
			TurnIndex:        turnIndex,
			RetrievalMillis:  retrievalMS,
			GenerationMillis: generationMS,
			TotalMillis:      totalMS,
		}); err != nil {
			s.logger.Warn("failed to insert chat log", "session", req.SessionID, "error", err)
		}
	}()
}

// History returns the cached turns of a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]llm.Turn, error) {
	return s.sessions.History(ctx, sessionID)
}

// DeleteHistory clears the cached turns of a session.
func (s *Service) DeleteHistory(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}
