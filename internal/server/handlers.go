package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/councilkb/councilkb/internal/chat"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/queue"
	"github.com/councilkb/councilkb/internal/retrieval"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

type ingestRequest struct {
	FolderID string `json:"folder_id"`
	Options  struct {
		PurgeMissing bool `json:"purge_missing"`
	} `json:"options"`
}

func (s *Server) handleIngestFolder(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.FolderID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", errors.New("folder_id is required"))
		return
	}

	taskID, err := s.queue.Enqueue(r.Context(), &queue.Task{
		Kind:         queue.KindIngestFolder,
		FolderID:     req.FolderID,
		PurgeMissing: req.Options.PurgeMissing,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.queue.Status(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Cancel(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query   string `json:"query"`
	TopK    *int   `json:"top_k"`
	Filters struct {
		Year           *int            `json:"year"`
		Department     *string         `json:"department"`
		DocType        *domain.DocType `json:"doc_type"`
		UserLevel      int             `json:"user_level"`
		SemanticWeight *float64        `json:"semantic_weight"`
	} `json:"filters"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	topK := s.settings.Retrieve.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	res, err := s.engine.Search(r.Context(), req.Query, topK, retrieval.Options{
		Year:           req.Filters.Year,
		Department:     req.Filters.Department,
		DocType:        req.Filters.DocType,
		UserLevel:      req.Filters.UserLevel,
		SemanticWeight: req.Filters.SemanticWeight,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	UserLevel int    `json:"user_level"`
	Options   struct {
		TopK       *int    `json:"top_k"`
		Year       *int    `json:"year"`
		Department *string `json:"department"`
	} `json:"options"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	topK := 0
	if req.Options.TopK != nil {
		topK = *req.Options.TopK
	}

	res, err := s.chat.Chat(r.Context(), chat.Request{
		SessionID: req.SessionID,
		Query:     req.Query,
		UserLevel: req.UserLevel,
		TopK:      topK,
		Filters: retrieval.Options{
			Year:       req.Options.Year,
			Department: req.Options.Department,
		},
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.chat.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"turns":      turns,
		"turn_count": len(turns),
	})
}

func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.DeleteHistory(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// documentView is the list/detail projection of a document. Content fields
// are detail-only.
type documentView struct {
	ID               uuid.UUID              `json:"id"`
	Name             string                 `json:"name"`
	StandardizedName string                 `json:"standardized_name,omitempty"`
	DocType          domain.DocType         `json:"doc_type"`
	Category         domain.DocCategory     `json:"category,omitempty"`
	MeetingSubtype   *domain.MeetingSubtype `json:"meeting_subtype,omitempty"`
	AccessLevel      int                    `json:"access_level"`
	Department       string                 `json:"department,omitempty"`
	Year             *int                   `json:"year,omitempty"`
	Status           domain.DocStatus       `json:"status"`
	CurrentStep      int                    `json:"current_step"`
	ErrorMessage     *string                `json:"error_message,omitempty"`
	ParsedContent    string                 `json:"parsed_content,omitempty"`
	Preprocessed     string                 `json:"preprocessed_content,omitempty"`
}

func viewOf(d *domain.Document, detail bool) documentView {
	v := documentView{
		ID:               d.ID,
		Name:             d.Name,
		StandardizedName: d.StandardizedName,
		DocType:          d.DocType,
		Category:         d.Category,
		MeetingSubtype:   d.MeetingSubtype,
		AccessLevel:      d.AccessLevel,
		Department:       d.Department,
		Year:             d.Year,
		Status:           d.Status,
		CurrentStep:      d.CurrentStep,
		ErrorMessage:     d.ErrorMessage,
	}
	if detail {
		v.ParsedContent = d.ParsedContent
		v.Preprocessed = d.PreprocessedContent
	}
	return v
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	var status *domain.DocStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.DocStatus(raw)
		switch st {
		case domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed:
			status = &st
		default:
			s.writeError(w, http.StatusBadRequest, "invalid_request", errors.New("unknown status"))
			return
		}
	}

	total, docs, err := s.store.ListDocuments(r.Context(), skip, limit, status)
	if err != nil {
		s.respondError(w, err)
		return
	}

	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, viewOf(d, false))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"total": total, "documents": views})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(doc, true))
}

type reprocessRequest struct {
	FromStep int `json:"from_step"`
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var req reprocessRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.FromStep < domain.StepClassify || req.FromStep > domain.StepEmbed {
		s.writeError(w, http.StatusBadRequest, "invalid_request", errors.New("from_step must be in [2,7]"))
		return
	}

	// The document must exist before a task is queued for it.
	if _, err := s.store.GetDocument(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}

	taskID, err := s.queue.Enqueue(r.Context(), &queue.Task{
		Kind:       queue.KindReprocess,
		DocumentID: id,
		FromStep:   req.FromStep,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) handleListReferences(w http.ResponseWriter, r *http.Request) {
	var eventID *uuid.UUID
	if raw := r.URL.Query().Get("event_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		eventID = &id
	}

	refs, err := s.store.ListReferences(r.Context(), eventID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"references": refs})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var year *int
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_request", err)
			return
		}
		year = &y
	}

	events, err := s.store.ListEvents(r.Context(), year)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	byStatus, err := s.store.CountDocumentsByStatus(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	chunks, parents, err := s.store.CountChunks(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	events, err := s.store.CountEvents(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"documents_by_status": byStatus,
		"chunks":              chunks,
		"parent_chunks":       parents,
		"events":              events,
	})
}
