package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/councilkb/councilkb/internal/domain"
)

// SearchFilters narrow a retrieval query. UserLevel is the caller's access
// floor: only chunks with access_level >= UserLevel are visible.
type SearchFilters struct {
	Year       *int
	Department *string
	DocType    *domain.DocType
	UserLevel  int
}

// SearchHit is one ranked retrieval result. ParentContent carries the full
// enclosing section so callers can assemble LLM context without a second
// round-trip.
type SearchHit struct {
	ChunkID          uuid.UUID
	DocumentID       uuid.UUID
	DocumentName     string
	StandardizedName string
	SectionHeader    string
	Content          string
	ParentContent    string
	EventTitle       *string
	DriveID          *string
	WebURL           *string
	Subtype          *domain.MeetingSubtype
	Semantic         float64
	Recency          float64
	Score            float64
}

// SearchChunks ranks child chunks by blended cosine similarity and
// exponential time decay, in a single round-trip. Ties in score break toward
// the more reliable meeting subtype (result > minutes > agenda).
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, f SearchFilters,
	k int, semanticWeight, lambdaPerDay float64) ([]SearchHit, error) {

	if k <= 0 {
		return nil, nil
	}
	if len(embedding) != s.opts.EmbeddingDim {
		return nil, fmt.Errorf("query embedding dimension %d, want %d", len(embedding), s.opts.EmbeddingDim)
	}

	args := []any{pgvector.NewVector(embedding), semanticWeight, lambdaPerDay, f.UserLevel, k}
	var filters []string
	if f.Year != nil {
		args = append(args, *f.Year)
		filters = append(filters, fmt.Sprintf("AND d.year = $%d", len(args)))
	}
	if f.Department != nil {
		args = append(args, *f.Department)
		filters = append(filters, fmt.Sprintf("AND d.department = $%d", len(args)))
	}
	if f.DocType != nil {
		args = append(args, *f.DocType)
		filters = append(filters, fmt.Sprintf("AND d.doc_type = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT
			c.id, c.document_id, d.name, d.standardized_name, c.section_header,
			c.content, c.parent_content, e.title, d.drive_id, d.metadata->>'web_url',
			d.meeting_subtype, ranked.semantic, ranked.recency, ranked.score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN events e ON e.id = c.related_event_id
		JOIN LATERAL (
			SELECT
				1 - (c.embedding <=> $1) AS semantic,
				exp(-$3 * GREATEST(
					EXTRACT(EPOCH FROM (now() - COALESCE(d.time_decay_date::timestamptz, d.created_at))) / 86400.0,
					0)) AS recency
		) base ON true
		JOIN LATERAL (
			SELECT base.semantic, base.recency,
				$2 * base.semantic + (1 - $2) * base.recency AS score
		) ranked ON true
		WHERE NOT c.is_parent
			AND c.embedding IS NOT NULL
			AND c.access_level >= $4
			%s
		ORDER BY ranked.score DESC,
			CASE d.meeting_subtype
				WHEN 'result' THEN 3
				WHEN 'minutes' THEN 2
				WHEN 'agenda' THEN 1
				ELSE 0
			END DESC,
			c.id
		LIMIT $5`, strings.Join(filters, "\n\t\t\t"))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks; %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var subtype *string
		if err := rows.Scan(
			&h.ChunkID, &h.DocumentID, &h.DocumentName, &h.StandardizedName, &h.SectionHeader,
			&h.Content, &h.ParentContent, &h.EventTitle, &h.DriveID, &h.WebURL,
			&subtype, &h.Semantic, &h.Recency, &h.Score,
		); err != nil {
			return nil, err
		}
		if subtype != nil {
			st := domain.MeetingSubtype(*subtype)
			h.Subtype = &st
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
