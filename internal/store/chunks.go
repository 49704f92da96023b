package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/councilkb/councilkb/internal/domain"
)

// ErrInvariant marks an internal invariant violation. These are bugs, not
// recoverable errors: the enclosing transaction rolls back and the task is
// surfaced as failed with the diagnostic.
var ErrInvariant = errors.New("invariant violation")

const chunkColumns = `
	id, document_id, parent_chunk_id, related_event_id, inferred_event_title,
	is_parent, chunk_index, chunk_type, content, parent_content, section_header,
	access_level, metadata, token_count, start_char, end_char, created_at`

func scanChunk(row pgx.Row) (*domain.Chunk, error) {
	var c domain.Chunk
	err := row.Scan(
		&c.ID, &c.DocumentID, &c.ParentChunkID, &c.RelatedEventID, &c.InferredEventTitle,
		&c.IsParent, &c.ChunkIndex, &c.ChunkType, &c.Content, &c.ParentContent, &c.SectionHeader,
		&c.AccessLevel, &c.Metadata, &c.TokenCount, &c.StartChar, &c.EndChar, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertChunkGroup inserts one parent chunk and its children in order.
// Chunk-shape invariants are enforced here rather than left to the caller:
// the parent must have no parent id, every child must point at the parent
// and carry the parent's full text as its context.
func (s *Store) InsertChunkGroup(ctx context.Context, tx querier, parent *domain.Chunk, children []*domain.Chunk) error {
	if !parent.IsParent || parent.ParentChunkID != nil {
		return fmt.Errorf("%w: parent chunk %s has parent_chunk_id set", ErrInvariant, parent.ID)
	}
	if parent.ID == uuid.Nil {
		parent.ID = uuid.New()
	}

	if err := s.insertChunk(ctx, tx, parent); err != nil {
		return err
	}

	for _, child := range children {
		if child.IsParent {
			return fmt.Errorf("%w: child chunk %s flagged is_parent", ErrInvariant, child.ID)
		}
		if child.AccessLevel != parent.AccessLevel {
			return fmt.Errorf("%w: child access level %d differs from parent %d",
				ErrInvariant, child.AccessLevel, parent.AccessLevel)
		}
		if child.ID == uuid.Nil {
			child.ID = uuid.New()
		}
		pid := parent.ID
		child.ParentChunkID = &pid
		child.ParentContent = parent.Content
		if child.SectionHeader == "" {
			child.SectionHeader = parent.SectionHeader
		}
		if err := s.insertChunk(ctx, tx, child); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) insertChunk(ctx context.Context, tx querier, c *domain.Chunk) error {
	var emb *pgvector.Vector
	if len(c.Embedding) > 0 {
		v := pgvector.NewVector(c.Embedding)
		emb = &v
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO document_chunks (
			id, document_id, parent_chunk_id, related_event_id, inferred_event_title,
			is_parent, chunk_index, chunk_type, content, parent_content, section_header,
			embedding, access_level, metadata, token_count, start_char, end_char)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		c.ID, c.DocumentID, c.ParentChunkID, c.RelatedEventID, c.InferredEventTitle,
		c.IsParent, c.ChunkIndex, c.ChunkType, c.Content, c.ParentContent, c.SectionHeader,
		emb, c.AccessLevel, c.Metadata, c.TokenCount, c.StartChar, c.EndChar,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk; %w", err)
	}
	return nil
}

// ParentChunks returns the parent chunks of a document in section order.
func (s *Store) ParentChunks(ctx context.Context, docID uuid.UUID) ([]*domain.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM document_chunks
		 WHERE document_id = $1 AND is_parent ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent chunks; %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ChildChunksPendingEmbedding returns the document's child chunks that have
// no embedding yet, in insertion order.
func (s *Store) ChildChunksPendingEmbedding(ctx context.Context, docID uuid.UUID) ([]*domain.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM document_chunks
		 WHERE document_id = $1 AND NOT is_parent AND embedding IS NULL
		 ORDER BY parent_chunk_id, chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending chunks; %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func collectChunks(rows pgx.Rows) ([]*domain.Chunk, error) {
	var chunks []*domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// UpdateChunkEmbeddings writes one batch of embeddings. ids and vectors are
// parallel; the batch commits or rolls back as a unit with the caller's tx.
func (s *Store) UpdateChunkEmbeddings(ctx context.Context, tx querier, ids []uuid.UUID, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("%w: ids and vectors length mismatch (%d != %d)", ErrInvariant, len(ids), len(vectors))
	}

	for i, id := range ids {
		if len(vectors[i]) != s.opts.EmbeddingDim {
			return fmt.Errorf("%w: embedding dimension %d, want %d", ErrInvariant, len(vectors[i]), s.opts.EmbeddingDim)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE document_chunks SET embedding = $2 WHERE id = $1`,
			id, pgvector.NewVector(vectors[i]),
		); err != nil {
			return fmt.Errorf("failed to update embedding; %w", err)
		}
	}
	return nil
}

// SetChunkEvent links a parent chunk (and its children) to an event and
// records the raw inferred title regardless of whether a match was found.
func (s *Store) SetChunkEvent(ctx context.Context, tx querier, parentID uuid.UUID, eventID *uuid.UUID, inferredTitle string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE document_chunks
		SET related_event_id = $2, inferred_event_title = $3
		WHERE id = $1 OR parent_chunk_id = $1`,
		parentID, eventID, inferredTitle,
	); err != nil {
		return fmt.Errorf("failed to set chunk event; %w", err)
	}
	return nil
}

// SetChunkAccessLevel rewrites the access level of every chunk of a document.
// Enrichment calls this when the document's level changes so chunks keep
// matching their document.
func (s *Store) SetChunkAccessLevel(ctx context.Context, tx querier, docID uuid.UUID, level int) error {
	if _, err := tx.Exec(ctx,
		`UPDATE document_chunks SET access_level = $2 WHERE document_id = $1`,
		docID, level,
	); err != nil {
		return fmt.Errorf("failed to set chunk access level; %w", err)
	}
	return nil
}

// CountChunks returns total and parent chunk counts.
func (s *Store) CountChunks(ctx context.Context) (total int, parents int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE is_parent) FROM document_chunks`,
	).Scan(&total, &parents)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks; %w", err)
	}
	return total, parents, nil
}

// CountDocumentChunks returns the chunk count for one document.
func (s *Store) CountDocumentChunks(ctx context.Context, docID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM document_chunks WHERE document_id = $1`, docID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count document chunks; %w", err)
	}
	return n, nil
}
