package store

import (
	"context"
	"fmt"
)

// Migration is one numbered schema change with explicit up and down SQL.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations returns all schema migrations in order. The embedding column
// dimension and HNSW build parameters are pinned at store open time.
func (s *Store) migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create events table",
			Up: `
				CREATE TABLE IF NOT EXISTS events (
					id UUID PRIMARY KEY,
					title TEXT NOT NULL,
					year INTEGER,
					event_date DATE,
					start_date DATE,
					end_date DATE,
					category TEXT NOT NULL DEFAULT '',
					department TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'planned',
					chunk_timeline JSONB,
					decisions JSONB,
					action_items JSONB,
					parent_chunk_ids UUID[] NOT NULL DEFAULT '{}',
					child_chunk_ids UUID[] NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);

				CREATE INDEX IF NOT EXISTS idx_events_year ON events(year);
			`,
			Down: `DROP TABLE IF EXISTS events;`,
		},
		{
			Version:     2,
			Description: "Create documents table",
			Up: `
				CREATE TABLE IF NOT EXISTS documents (
					id UUID PRIMARY KEY,
					event_id UUID REFERENCES events(id),
					drive_id TEXT,
					name TEXT NOT NULL,
					standardized_name TEXT NOT NULL DEFAULT '',
					path TEXT NOT NULL DEFAULT '',
					mime_type TEXT NOT NULL DEFAULT '',
					original_url TEXT,
					doc_type TEXT NOT NULL DEFAULT 'other',
					category TEXT NOT NULL DEFAULT 'other_document',
					meeting_subtype TEXT,
					access_level INTEGER NOT NULL DEFAULT 1,
					department TEXT NOT NULL DEFAULT '',
					year INTEGER,
					time_decay_date DATE,
					status TEXT NOT NULL DEFAULT 'pending',
					current_step INTEGER NOT NULL DEFAULT 0,
					raw_content TEXT NOT NULL DEFAULT '',
					parsed_content TEXT NOT NULL DEFAULT '',
					preprocessed_content TEXT NOT NULL DEFAULT '',
					metadata JSONB,
					error_message TEXT,
					processed_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_drive_id
					ON documents(drive_id) WHERE drive_id IS NOT NULL;
				CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
				CREATE INDEX IF NOT EXISTS idx_documents_year ON documents(year);
			`,
			Down: `DROP TABLE IF EXISTS documents;`,
		},
		{
			Version:     3,
			Description: "Create document_chunks table with vector embeddings",
			Up: fmt.Sprintf(`
				CREATE EXTENSION IF NOT EXISTS vector;

				CREATE TABLE IF NOT EXISTS document_chunks (
					id UUID PRIMARY KEY,
					document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					parent_chunk_id UUID REFERENCES document_chunks(id) ON DELETE CASCADE,
					related_event_id UUID REFERENCES events(id),
					inferred_event_title TEXT NOT NULL DEFAULT '',
					is_parent BOOLEAN NOT NULL,
					chunk_index INTEGER NOT NULL,
					chunk_type TEXT NOT NULL DEFAULT 'text',
					content TEXT NOT NULL,
					parent_content TEXT NOT NULL DEFAULT '',
					section_header TEXT NOT NULL DEFAULT '',
					embedding vector(%d),
					access_level INTEGER NOT NULL DEFAULT 1,
					metadata JSONB,
					token_count INTEGER NOT NULL DEFAULT 0,
					start_char INTEGER NOT NULL DEFAULT 0,
					end_char INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

					CONSTRAINT chunk_parent_shape CHECK (is_parent = (parent_chunk_id IS NULL))
				);

				CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);
				CREATE INDEX IF NOT EXISTS idx_chunks_parent_chunk_id ON document_chunks(parent_chunk_id);
				CREATE INDEX IF NOT EXISTS idx_chunks_related_event_id ON document_chunks(related_event_id);
			`, s.opts.EmbeddingDim),
			Down: `DROP TABLE IF EXISTS document_chunks;`,
		},
		{
			Version:     4,
			Description: "Create HNSW index on chunk embeddings",
			Up: fmt.Sprintf(`
				CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw
					ON document_chunks USING hnsw (embedding vector_cosine_ops)
					WITH (m = %d, ef_construction = %d);
			`, s.opts.HNSWM, s.opts.HNSWEfConstruct),
			Down: `DROP INDEX IF EXISTS idx_chunks_embedding_hnsw;`,
		},
		{
			Version:     5,
			Description: "Create references table",
			Up: `
				CREATE TABLE IF NOT EXISTS drive_references (
					id UUID PRIMARY KEY,
					event_id UUID REFERENCES events(id),
					description TEXT NOT NULL DEFAULT '',
					url TEXT NOT NULL,
					file_type TEXT NOT NULL DEFAULT '',
					file_name TEXT NOT NULL DEFAULT '',
					access_level INTEGER NOT NULL DEFAULT 1,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_references_url ON drive_references(url);
			`,
			Down: `DROP TABLE IF EXISTS drive_references;`,
		},
		{
			Version:     6,
			Description: "Create chat_logs table",
			Up: `
				CREATE TABLE IF NOT EXISTS chat_logs (
					id UUID PRIMARY KEY,
					session_id TEXT NOT NULL,
					user_level INTEGER NOT NULL,
					query TEXT NOT NULL,
					rewritten_query TEXT NOT NULL DEFAULT '',
					response TEXT NOT NULL DEFAULT '',
					chunks JSONB,
					sources JSONB,
					turn_index INTEGER NOT NULL,
					retrieval_ms BIGINT NOT NULL DEFAULT 0,
					generation_ms BIGINT NOT NULL DEFAULT 0,
					total_ms BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);

				CREATE INDEX IF NOT EXISTS idx_chat_logs_session ON chat_logs(session_id, turn_index);
			`,
			Down: `DROP TABLE IF EXISTS chat_logs;`,
		},
	}
}

// RebuildVectorIndex rebuilds the HNSW index. Intended to be called from the
// asynchronous rebuild task after a large ingestion run.
func (s *Store) RebuildVectorIndex(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `REINDEX INDEX CONCURRENTLY idx_chunks_embedding_hnsw`); err != nil {
		return fmt.Errorf("failed to rebuild vector index; %w", err)
	}
	return nil
}
