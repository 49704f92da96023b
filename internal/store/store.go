// Package store provides the Postgres metadata store for the knowledge base.
// It owns the relational schema, the vector index on chunk embeddings, and
// all multi-row transactions; stage writes for a document commit or roll back
// together with the document's step counter.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tune the schema at creation time.
type Options struct {
	// EmbeddingDim is the pinned dimension of the chunk embedding column.
	EmbeddingDim int
	// HNSWM and HNSWEfConstruct are the HNSW build parameters.
	HNSWM           int
	HNSWEfConstruct int
}

// Store wraps a pgx connection pool with schema management and repositories.
type Store struct {
	pool *pgxpool.Pool
	opts Options
}

// Open connects to the database and runs pending migrations.
func Open(ctx context.Context, connString string, opts Options) (*Store, error) {
	if opts.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive; got %d", opts.EmbeddingDim)
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string; %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool; %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database; %w", err)
	}

	s := &Store{pool: pool, opts: opts}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations; %w", err)
	}

	return s, nil
}

// Pool returns the underlying connection pool. Use with care; prefer the
// Store methods.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction; %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction; %w", err)
	}
	return nil
}

// Migrate applies all pending migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table; %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version; %w", err)
	}

	for _, m := range s.migrations() {
		if m.Version <= current {
			continue
		}
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to run migration %d (%s); %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// Rollback undoes the n most recent migrations. Rolling back is explicit;
// nothing does it automatically.
func (s *Store) Rollback(ctx context.Context, n int) error {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	all := s.migrations()
	for i := len(all) - 1; i >= 0 && n > 0; i-- {
		m := all[i]
		if m.Version > current {
			continue
		}
		if err := s.undoMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to roll back migration %d (%s); %w", m.Version, m.Description, err)
		}
		n--
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) runMigration(ctx context.Context, m Migration) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			return fmt.Errorf("failed to execute migration; %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("failed to record migration; %w", err)
		}
		return nil
	})
}

func (s *Store) undoMigration(ctx context.Context, m Migration) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.Down); err != nil {
			return fmt.Errorf("failed to execute down migration; %w", err)
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM schema_migrations WHERE version = $1", m.Version,
		); err != nil {
			return fmt.Errorf("failed to unrecord migration; %w", err)
		}
		return nil
	})
}
