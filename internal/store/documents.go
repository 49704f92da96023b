package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/councilkb/councilkb/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so repository
// methods can run standalone or inside a stage transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const documentColumns = `
	id, event_id, drive_id, name, standardized_name, path, mime_type,
	original_url, doc_type, category, meeting_subtype, access_level,
	department, year, time_decay_date, status, current_step,
	raw_content, parsed_content, preprocessed_content,
	metadata, error_message, processed_at, created_at, updated_at`

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var subtype *string
	err := row.Scan(
		&d.ID, &d.EventID, &d.DriveID, &d.Name, &d.StandardizedName, &d.Path, &d.MIMEType,
		&d.OriginalURL, &d.DocType, &d.Category, &subtype, &d.AccessLevel,
		&d.Department, &d.Year, &d.TimeDecayDate, &d.Status, &d.CurrentStep,
		&d.RawContent, &d.ParsedContent, &d.PreprocessedContent,
		&d.Metadata, &d.ErrorMessage, &d.ProcessedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if subtype != nil {
		st := domain.MeetingSubtype(*subtype)
		d.MeetingSubtype = &st
	}
	return &d, nil
}

// UpsertDocumentByDriveID registers a document by its drive id. An existing
// row keeps its id and has its drive-facing fields refreshed; a new row is
// created in pending status at the ingest step. Returns the document id and
// whether a new row was created.
func (s *Store) UpsertDocumentByDriveID(ctx context.Context, d *domain.Document) (uuid.UUID, bool, error) {
	if d.DriveID == nil || *d.DriveID == "" {
		return uuid.Nil, false, fmt.Errorf("document has no drive id")
	}

	var existingID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM documents WHERE drive_id = $1`, *d.DriveID,
	).Scan(&existingID)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO documents (id, drive_id, name, path, mime_type, doc_type,
				access_level, status, current_step, metadata, original_url, time_decay_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			d.ID, *d.DriveID, d.Name, d.Path, d.MIMEType, d.DocType,
			d.AccessLevel, domain.StatusPending, domain.StepIngest, d.Metadata,
			d.OriginalURL, d.TimeDecayDate,
		)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to insert document; %w", err)
		}
		return d.ID, true, nil

	case err != nil:
		return uuid.Nil, false, fmt.Errorf("failed to look up drive id; %w", err)

	default:
		_, err := s.pool.Exec(ctx, `
			UPDATE documents
			SET name = $2, path = $3, mime_type = $4,
				original_url = COALESCE($5, original_url), updated_at = now()
			WHERE id = $1`,
			existingID, d.Name, d.Path, d.MIMEType, d.OriginalURL,
		)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to refresh document; %w", err)
		}
		d.ID = existingID
		return existingID, false, nil
	}
}

// GetDocument loads a document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	return scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
}

// GetDocumentForUpdate loads a document inside tx with a row lock.
// ClearDownstream takes it before resetting a document so a reprocess
// serializes against in-flight stage commits for the same row.
func (s *Store) GetDocumentForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Document, error) {
	return scanDocument(tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id))
}

// MarkProcessing flips a document into processing status.
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = $2, error_message = NULL, updated_at = now()
		WHERE id = $1`,
		id, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark document processing; %w", err)
	}
	return nil
}

// MarkFailed records a stage failure. Downstream stages will not run.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1`,
		id, domain.StatusFailed, message)
	if err != nil {
		return fmt.Errorf("failed to mark document failed; %w", err)
	}
	return nil
}

// MarkCompleted flips a document to completed at the final step.
func (s *Store) MarkCompleted(ctx context.Context, tx querier, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE documents
		SET status = $2, current_step = $3, processed_at = now(), error_message = NULL, updated_at = now()
		WHERE id = $1`,
		id, domain.StatusCompleted, domain.StepEmbed)
	if err != nil {
		return fmt.Errorf("failed to mark document completed; %w", err)
	}
	return nil
}

// SetClassification writes the classify-stage outputs and advances the step.
func (s *Store) SetClassification(ctx context.Context, tx querier, id uuid.UUID,
	docType domain.DocType, category domain.DocCategory, subtype *domain.MeetingSubtype, standardizedName string) error {

	_, err := tx.Exec(ctx, `
		UPDATE documents
		SET doc_type = $2, category = $3, meeting_subtype = $4, standardized_name = $5,
			current_step = $6, updated_at = now()
		WHERE id = $1`,
		id, docType, category, subtype, standardizedName, domain.StepClassify)
	if err != nil {
		return fmt.Errorf("failed to set classification; %w", err)
	}
	return nil
}

// SetParsedContent writes the parse-stage output and advances the step.
func (s *Store) SetParsedContent(ctx context.Context, tx querier, id uuid.UUID, parsed string, originalURL *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE documents
		SET parsed_content = $2, original_url = COALESCE($3, original_url),
			current_step = $4, updated_at = now()
		WHERE id = $1`,
		id, parsed, originalURL, domain.StepParse)
	if err != nil {
		return fmt.Errorf("failed to set parsed content; %w", err)
	}
	return nil
}

// SetPreprocessedContent writes the preprocess-stage output and advances the step.
func (s *Store) SetPreprocessedContent(ctx context.Context, tx querier, id uuid.UUID, content string) error {
	_, err := tx.Exec(ctx, `
		UPDATE documents
		SET preprocessed_content = $2, current_step = $3, updated_at = now()
		WHERE id = $1`,
		id, content, domain.StepPreprocess)
	if err != nil {
		return fmt.Errorf("failed to set preprocessed content; %w", err)
	}
	return nil
}

// SetStep advances current_step without touching content fields. Used by
// stages whose writes live in other tables (chunking).
func (s *Store) SetStep(ctx context.Context, tx querier, id uuid.UUID, step int) error {
	_, err := tx.Exec(ctx, `
		UPDATE documents SET current_step = $2, updated_at = now() WHERE id = $1`,
		id, step)
	if err != nil {
		return fmt.Errorf("failed to set step; %w", err)
	}
	return nil
}

// SetEnrichment writes the enrich-stage document fields and advances the step.
// EventID here is informational; the chunk-level mapping is authoritative.
func (s *Store) SetEnrichment(ctx context.Context, tx querier, id uuid.UUID,
	accessLevel int, timeDecayDate *time.Time, eventID *uuid.UUID, department string, year *int) error {

	_, err := tx.Exec(ctx, `
		UPDATE documents
		SET access_level = $2, time_decay_date = $3, event_id = $4,
			department = COALESCE(NULLIF($5, ''), department), year = COALESCE($6, year),
			current_step = $7, updated_at = now()
		WHERE id = $1`,
		id, accessLevel, timeDecayDate, eventID, department, year, domain.StepEnrich)
	if err != nil {
		return fmt.Errorf("failed to set enrichment; %w", err)
	}
	return nil
}

// ClearDownstream resets a document for reprocessing from fromStep: fields
// and chunks produced by steps >= fromStep are cleared in one transaction and
// current_step regresses to fromStep-1. This is the only sanctioned step
// regression.
func (s *Store) ClearDownstream(ctx context.Context, id uuid.UUID, fromStep int) error {
	if fromStep < domain.StepClassify || fromStep > domain.StepEmbed {
		return domain.InputInvalid(fmt.Errorf("from_step must be in [2,7]; got %d", fromStep))
	}

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		// Lock the row first: a concurrent stage commit finishes or waits,
		// and clearing an unknown document fails instead of no-opping.
		if _, err := s.GetDocumentForUpdate(ctx, tx, id); err != nil {
			return err
		}

		if fromStep <= domain.StepEmbed {
			if _, err := tx.Exec(ctx,
				`UPDATE document_chunks SET embedding = NULL WHERE document_id = $1`, id); err != nil {
				return fmt.Errorf("failed to clear embeddings; %w", err)
			}
		}
		if fromStep <= domain.StepChunk {
			if _, err := tx.Exec(ctx,
				`DELETE FROM document_chunks WHERE document_id = $1`, id); err != nil {
				return fmt.Errorf("failed to delete chunks; %w", err)
			}
		}

		set := `status = 'pending', error_message = NULL, processed_at = NULL, current_step = $2, updated_at = now()`
		if fromStep <= domain.StepPreprocess {
			set += `, preprocessed_content = ''`
		}
		if fromStep <= domain.StepParse {
			set += `, parsed_content = ''`
		}
		if fromStep <= domain.StepClassify {
			set += `, standardized_name = '', meeting_subtype = NULL`
		}

		if _, err := tx.Exec(ctx,
			`UPDATE documents SET `+set+` WHERE id = $1`, id, fromStep-1); err != nil {
			return fmt.Errorf("failed to reset document; %w", err)
		}
		return nil
	})
}

// ListDocuments returns a page of documents, optionally filtered by status,
// plus the total matching count.
func (s *Store) ListDocuments(ctx context.Context, skip, limit int, status *domain.DocStatus) (int, []*domain.Document, error) {
	where := ``
	args := []any{limit, skip}
	if status != nil {
		where = `WHERE status = $3`
		args = append(args, *status)
	}

	var total int
	countSQL := `SELECT count(*) FROM documents`
	if status != nil {
		countSQL += ` WHERE status = $1`
		if err := s.pool.QueryRow(ctx, countSQL, *status).Scan(&total); err != nil {
			return 0, nil, fmt.Errorf("failed to count documents; %w", err)
		}
	} else {
		if err := s.pool.QueryRow(ctx, countSQL).Scan(&total); err != nil {
			return 0, nil, fmt.Errorf("failed to count documents; %w", err)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents `+where+`
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list documents; %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return 0, nil, err
		}
		docs = append(docs, d)
	}
	return total, docs, rows.Err()
}

// CountDocumentsByStatus returns document counts grouped by status.
func (s *Store) CountDocumentsByStatus(ctx context.Context) (map[domain.DocStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents; %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DocStatus]int)
	for rows.Next() {
		var st domain.DocStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ListDriveIDs returns all known drive ids. Used by folder-scan
// reconciliation to find documents whose source disappeared.
func (s *Store) ListDriveIDs(ctx context.Context) (map[string]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT drive_id, id FROM documents WHERE drive_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drive ids; %w", err)
	}
	defer rows.Close()

	ids := make(map[string]uuid.UUID)
	for rows.Next() {
		var driveID string
		var id uuid.UUID
		if err := rows.Scan(&driveID, &id); err != nil {
			return nil, err
		}
		ids[driveID] = id
	}
	return ids, rows.Err()
}

// DeleteDocuments removes documents (and their chunks, via cascade).
// Only used by explicit reconciliation.
func (s *Store) DeleteDocuments(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete documents; %w", err)
	}
	return nil
}
