package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/councilkb/councilkb/internal/domain"
)

// InsertReference records a link-only source. Upserts by URL so a re-scan of
// the same folder does not duplicate rows.
func (s *Store) InsertReference(ctx context.Context, r *domain.Reference) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO drive_references (id, event_id, description, url, file_type, file_name, access_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url) DO UPDATE
		SET description = EXCLUDED.description, file_name = EXCLUDED.file_name`,
		r.ID, r.EventID, r.Description, r.URL, r.FileType, r.FileName, r.AccessLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reference; %w", err)
	}
	return nil
}

// ListReferences returns references, optionally filtered by event.
func (s *Store) ListReferences(ctx context.Context, eventID *uuid.UUID) ([]*domain.Reference, error) {
	where := ``
	args := []any{}
	if eventID != nil {
		where = `WHERE event_id = $1`
		args = append(args, *eventID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, description, url, file_type, file_name, access_level, created_at
		FROM drive_references `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list references; %w", err)
	}
	defer rows.Close()

	var refs []*domain.Reference
	for rows.Next() {
		var r domain.Reference
		if err := rows.Scan(&r.ID, &r.EventID, &r.Description, &r.URL,
			&r.FileType, &r.FileName, &r.AccessLevel, &r.CreatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, &r)
	}
	return refs, rows.Err()
}
