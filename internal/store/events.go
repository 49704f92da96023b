package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/councilkb/councilkb/internal/domain"
)

const eventColumns = `
	id, title, year, event_date, start_date, end_date, category, department,
	status, chunk_timeline, decisions, action_items, parent_chunk_ids,
	child_chunk_ids, created_at, updated_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(
		&e.ID, &e.Title, &e.Year, &e.EventDate, &e.StartDate, &e.EndDate,
		&e.Category, &e.Department, &e.Status, &e.ChunkTimeline, &e.Decisions,
		&e.ActionItems, &e.ParentChunkIDs, &e.ChildChunkIDs, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEvent inserts a new event. Events are created by enrichment on first
// reference and never deleted.
func (s *Store) CreateEvent(ctx context.Context, tx querier, e *domain.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = domain.EventPlanned
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO events (id, title, year, event_date, category, department, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Title, e.Year, e.EventDate, e.Category, e.Department, e.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create event; %w", err)
	}
	return nil
}

// GetEvent loads an event by id.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

// FindEventByTitle looks for an exact (case-insensitive) title match. When
// year is given, an event matches if its year equals it or is unset.
func (s *Store) FindEventByTitle(ctx context.Context, tx querier, title string, year *int) (*domain.Event, error) {
	if year != nil {
		return scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE lower(title) = lower($1) AND (year = $2 OR year IS NULL)
			 ORDER BY year NULLS LAST LIMIT 1`, title, *year))
	}
	return scanEvent(tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE lower(title) = lower($1) LIMIT 1`, title))
}

// EventsForYear returns fuzzy-match candidates: all events within the given
// year (or all events when year is nil).
func (s *Store) EventsForYear(ctx context.Context, tx querier, year *int) ([]*domain.Event, error) {
	var rows pgx.Rows
	var err error
	if year != nil {
		rows, err = tx.Query(ctx,
			`SELECT `+eventColumns+` FROM events WHERE year = $1 OR year IS NULL`, *year)
	} else {
		rows, err = tx.Query(ctx, `SELECT `+eventColumns+` FROM events`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event candidates; %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEvents returns events, optionally filtered by year, newest first.
func (s *Store) ListEvents(ctx context.Context, year *int) ([]*domain.Event, error) {
	where := ``
	args := []any{}
	if year != nil {
		where = `WHERE year = $1`
		args = append(args, *year)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events; %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ReconcileEventChunks recomputes an event's chunk id aggregates from the
// chunk table, keeping them exactly equal to the set of chunks mapped to the
// event. Back-references are recomputed here, never stored both ways.
func (s *Store) ReconcileEventChunks(ctx context.Context, tx querier, eventID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE events SET
			parent_chunk_ids = COALESCE(
				(SELECT array_agg(id ORDER BY created_at) FROM document_chunks
				 WHERE related_event_id = $1 AND is_parent), '{}'),
			child_chunk_ids = COALESCE(
				(SELECT array_agg(id ORDER BY created_at) FROM document_chunks
				 WHERE related_event_id = $1 AND NOT is_parent), '{}'),
			updated_at = now()
		WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to reconcile event chunks; %w", err)
	}
	return nil
}

// UpdateEventEnrichment merges enrichment aggregates into an event.
// Nil slices leave the stored value untouched.
func (s *Store) UpdateEventEnrichment(ctx context.Context, tx querier, eventID uuid.UUID,
	timeline, decisions, actionItems []byte, department string) error {

	_, err := tx.Exec(ctx, `
		UPDATE events SET
			chunk_timeline = COALESCE($2, chunk_timeline),
			decisions = COALESCE($3, decisions),
			action_items = COALESCE($4, action_items),
			department = COALESCE(NULLIF($5, ''), department),
			updated_at = now()
		WHERE id = $1`,
		eventID, timeline, decisions, actionItems, department)
	if err != nil {
		return fmt.Errorf("failed to update event enrichment; %w", err)
	}
	return nil
}

// CountEvents returns the number of events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events; %w", err)
	}
	return n, nil
}
