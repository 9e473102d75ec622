package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/panopticon-door/panopticon/internal/database"
)

// AppendEvent appends one audit entry and returns its assigned event id.
// The database sets the timestamp; audit entries are never updated or
// deleted.
func (r *Repository) AppendEvent(ctx context.Context, event database.StoredEvent) (int64, error) {
	var identityID sql.NullString
	if event.IdentityID != "" {
		identityID = sql.NullString{String: event.IdentityID, Valid: true}
	}

	var eventID int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO events (identity_id, kind, detail)
		VALUES ($1, $2, $3)
		RETURNING event_id
	`, identityID, string(event.Kind), event.Detail).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return eventID, nil
}

// FetchEvents returns all events newest-first.
func (r *Repository) FetchEvents(ctx context.Context) ([]database.StoredEvent, error) {
	return r.fetchEvents(ctx, 0)
}

// FetchRecentEvents returns at most n events newest-first.
func (r *Repository) FetchRecentEvents(ctx context.Context, n int) ([]database.StoredEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.fetchEvents(ctx, n)
}

func (r *Repository) fetchEvents(ctx context.Context, limit int) ([]database.StoredEvent, error) {
	query := `
		SELECT event_id, identity_id, kind, detail, created_at
		FROM events
		ORDER BY event_id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []database.StoredEvent
	for rows.Next() {
		var event database.StoredEvent
		var identityID sql.NullString
		var kind string
		if err := rows.Scan(&event.EventID, &identityID, &kind, &event.Detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.IdentityID = identityID.String
		event.Kind = database.EventKind(kind)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
