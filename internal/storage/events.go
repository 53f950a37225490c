package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EventRepository persists immutable Event rows.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository builds an EventRepository over the given pool.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert appends a single event, returning inserted=false when an event with
// the same id already exists (§4.4 step 4's duplicate detection). Events are
// never updated once ingested (§3): later corrections arrive as new events
// rather than mutations.
func (r *EventRepository) Insert(ctx context.Context, e Event) (inserted bool, err error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, type, timestamp, device_id, workspace_id, session_id, data, ingested_at, blob_refs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Type, e.Timestamp, e.DeviceID, e.WorkspaceID, e.SessionID, e.Data, e.IngestedAt, textArray(e.BlobRefs))
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

const eventSelectColumns = `
	SELECT id, type, timestamp, device_id, workspace_id, session_id, data, ingested_at, blob_refs`

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var blobRefs textArray
	if err := row.Scan(&e.ID, &e.Type, &e.Timestamp, &e.DeviceID, &e.WorkspaceID, &e.SessionID,
		&e.Data, &e.IngestedAt, &blobRefs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.BlobRefs = []string(blobRefs)
	return &e, nil
}

// ListBySession returns a session's events in chronological order, backing
// the per-session timeline endpoint (§6).
func (r *EventRepository) ListBySession(ctx context.Context, sessionID string, cursor *Cursor, limit int) ([]Event, error) {
	q := newQueryBuilder()
	q.add("session_id = $%d", sessionID)
	q.addKeysetAfter("timestamp", "id", cursor)
	if limit <= 0 {
		limit = 100
	}
	query := eventSelectColumns + ` FROM events ` + q.where() +
		fmt.Sprintf(" ORDER BY timestamp ASC, id ASC LIMIT $%d", q.nextPlaceholder())
	args := append(q.args(), limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events by session: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListByWorkspace returns a workspace's recent events, newest first, backing
// the cross-session workspace timeline (§6).
func (r *EventRepository) ListByWorkspace(ctx context.Context, workspaceID string, cursor *Cursor, limit int) ([]Event, error) {
	q := newQueryBuilder()
	q.add("workspace_id = $%d", workspaceID)
	q.addKeysetBefore("timestamp", "id", cursor)
	if limit <= 0 {
		limit = 100
	}
	query := eventSelectColumns + ` FROM events ` + q.where() +
		fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", q.nextPlaceholder())
	args := append(q.args(), limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events by workspace: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
