package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by repository Get methods when no row matches.
var ErrNotFound = errors.New("storage: not found")

// WorkspaceRepository persists Workspace rows.
type WorkspaceRepository struct {
	db *sql.DB
}

// NewWorkspaceRepository builds a WorkspaceRepository over the given pool.
func NewWorkspaceRepository(db *sql.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// GetByCanonicalID looks up a workspace by its canonical identity string
// (§4.1's remote-or-first-commit-derived key), returning ErrNotFound if absent.
func (r *WorkspaceRepository) GetByCanonicalID(ctx context.Context, canonicalID string) (*Workspace, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, canonical_id, display_name, default_branch, first_seen_at
		FROM workspaces WHERE canonical_id = $1`, canonicalID)
	return scanWorkspace(row)
}

// GetByID looks up a workspace by its generated id.
func (r *WorkspaceRepository) GetByID(ctx context.Context, id string) (*Workspace, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, canonical_id, display_name, default_branch, first_seen_at
		FROM workspaces WHERE id = $1`, id)
	return scanWorkspace(row)
}

// Insert creates a new workspace row. Callers resolving identity should use
// TryInsertIgnoringConflict for race-free upsert semantics (§4.1); Insert is for
// already-serialized callers (tests, migrations).
func (r *WorkspaceRepository) Insert(ctx context.Context, w Workspace) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, canonical_id, display_name, default_branch, first_seen_at)
		VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.CanonicalID, w.DisplayName, w.DefaultBranch, w.FirstSeenAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// TryInsertIgnoringConflict inserts a new workspace row but silently no-ops
// if canonical_id already exists, so two concurrent first-sightings of the
// same workspace never fail each other (§4.1 "race-free upsert").
func (r *WorkspaceRepository) TryInsertIgnoringConflict(ctx context.Context, w Workspace) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, canonical_id, display_name, default_branch, first_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (canonical_id) DO NOTHING`,
		w.ID, w.CanonicalID, w.DisplayName, w.DefaultBranch, w.FirstSeenAt)
	if err != nil {
		return fmt.Errorf("upsert workspace: %w", err)
	}
	return nil
}

// List returns up to limit workspaces ordered by first_seen_at descending; it
// takes no filters.
func (r *WorkspaceRepository) List(ctx context.Context, limit int) ([]Workspace, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, canonical_id, display_name, default_branch, first_seen_at
		FROM workspaces ORDER BY first_seen_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		w, err := scanWorkspaceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row *sql.Row) (*Workspace, error) {
	w, err := scanWorkspaceRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func scanWorkspaceRow(row rowScanner) (*Workspace, error) {
	var w Workspace
	if err := row.Scan(&w.ID, &w.CanonicalID, &w.DisplayName, &w.DefaultBranch, &w.FirstSeenAt); err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	return &w, nil
}
