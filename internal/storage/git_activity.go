package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GitActivityRepository persists normalized GitActivity rows.
type GitActivityRepository struct {
	db *sql.DB
}

// NewGitActivityRepository builds a GitActivityRepository over the given pool.
func NewGitActivityRepository(db *sql.DB) *GitActivityRepository {
	return &GitActivityRepository{db: db}
}

// Insert appends a git activity row, optionally linking it to a session.
// session_id is set when the correlator (§4.4) matched a running session at
// insert time, and nil otherwise; LinkToSession can set it afterwards, but
// nothing in this module calls it.
func (r *GitActivityRepository) Insert(ctx context.Context, g GitActivity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO git_activity (id, type, workspace_id, device_id, session_id, branch,
			commit_sha, message, files_changed, insertions, deletions, timestamp, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		g.ID, g.Type, g.WorkspaceID, g.DeviceID, g.SessionID, g.Branch, g.CommitSHA,
		g.Message, g.FilesChanged, g.Insertions, g.Deletions, g.Timestamp, g.Data)
	if err != nil {
		return fmt.Errorf("insert git activity: %w", err)
	}
	return nil
}

// LinkToSession backfills session_id on a previously-unlinked activity row
// once the correlator (§4.4) has found its owning session.
func (r *GitActivityRepository) LinkToSession(ctx context.Context, id, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE git_activity SET session_id = $2 WHERE id = $1`, id, sessionID)
	if err != nil {
		return fmt.Errorf("link git activity to session: %w", err)
	}
	return nil
}

// ListUnlinkedSince returns workspace git activity with no session link,
// observed no earlier than since, as correlation candidates bounded by the
// configured lookback window (§9 Open Question resolution).
func (r *GitActivityRepository) ListUnlinkedSince(ctx context.Context, workspaceID string, since time.Time) ([]GitActivity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, workspace_id, device_id, session_id, branch, commit_sha,
		       message, files_changed, insertions, deletions, timestamp, data
		FROM git_activity
		WHERE workspace_id = $1 AND session_id IS NULL AND timestamp >= $2
		ORDER BY timestamp ASC`, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("list unlinked git activity: %w", err)
	}
	defer rows.Close()

	var out []GitActivity
	for rows.Next() {
		g, err := scanGitActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// ListBySession returns a session's linked git activity, chronological.
func (r *GitActivityRepository) ListBySession(ctx context.Context, sessionID string) ([]GitActivity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, workspace_id, device_id, session_id, branch, commit_sha,
		       message, files_changed, insertions, deletions, timestamp, data
		FROM git_activity WHERE session_id = $1 ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list git activity by session: %w", err)
	}
	defer rows.Close()

	var out []GitActivity
	for rows.Next() {
		g, err := scanGitActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGitActivity(row rowScanner) (*GitActivity, error) {
	var g GitActivity
	if err := row.Scan(&g.ID, &g.Type, &g.WorkspaceID, &g.DeviceID, &g.SessionID, &g.Branch,
		&g.CommitSHA, &g.Message, &g.FilesChanged, &g.Insertions, &g.Deletions, &g.Timestamp, &g.Data); err != nil {
		return nil, fmt.Errorf("scan git activity: %w", err)
	}
	return &g, nil
}
