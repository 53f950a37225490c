package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DeviceRepository persists Device rows and their workspace links.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository builds a DeviceRepository over the given pool.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetByID looks up a device by id.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, type, first_seen_at, last_active_at
		FROM devices WHERE id = $1`, id)
	var d Device
	if err := row.Scan(&d.ID, &d.Name, &d.Type, &d.FirstSeenAt, &d.LastActiveAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	return &d, nil
}

// TryInsertIgnoringConflict creates a device row if it doesn't already
// exist, mirroring the workspace race-free upsert.
func (r *DeviceRepository) TryInsertIgnoringConflict(ctx context.Context, d Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, type, first_seen_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.Name, d.Type, d.FirstSeenAt, d.LastActiveAt)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// TouchLastActive bumps a device's last_active_at to now.
func (r *DeviceRepository) TouchLastActive(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET last_active_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

// EnsureWorkspaceLink upserts the (workspace, device) link row, updating
// last_active_at and local_path on every call so repeated sessions from the
// same pair keep the link fresh (§4.1).
func (r *DeviceRepository) EnsureWorkspaceLink(ctx context.Context, link WorkspaceDevice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workspace_devices (workspace_id, device_id, local_path, last_active_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, device_id) DO UPDATE SET
			local_path = EXCLUDED.local_path,
			last_active_at = EXCLUDED.last_active_at`,
		link.WorkspaceID, link.DeviceID, link.LocalPath, link.LastActiveAt)
	if err != nil {
		return fmt.Errorf("upsert workspace_device link: %w", err)
	}
	return nil
}

// GetWorkspaceLink fetches the (workspace, device) link row.
func (r *DeviceRepository) GetWorkspaceLink(ctx context.Context, workspaceID, deviceID string) (*WorkspaceDevice, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT workspace_id, device_id, local_path, last_active_at,
		       git_hooks_installed, git_hooks_prompted, pending_git_hooks_prompt
		FROM workspace_devices WHERE workspace_id = $1 AND device_id = $2`, workspaceID, deviceID)
	var l WorkspaceDevice
	if err := row.Scan(&l.WorkspaceID, &l.DeviceID, &l.LocalPath, &l.LastActiveAt,
		&l.GitHooksInstalled, &l.GitHooksPrompted, &l.PendingGitHooksPrompt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan workspace_device: %w", err)
	}
	return &l, nil
}

// SetPendingGitHooksPrompt flags a link as awaiting a git-hooks install
// prompt from the client, or clears it once the user has responded.
func (r *DeviceRepository) SetPendingGitHooksPrompt(ctx context.Context, workspaceID, deviceID string, pending bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workspace_devices SET pending_git_hooks_prompt = $3
		WHERE workspace_id = $1 AND device_id = $2`, workspaceID, deviceID, pending)
	if err != nil {
		return fmt.Errorf("update pending_git_hooks_prompt: %w", err)
	}
	return nil
}

// MarkGitHooksInstalled records that hooks were installed for a link and
// clears any pending prompt.
func (r *DeviceRepository) MarkGitHooksInstalled(ctx context.Context, workspaceID, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workspace_devices
		SET git_hooks_installed = true, git_hooks_prompted = true, pending_git_hooks_prompt = false
		WHERE workspace_id = $1 AND device_id = $2`, workspaceID, deviceID)
	if err != nil {
		return fmt.Errorf("mark git hooks installed: %w", err)
	}
	return nil
}

// MarkGitHooksDeclined records that the user was prompted and declined,
// leaving git_hooks_installed untouched so a later install attempt can still
// flip it independently.
func (r *DeviceRepository) MarkGitHooksDeclined(ctx context.Context, workspaceID, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workspace_devices
		SET git_hooks_prompted = true, pending_git_hooks_prompt = false
		WHERE workspace_id = $1 AND device_id = $2`, workspaceID, deviceID)
	if err != nil {
		return fmt.Errorf("mark git hooks declined: %w", err)
	}
	return nil
}

// List returns devices most-recently-active first, for the /api/devices
// listing endpoint. Devices are few enough in practice not to warrant the
// keyset pagination the session/event tables use.
func (r *DeviceRepository) List(ctx context.Context, limit int) ([]Device, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, type, first_seen_at, last_active_at
		FROM devices ORDER BY last_active_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Type, &d.FirstSeenAt, &d.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListPendingGitHooksPrompts returns links awaiting a prompt response,
// backing the /api/prompts/pending endpoint.
func (r *DeviceRepository) ListPendingGitHooksPrompts(ctx context.Context, deviceID string) ([]WorkspaceDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT workspace_id, device_id, local_path, last_active_at,
		       git_hooks_installed, git_hooks_prompted, pending_git_hooks_prompt
		FROM workspace_devices
		WHERE device_id = $1 AND pending_git_hooks_prompt = true`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list pending git hooks prompts: %w", err)
	}
	defer rows.Close()

	var out []WorkspaceDevice
	for rows.Next() {
		var l WorkspaceDevice
		if err := rows.Scan(&l.WorkspaceID, &l.DeviceID, &l.LocalPath, &l.LastActiveAt,
			&l.GitHooksInstalled, &l.GitHooksPrompted, &l.PendingGitHooksPrompt); err != nil {
			return nil, fmt.Errorf("scan workspace_device: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
