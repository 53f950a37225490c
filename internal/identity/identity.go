// Package identity resolves the stable workspace/device identities that
// every event, session, and git activity row hangs off of (spec §4.1).
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// ErrUnavailable wraps any backing-store failure during identity resolution,
// matching §4.1's "Fails with IdentityStorage if the backing store is
// unavailable."
var ErrUnavailable = errors.New("identity: storage unavailable")

// WorkspaceHints carries the optional first-insert-only fields for a
// workspace (§4.1: "used only on first insert").
type WorkspaceHints struct {
	DefaultBranch string
	DisplayName   string
}

// Resolver resolves workspace and device identity and maintains the
// workspace/device link row.
type Resolver struct {
	workspaces *storage.WorkspaceRepository
	devices    *storage.DeviceRepository
}

// New builds a Resolver over the given repositories.
func New(workspaces *storage.WorkspaceRepository, devices *storage.DeviceRepository) *Resolver {
	return &Resolver{workspaces: workspaces, devices: devices}
}

// ResolveWorkspace upserts a workspace by canonical id and returns its
// generated id, race-free under concurrent first-sightings (§4.1).
func (r *Resolver) ResolveWorkspace(ctx context.Context, canonicalID string, hints WorkspaceHints) (string, error) {
	candidate := storage.Workspace{
		ID:          newULID(),
		CanonicalID: canonicalID,
		DisplayName: hints.DisplayName,
		FirstSeenAt: time.Now(),
	}
	if hints.DefaultBranch != "" {
		candidate.DefaultBranch = &hints.DefaultBranch
	}

	if err := r.workspaces.TryInsertIgnoringConflict(ctx, candidate); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	existing, err := r.workspaces.GetByCanonicalID(ctx, canonicalID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return existing.ID, nil
}

// ResolveDevice upserts a device by its client-supplied id, bumping
// last_active_at on every call (§4.1).
func (r *Resolver) ResolveDevice(ctx context.Context, deviceID, name string, deviceType storage.DeviceType) (string, error) {
	if deviceType == "" {
		deviceType = storage.DeviceTypeLocal
	}
	now := time.Now()
	if err := r.devices.TryInsertIgnoringConflict(ctx, storage.Device{
		ID: deviceID, Name: name, Type: deviceType, FirstSeenAt: now, LastActiveAt: now,
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.devices.TouchLastActive(ctx, deviceID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return deviceID, nil
}

// EnsureWorkspaceDeviceLink upserts the (workspace, device) link row,
// refreshing local_path and last_active_at without touching the three hook
// flags (§4.1).
func (r *Resolver) EnsureWorkspaceDeviceLink(ctx context.Context, workspaceID, deviceID, localPath string) error {
	if localPath == "" {
		localPath = "unknown"
	}
	err := r.devices.EnsureWorkspaceLink(ctx, storage.WorkspaceDevice{
		WorkspaceID:  workspaceID,
		DeviceID:     deviceID,
		LocalPath:    localPath,
		LastActiveAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// MaybeFlagGitHooksPrompt sets pending_git_hooks_prompt on the workspace's
// link for deviceID when the workspace has a real (non-_unassociated)
// canonical id and hooks have neither been installed nor already prompted
// (session.start handler step in §4.4).
func (r *Resolver) MaybeFlagGitHooksPrompt(ctx context.Context, workspaceID, deviceID string) error {
	ws, err := r.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ws.CanonicalID == Unassociated {
		return nil
	}
	link, err := r.devices.GetWorkspaceLink(ctx, workspaceID, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if link.GitHooksInstalled || link.GitHooksPrompted {
		return nil
	}
	if err := r.devices.SetPendingGitHooksPrompt(ctx, workspaceID, deviceID, true); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	slog.Debug("flagged pending git hooks prompt", "workspace_id", workspaceID, "device_id", deviceID)
	return nil
}

// Unassociated is the canonical id used when a client has neither a git
// remote nor a first-commit hash to derive identity from (§4.1 step 3).
const Unassociated = "_unassociated"

// CanonicalID derives a workspace's canonical identity from a raw git remote
// URL and/or a first-commit hash, per §4.1's three-step rule. Clients perform
// this derivation; no server code path calls it (the transcript-upload S3 key
// is built from the workspace row's stored canonical_id). It lets tests
// exercise the rule without a client fixture.
func CanonicalID(remoteURL, firstCommitHash string) string {
	if remoteURL != "" {
		if host, path, ok := parseRemote(remoteURL); ok {
			if path == "" {
				return strings.ToLower(host)
			}
			return strings.ToLower(host) + "/" + path
		}
	}
	if firstCommitHash != "" {
		return "local:" + firstCommitHash
	}
	return Unassociated
}

// parseRemote strips the `git@host:` or `https://host/` prefix and a
// trailing `.git` suffix from a git remote URL, returning (host, path, ok).
func parseRemote(remote string) (host, path string, ok bool) {
	remote = strings.TrimSpace(remote)
	remote = strings.TrimSuffix(remote, ".git")

	switch {
	case strings.HasPrefix(remote, "git@"):
		rest := strings.TrimPrefix(remote, "git@")
		idx := strings.Index(rest, ":")
		if idx < 0 {
			return "", "", false
		}
		return rest[:idx], rest[idx+1:], true
	case strings.Contains(remote, "://"):
		idx := strings.Index(remote, "://")
		rest := remote[idx+len("://"):]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return rest, "", true
		}
		return rest[:slash], rest[slash+1:], true
	default:
		return "", "", false
	}
}

func newULID() string {
	return ulid.Make().String()
}
