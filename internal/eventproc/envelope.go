package eventproc

import (
	"encoding/json"
	"time"
)

// Envelope is the wire shape of one event as it arrives off the stream
// transport: the closed set of fields every event type shares, plus a
// type-specific `data` payload (§3's Event model, pre-resolution — its
// workspace_id/device_id are still the client-supplied raw hints, not the
// resolved internal ids).
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	WorkspaceID string          `json:"workspace_id"` // canonical id string at this stage
	DeviceID    string          `json:"device_id"`
	SessionID   *string         `json:"session_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	BlobRefs    []string        `json:"blob_refs,omitempty"`
}

// Recognized event types, the closed set from §3.
const (
	TypeSessionStart    = "session.start"
	TypeSessionEnd      = "session.end"
	TypeGitCommit       = "git.commit"
	TypeGitPush         = "git.push"
	TypeGitCheckout     = "git.checkout"
	TypeGitMerge        = "git.merge"
	TypeSystemHeartbeat = "system.heartbeat"
)

// sessionStartData is session.start's event.data shape.
type sessionStartData struct {
	SessionID   string  `json:"cc_session_id"`
	GitBranch   *string `json:"git_branch"`
	Model       *string `json:"model"`
	Source      *string `json:"source"`
	RemoteURL   string  `json:"remote_url"`
	FirstCommit string  `json:"first_commit_hash"`
	DisplayName string  `json:"display_name"`
	CWD         string  `json:"cwd"`
}

// sessionEndData is session.end's event.data shape.
type sessionEndData struct {
	EndReason  string `json:"end_reason"`
	DurationMs int64  `json:"duration_ms"`
}

// gitActivityData is the shared shape of git.commit/push/checkout/merge data.
type gitActivityData struct {
	Branch       *string `json:"branch"`
	CommitSHA    *string `json:"commit_sha"`
	Message      *string `json:"message"`
	FilesChanged int     `json:"files_changed"`
	Insertions   int     `json:"insertions"`
	Deletions    int     `json:"deletions"`
	CWD          string  `json:"cwd"`
}
