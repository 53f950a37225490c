package storage

import "time"

// Lifecycle is a session's position in the monotonic DAG of §4.3.
type Lifecycle string

// Lifecycle states, in the order of spec.md §4.3.
const (
	LifecycleDetected   Lifecycle = "detected"
	LifecycleCapturing  Lifecycle = "capturing"
	LifecycleEnded      Lifecycle = "ended"
	LifecycleParsed     Lifecycle = "parsed"
	LifecycleSummarized Lifecycle = "summarized"
	LifecycleArchived   Lifecycle = "archived"
	LifecycleFailed     Lifecycle = "failed"
)

// ParseStatus is the session's transcript-pipeline progress marker.
type ParseStatus string

// Parse status values.
const (
	ParseStatusPending  ParseStatus = "pending"
	ParseStatusParsing  ParseStatus = "parsing"
	ParseStatusComplete ParseStatus = "completed"
	ParseStatusFailed   ParseStatus = "failed"
)

// DeviceType enumerates §3's device type values.
type DeviceType string

// Device types.
const (
	DeviceTypeLocal  DeviceType = "local"
	DeviceTypeRemote DeviceType = "remote"
	DeviceTypeCI     DeviceType = "ci"
)

// Workspace is a stable identity for a code-project context (§3).
type Workspace struct {
	ID            string
	CanonicalID   string
	DisplayName   string
	DefaultBranch *string
	FirstSeenAt   time.Time
}

// Device is a physical client installation (§3).
type Device struct {
	ID           string
	Name         string
	Type         DeviceType
	FirstSeenAt  time.Time
	LastActiveAt time.Time
}

// WorkspaceDevice is the per-(workspace, device) link row (§3).
type WorkspaceDevice struct {
	WorkspaceID           string
	DeviceID              string
	LocalPath             string
	LastActiveAt          time.Time
	GitHooksInstalled     bool
	GitHooksPrompted      bool
	PendingGitHooksPrompt bool
}

// Session is one AI-coding-assistant run (§3).
type Session struct {
	ID              string
	WorkspaceID     string
	DeviceID        string
	Lifecycle       Lifecycle
	ParseStatus     ParseStatus
	ParseError      *string
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationMs      *int64
	EndReason       *string
	GitBranch       *string
	Model           *string
	Source          *string
	TranscriptS3Key *string
	Summary         *string
	Tags            []string
	TotalMessages   int
	CostEstimateUSD float64
	UpdatedAt       time.Time
}

// Event is an immutable observation (§3).
type Event struct {
	ID          string
	Type        string
	Timestamp   time.Time
	DeviceID    string
	WorkspaceID string
	SessionID   *string
	Data        []byte // raw JSON
	IngestedAt  time.Time
	BlobRefs    []string
}

// TranscriptMessage is one parsed message inside a session (§3).
type TranscriptMessage struct {
	SessionID       string
	Ordinal         int
	ID              string
	Role            string
	Timestamp       time.Time
	Model           *string
	InputTokens     int
	OutputTokens    int
	CostEstimateUSD float64
	IsCompacted     bool
	CompactSequence int
}

// ContentBlockType enumerates §3's content block types.
type ContentBlockType string

// Content block types.
const (
	BlockTypeText       ContentBlockType = "text"
	BlockTypeThinking   ContentBlockType = "thinking"
	BlockTypeToolUse    ContentBlockType = "tool_use"
	BlockTypeToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one structured piece of a message (§3).
type ContentBlock struct {
	MessageID    string
	SessionID    string
	BlockOrder   int
	BlockType    ContentBlockType
	ContentText  *string
	ThinkingText *string
	ToolName     *string
	ToolInput    []byte // raw JSON
	ToolResultID *string
	IsError      *bool
	ResultText   *string
}

// GitActivity is a normalized record of a git operation (§3).
type GitActivity struct {
	ID            string
	Type          string
	WorkspaceID   string
	DeviceID      string
	SessionID     *string
	Branch        *string
	CommitSHA     *string
	Message       *string
	FilesChanged  int
	Insertions    int
	Deletions     int
	Timestamp     time.Time
	Data          []byte // raw JSON
}
