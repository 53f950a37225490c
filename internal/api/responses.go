package api

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status           string                 `json:"status"`
	Checks           map[string]HealthCheck `json:"checks"`
	WSClients        int                    `json:"ws_clients"`
	UptimeSeconds    int64                  `json:"uptime_seconds"`
	Version          string                 `json:"version"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ingestResponse is returned by POST /api/events/ingest.
type ingestResponse struct {
	Ingested   int            `json:"ingested"`
	Duplicates int            `json:"duplicates"`
	Rejected   int            `json:"rejected"`
	Results    []ingestResult `json:"results"`
	Errors     []ingestError  `json:"errors,omitempty"`
}

type ingestResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
}

type ingestError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// retryResponse is returned with 503 when the stream transport is entirely
// unavailable (§7's transient-storage class).
type retryResponse struct {
	RetryAfterSeconds int `json:"retry_after_seconds"`
}

// uploadResponse is returned by POST /api/sessions/:id/transcript/upload.
type uploadResponse struct {
	Status            string `json:"status"`
	S3Key             string `json:"s3_key"`
	PipelineTriggered bool   `json:"pipeline_triggered,omitempty"`
}

// page wraps any list endpoint's items with its opaque keyset cursor.
type page[T any] struct {
	Items      []T    `json:"items"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// sessionDTO is the wire shape of a Session row.
type sessionDTO struct {
	ID               string   `json:"id"`
	WorkspaceID      string   `json:"workspace_id"`
	DeviceID         string   `json:"device_id"`
	Lifecycle        string   `json:"lifecycle"`
	ParseStatus      string   `json:"parse_status"`
	ParseError       *string  `json:"parse_error,omitempty"`
	StartedAt        string   `json:"started_at"`
	EndedAt          *string  `json:"ended_at,omitempty"`
	DurationMs       *int64   `json:"duration_ms,omitempty"`
	EndReason        *string  `json:"end_reason,omitempty"`
	GitBranch        *string  `json:"git_branch,omitempty"`
	Model            *string  `json:"model,omitempty"`
	Source           *string  `json:"source,omitempty"`
	TranscriptS3Key  *string  `json:"transcript_s3_key,omitempty"`
	Summary          *string  `json:"summary,omitempty"`
	Tags             []string `json:"tags"`
	TotalMessages    int      `json:"total_messages"`
	CostEstimateUSD  float64  `json:"cost_estimate_usd"`
	UpdatedAt        string   `json:"updated_at"`
}

// workspaceDTO is the wire shape of a Workspace row.
type workspaceDTO struct {
	ID            string  `json:"id"`
	CanonicalID   string  `json:"canonical_id"`
	DisplayName   string  `json:"display_name"`
	DefaultBranch *string `json:"default_branch,omitempty"`
	FirstSeenAt   string  `json:"first_seen_at"`
}

// deviceDTO is the wire shape of a Device row.
type deviceDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	FirstSeenAt  string `json:"first_seen_at"`
	LastActiveAt string `json:"last_active_at"`
}

// eventDTO is the wire shape of an Event row on a timeline.
type eventDTO struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Timestamp   string  `json:"timestamp"`
	DeviceID    string  `json:"device_id"`
	WorkspaceID string  `json:"workspace_id"`
	SessionID   *string `json:"session_id,omitempty"`
	Data        any     `json:"data"`
	IngestedAt  string  `json:"ingested_at"`
}

// gitActivityDTO is the wire shape of a GitActivity row.
type gitActivityDTO struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	WorkspaceID  string  `json:"workspace_id"`
	DeviceID     string  `json:"device_id"`
	SessionID    *string `json:"session_id,omitempty"`
	Branch       *string `json:"branch,omitempty"`
	CommitSHA    *string `json:"commit_sha,omitempty"`
	Message      *string `json:"message,omitempty"`
	FilesChanged int     `json:"files_changed"`
	Insertions   int     `json:"insertions"`
	Deletions    int     `json:"deletions"`
	Timestamp    string  `json:"timestamp"`
}

// pendingPromptDTO is the wire shape of one pending git-hooks prompt.
type pendingPromptDTO struct {
	WorkspaceID string `json:"workspace_id"`
	DeviceID    string `json:"device_id"`
	LocalPath   string `json:"local_path"`
}
