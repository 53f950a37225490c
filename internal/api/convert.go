package api

import (
	"encoding/json"
	"time"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toSessionDTO(s storage.Session) sessionDTO {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	return sessionDTO{
		ID:              s.ID,
		WorkspaceID:     s.WorkspaceID,
		DeviceID:        s.DeviceID,
		Lifecycle:       string(s.Lifecycle),
		ParseStatus:     string(s.ParseStatus),
		ParseError:      s.ParseError,
		StartedAt:       formatTime(s.StartedAt),
		EndedAt:         formatTimePtr(s.EndedAt),
		DurationMs:      s.DurationMs,
		EndReason:       s.EndReason,
		GitBranch:       s.GitBranch,
		Model:           s.Model,
		Source:          s.Source,
		TranscriptS3Key: s.TranscriptS3Key,
		Summary:         s.Summary,
		Tags:            tags,
		TotalMessages:   s.TotalMessages,
		CostEstimateUSD: s.CostEstimateUSD,
		UpdatedAt:       formatTime(s.UpdatedAt),
	}
}

func toWorkspaceDTO(w storage.Workspace) workspaceDTO {
	return workspaceDTO{
		ID:            w.ID,
		CanonicalID:   w.CanonicalID,
		DisplayName:   w.DisplayName,
		DefaultBranch: w.DefaultBranch,
		FirstSeenAt:   formatTime(w.FirstSeenAt),
	}
}

func toDeviceDTO(d storage.Device) deviceDTO {
	return deviceDTO{
		ID:           d.ID,
		Name:         d.Name,
		Type:         string(d.Type),
		FirstSeenAt:  formatTime(d.FirstSeenAt),
		LastActiveAt: formatTime(d.LastActiveAt),
	}
}

func toEventDTO(e storage.Event) eventDTO {
	var data any
	// Best-effort: event.Data is stored as raw JSON; a decode failure here
	// would mean corrupt data already accepted at ingest, not a request error.
	_ = json.Unmarshal(e.Data, &data)
	return eventDTO{
		ID:          e.ID,
		Type:        e.Type,
		Timestamp:   formatTime(e.Timestamp),
		DeviceID:    e.DeviceID,
		WorkspaceID: e.WorkspaceID,
		SessionID:   e.SessionID,
		Data:        data,
		IngestedAt:  formatTime(e.IngestedAt),
	}
}

func toGitActivityDTO(g storage.GitActivity) gitActivityDTO {
	return gitActivityDTO{
		ID:           g.ID,
		Type:         g.Type,
		WorkspaceID:  g.WorkspaceID,
		DeviceID:     g.DeviceID,
		SessionID:    g.SessionID,
		Branch:       g.Branch,
		CommitSHA:    g.CommitSHA,
		Message:      g.Message,
		FilesChanged: g.FilesChanged,
		Insertions:   g.Insertions,
		Deletions:    g.Deletions,
		Timestamp:    formatTime(g.Timestamp),
	}
}
