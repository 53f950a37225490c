package eventproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/broadcast"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// handleSessionStart creates a session row in "detected" and, when the
// workspace has a real identity, flags a pending git-hooks prompt (§4.4).
func (p *Processor) handleSessionStart(ctx context.Context, ids ResolvedIDs, env Envelope) error {
	var data sessionStartData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode session.start data: %w", err)
	}
	if data.SessionID == "" {
		return fmt.Errorf("session.start missing cc_session_id")
	}

	if err := p.sessions.Insert(ctx, storage.Session{
		ID:          data.SessionID,
		WorkspaceID: ids.WorkspaceID,
		DeviceID:    ids.DeviceID,
		Lifecycle:   storage.LifecycleDetected,
		ParseStatus: storage.ParseStatusPending,
		StartedAt:   env.Timestamp,
		GitBranch:   data.GitBranch,
		Model:       data.Model,
		Source:      data.Source,
		UpdatedAt:   env.Timestamp,
	}); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if err := p.identity.MaybeFlagGitHooksPrompt(ctx, ids.WorkspaceID, ids.DeviceID); err != nil {
		return fmt.Errorf("flag git hooks prompt: %w", err)
	}

	if p.broadcaster != nil {
		p.broadcaster.BroadcastSessionUpdate(broadcast.SessionUpdate{
			SessionID:   data.SessionID,
			WorkspaceID: ids.WorkspaceID,
			Lifecycle:   string(storage.LifecycleDetected),
		})
	}
	return nil
}

// handleSessionEnd transitions the session to "ended" and, if a transcript
// blob is already on file, fires the transcript pipeline without awaiting it
// (§4.4, §9's fire-and-forget design note).
func (p *Processor) handleSessionEnd(ctx context.Context, ids ResolvedIDs, env Envelope) error {
	var data sessionEndData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode session.end data: %w", err)
	}
	sessionID := derefStr(env.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session.end missing session_id")
	}

	updates := []storage.FieldUpdate{
		{Column: "ended_at", Value: env.Timestamp},
		{Column: "duration_ms", Value: data.DurationMs},
	}
	if data.EndReason != "" {
		updates = append(updates, storage.FieldUpdate{Column: "end_reason", Value: data.EndReason})
	}

	err := p.lifecycle.Transition(ctx, sessionID, storage.LifecycleEnded,
		[]storage.Lifecycle{storage.LifecycleDetected, storage.LifecycleCapturing}, updates...)
	if err != nil {
		// A no-op transition (unknown session, already ended) is logged and
		// swallowed per §8's boundary case: "no new row created".
		slog.Warn("session.end transition did not match", "session_id", sessionID, "error", err)
		return nil
	}

	if p.broadcaster != nil {
		p.broadcaster.BroadcastSessionUpdate(broadcast.SessionUpdate{
			SessionID:   sessionID,
			WorkspaceID: ids.WorkspaceID,
			Lifecycle:   string(storage.LifecycleEnded),
		})
	}

	session, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reload session after end: %w", err)
	}
	if session.TranscriptS3Key != nil && *session.TranscriptS3Key != "" && p.triggerPipeline != nil {
		p.triggerPipeline(sessionID)
	}
	return nil
}

// newGitHandler builds the shared handler for git.commit/push/checkout/merge:
// write a normalized activity row, correlate it to a running session, and
// never touch the session row directly (§4.4).
func newGitHandler(eventType string, activity *storage.GitActivityRepository, correlator *Correlator) Handler {
	return func(ctx context.Context, ids ResolvedIDs, env Envelope) error {
		var data gitActivityData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("decode %s data: %w", eventType, err)
		}

		record := storage.GitActivity{
			ID:           env.ID,
			Type:         eventType,
			WorkspaceID:  ids.WorkspaceID,
			DeviceID:     ids.DeviceID,
			Branch:       data.Branch,
			CommitSHA:    data.CommitSHA,
			Message:      data.Message,
			FilesChanged: data.FilesChanged,
			Insertions:   data.Insertions,
			Deletions:    data.Deletions,
			Timestamp:    env.Timestamp,
			Data:         env.Data,
		}

		session, confidence, err := correlator.Correlate(ctx, ids.WorkspaceID, ids.DeviceID, env.Timestamp)
		if err != nil {
			return fmt.Errorf("correlate git activity: %w", err)
		}
		if confidence == ConfidenceActive {
			record.SessionID = &session.ID
		}

		if err := activity.Insert(ctx, record); err != nil {
			return fmt.Errorf("insert git activity: %w", err)
		}
		return nil
	}
}
