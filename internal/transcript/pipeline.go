package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/broadcast"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// Downloader fetches a transcript blob by key (§4.5's download phase).
// internal/blobstore.Client satisfies this; tests supply an in-memory fake.
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// Summarizer produces a short summary of a session's transcript (§4.5's
// optional summarize phase). No concrete provider is wired in this module —
// see DESIGN.md for why that stays an interface seam rather than a dependency
// on a specific model SDK.
type Summarizer interface {
	Summarize(ctx context.Context, messages []storage.TranscriptMessage, blocks []storage.ContentBlock) (string, error)
}

// Pipeline drives one session's transcript from an uploaded blob to a parsed,
// queryable set of messages and content blocks (§4.5, C8).
type Pipeline struct {
	sessions    *storage.SessionRepository
	transcripts *storage.TranscriptRepository
	blobs       Downloader
	lifecycle   *lifecycle.Engine
	broadcaster *broadcast.Manager
	summarizer  Summarizer
}

// New builds a Pipeline. summarizer may be nil, in which case the summarize
// phase is skipped entirely and the session stays in "parsed".
func New(
	sessions *storage.SessionRepository,
	transcripts *storage.TranscriptRepository,
	blobs Downloader,
	lifecycleEngine *lifecycle.Engine,
	broadcaster *broadcast.Manager,
	summarizer Summarizer,
) *Pipeline {
	return &Pipeline{
		sessions:    sessions,
		transcripts: transcripts,
		blobs:       blobs,
		lifecycle:   lifecycleEngine,
		broadcaster: broadcaster,
		summarizer:  summarizer,
	}
}

// Run executes all six phases of §4.5 for one session id: claim, download,
// parse, persist, advance, and (if a Summarizer is configured) summarize. It
// is safe to call concurrently for different session ids, and safe to retry
// for the same id — claim is the guard that keeps two concurrent runs from
// double-processing one session.
func (p *Pipeline) Run(ctx context.Context, sessionID string) error {
	claimed, err := p.sessions.ClaimForParsing(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("claim session %s: %w", sessionID, err)
	}
	if !claimed {
		slog.Debug("transcript pipeline: session not claimable, skipping", "session_id", sessionID)
		return nil
	}

	session, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load claimed session %s: %w", sessionID, err)
	}

	if err := p.runClaimed(ctx, session); err != nil {
		p.fail(ctx, sessionID, session.WorkspaceID, err)
		return err
	}
	return nil
}

func (p *Pipeline) runClaimed(ctx context.Context, session *storage.Session) error {
	sessionID := session.ID

	if session.TranscriptS3Key == nil || *session.TranscriptS3Key == "" {
		return errors.New("session has no transcript_s3_key")
	}

	data, err := p.blobs.Download(ctx, *session.TranscriptS3Key)
	if err != nil {
		return fmt.Errorf("download transcript: %w", err)
	}

	startOrdinal, err := p.transcripts.MaxOrdinal(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load max ordinal: %w", err)
	}

	parsed, err := parseJSONL(sessionID, data, startOrdinal)
	if err != nil {
		return fmt.Errorf("parse transcript: %w", err)
	}

	if err := p.transcripts.InsertMessagesBatch(ctx, parsed.Messages, parsed.Blocks); err != nil {
		return fmt.Errorf("persist transcript: %w", err)
	}

	// startOrdinal is -1 when no messages exist yet, so this also covers the
	// first-run case without a special branch.
	totalMessages := startOrdinal + 1 + len(parsed.Messages)

	if err := p.lifecycle.Transition(ctx, sessionID, storage.LifecycleParsed,
		[]storage.Lifecycle{storage.LifecycleEnded},
		storage.FieldUpdate{Column: "parse_status", Value: storage.ParseStatusComplete},
		storage.FieldUpdate{Column: "total_messages", Value: totalMessages},
	); err != nil {
		return fmt.Errorf("advance to parsed: %w", err)
	}
	p.broadcastUpdate(sessionID, session.WorkspaceID, storage.LifecycleParsed, nil)

	if p.summarizer == nil {
		return nil
	}
	p.summarize(ctx, session)
	return nil
}

// summarize runs the optional summarize phase (§4.5 step 6). Failure here is
// logged, not propagated: a session that fails to summarize stays "parsed",
// which is a perfectly valid terminal-ish state per §4.3's edge table, not a
// pipeline failure.
func (p *Pipeline) summarize(ctx context.Context, session *storage.Session) {
	sessionID := session.ID

	messages, err := p.transcripts.ListMessages(ctx, sessionID)
	if err != nil {
		slog.Warn("transcript pipeline: load messages for summarize failed", "session_id", sessionID, "error", err)
		return
	}
	blocks, err := p.transcripts.ListBlocksForMessages(ctx, sessionID)
	if err != nil {
		slog.Warn("transcript pipeline: load blocks for summarize failed", "session_id", sessionID, "error", err)
		return
	}

	summary, err := p.summarizeWithRetry(ctx, messages, blocks)
	if err != nil {
		slog.Warn("transcript pipeline: summarize failed", "session_id", sessionID, "error", err)
		return
	}

	if err := p.lifecycle.Transition(ctx, sessionID, storage.LifecycleSummarized,
		[]storage.Lifecycle{storage.LifecycleParsed},
		storage.FieldUpdate{Column: "summary", Value: summary},
	); err != nil {
		slog.Warn("transcript pipeline: advance to summarized failed", "session_id", sessionID, "error", err)
		return
	}
	p.broadcastUpdate(sessionID, session.WorkspaceID, storage.LifecycleSummarized, &summary)
}

// summarizeWithRetry gives the summarizer one retry after any error. Both
// attempts run under ctx; no per-attempt timeout is applied, so a provider
// call is bounded only by the caller's context.
func (p *Pipeline) summarizeWithRetry(ctx context.Context, messages []storage.TranscriptMessage, blocks []storage.ContentBlock) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		summary, err := p.summarizer.Summarize(ctx, truncateForSummary(messages), blocks)
		if err == nil {
			return summary, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("summarize after retry: %w", lastErr)
}

// summaryMessageBudget bounds how many messages the summarizer sees: only
// the newest summaryMessageBudget messages are passed. The content blocks are
// passed for the whole session.
const summaryMessageBudget = 200

func truncateForSummary(messages []storage.TranscriptMessage) []storage.TranscriptMessage {
	if len(messages) <= summaryMessageBudget {
		return messages
	}
	return messages[len(messages)-summaryMessageBudget:]
}

// fail transitions a session to "failed" after any pipeline-phase error,
// recording the cause in parse_error (§4.5's failure path, §8's invariant
// that every terminal state is reachable and recorded).
func (p *Pipeline) fail(ctx context.Context, sessionID, workspaceID string, cause error) {
	msg := cause.Error()
	if err := p.lifecycle.Transition(ctx, sessionID, storage.LifecycleFailed,
		[]storage.Lifecycle{storage.LifecycleEnded, storage.LifecycleParsed},
		storage.FieldUpdate{Column: "parse_status", Value: storage.ParseStatusFailed},
		storage.FieldUpdate{Column: "parse_error", Value: msg},
	); err != nil {
		slog.Error("transcript pipeline: failed to record failure", "session_id", sessionID, "cause", msg, "error", err)
		return
	}
	p.broadcastUpdate(sessionID, workspaceID, storage.LifecycleFailed, nil)
}

func (p *Pipeline) broadcastUpdate(sessionID, workspaceID string, lc storage.Lifecycle, summary *string) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.BroadcastSessionUpdate(broadcast.SessionUpdate{
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Lifecycle:   string(lc),
		Summary:     summary,
	})
}
