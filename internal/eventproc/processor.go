// Package eventproc is the event processor and handler registry (spec §4.4,
// C5/C7): it resolves identity for each ingested event, persists it
// idempotently, then dispatches to a per-type handler that never aborts
// event storage on failure.
package eventproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/broadcast"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/identity"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// HandlerResult is what a handler invocation leaves behind for observability
// (§4.4 step 6's `{type, success, error}` shape).
type HandlerResult struct {
	Type    string
	Success bool
	Error   string
}

// Handler processes one resolved event. ids carries the already-resolved
// workspace/device identities so handlers never re-resolve them.
type Handler func(ctx context.Context, ids ResolvedIDs, env Envelope) error

// ResolvedIDs carries the internal ids resolveWorkspace/resolveDevice
// produced for this event (§4.4 steps 1-2).
type ResolvedIDs struct {
	WorkspaceID string
	DeviceID    string
}

// PipelineTrigger starts the transcript pipeline for a session without
// blocking the caller (§4.4's session.end handler, §9's fire-and-forget
// design note). Bound to *transcript.Pipeline.Run by the wiring in main.
type PipelineTrigger func(sessionID string)

// Processor implements process(event) (§4.4).
type Processor struct {
	identity        *identity.Resolver
	events          *storage.EventRepository
	sessions        *storage.SessionRepository
	lifecycle       *lifecycle.Engine
	broadcaster     *broadcast.Manager
	handlers        map[string]Handler
	triggerPipeline PipelineTrigger
}

// New builds a Processor with the default handler registry wired in.
func New(
	identityResolver *identity.Resolver,
	events *storage.EventRepository,
	sessions *storage.SessionRepository,
	lifecycleEngine *lifecycle.Engine,
	gitActivity *storage.GitActivityRepository,
	correlator *Correlator,
	broadcaster *broadcast.Manager,
	triggerPipeline PipelineTrigger,
) *Processor {
	p := &Processor{
		identity:        identityResolver,
		events:          events,
		sessions:        sessions,
		lifecycle:       lifecycleEngine,
		broadcaster:     broadcaster,
		triggerPipeline: triggerPipeline,
	}
	p.handlers = map[string]Handler{
		TypeSessionStart: p.handleSessionStart,
		TypeSessionEnd:   p.handleSessionEnd,
		TypeGitCommit:    newGitHandler(TypeGitCommit, gitActivity, correlator),
		TypeGitPush:      newGitHandler(TypeGitPush, gitActivity, correlator),
		TypeGitCheckout:  newGitHandler(TypeGitCheckout, gitActivity, correlator),
		TypeGitMerge:     newGitHandler(TypeGitMerge, gitActivity, correlator),
	}
	return p
}

// Outcome is what Process returns to the ingestion endpoint (§6's per-event
// ingest result shape).
type Outcome struct {
	Duplicate bool
	Handler   *HandlerResult
}

// Process executes process(event) in the exact six-step order of §4.4.
func (p *Processor) Process(ctx context.Context, env Envelope) (Outcome, error) {
	hints := identity.WorkspaceHints{}
	var startData sessionStartData
	if env.Type == TypeSessionStart {
		if err := json.Unmarshal(env.Data, &startData); err == nil && startData.GitBranch != nil {
			hints.DefaultBranch = *startData.GitBranch
		}
		hints.DisplayName = startData.DisplayName
	}

	workspaceID, err := p.identity.ResolveWorkspace(ctx, env.WorkspaceID, hints)
	if err != nil {
		return Outcome{}, fmt.Errorf("process event %s: resolve workspace: %w", env.ID, err)
	}

	deviceID, err := p.identity.ResolveDevice(ctx, env.DeviceID, "", "")
	if err != nil {
		return Outcome{}, fmt.Errorf("process event %s: resolve device: %w", env.ID, err)
	}

	cwd := extractCWD(env)
	if err := p.identity.EnsureWorkspaceDeviceLink(ctx, workspaceID, deviceID, cwd); err != nil {
		return Outcome{}, fmt.Errorf("process event %s: ensure link: %w", env.ID, err)
	}

	inserted, err := p.events.Insert(ctx, storage.Event{
		ID:          env.ID,
		Type:        env.Type,
		Timestamp:   env.Timestamp,
		DeviceID:    deviceID,
		WorkspaceID: workspaceID,
		SessionID:   env.SessionID,
		Data:        env.Data,
		IngestedAt:  time.Now(),
		BlobRefs:    env.BlobRefs,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("process event %s: insert: %w", env.ID, err)
	}
	if !inserted {
		return Outcome{Duplicate: true}, nil
	}

	if p.broadcaster != nil {
		p.broadcaster.BroadcastEvent(workspaceID, derefStr(env.SessionID), broadcast.EventPayload{
			WorkspaceID: workspaceID,
			SessionID:   derefStr(env.SessionID),
			Type:        env.Type,
			Data:        env.Data,
		})
	}

	handler, ok := p.handlers[env.Type]
	if !ok {
		slog.Debug("no handler registered for event type", "type", env.Type, "event_id", env.ID)
		return Outcome{}, nil
	}

	ids := ResolvedIDs{WorkspaceID: workspaceID, DeviceID: deviceID}
	result := p.invokeHandler(ctx, handler, ids, env)
	return Outcome{Handler: &result}, nil
}

// invokeHandler isolates a handler's panics and errors so one bad handler
// never loses the event row that was already persisted (§4.4 step 6).
func (p *Processor) invokeHandler(ctx context.Context, h Handler, ids ResolvedIDs, env Envelope) (result HandlerResult) {
	result.Type = env.Type
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
			slog.Error("event handler panicked", "type", env.Type, "event_id", env.ID, "panic", r)
		}
	}()

	if err := h(ctx, ids, env); err != nil {
		result.Success = false
		result.Error = err.Error()
		slog.Warn("event handler failed", "type", env.Type, "event_id", env.ID, "error", err)
		return result
	}
	result.Success = true
	return result
}

func extractCWD(env Envelope) string {
	var v struct {
		CWD string `json:"cwd"`
	}
	if err := json.Unmarshal(env.Data, &v); err != nil || v.CWD == "" {
		return "unknown"
	}
	return v.CWD
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
