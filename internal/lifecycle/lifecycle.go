// Package lifecycle owns the session lifecycle DAG (spec §4.3): the
// allowed-edge table and the guarded conditional transition primitive that
// both the event processor and the transcript pipeline build on. It is the
// only package allowed to change a session's lifecycle column.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// edges is the full allowed-transition table from §4.3.
var edges = map[storage.Lifecycle][]storage.Lifecycle{
	storage.LifecycleDetected:   {storage.LifecycleCapturing, storage.LifecycleEnded, storage.LifecycleFailed},
	storage.LifecycleCapturing:  {storage.LifecycleEnded, storage.LifecycleFailed},
	storage.LifecycleEnded:      {storage.LifecycleParsed, storage.LifecycleFailed},
	storage.LifecycleParsed:     {storage.LifecycleSummarized, storage.LifecycleArchived, storage.LifecycleFailed},
	storage.LifecycleSummarized: {storage.LifecycleArchived, storage.LifecycleFailed},
	storage.LifecycleArchived:   nil,
	storage.LifecycleFailed:     nil,
}

// AllowedFrom returns the set of states from which `to` may legally be
// reached, derived from the edge table by inverting it.
func AllowedFrom(to storage.Lifecycle) []storage.Lifecycle {
	var from []storage.Lifecycle
	for state, targets := range edges {
		for _, t := range targets {
			if t == to {
				from = append(from, state)
			}
		}
	}
	return from
}

// IsTerminal reports whether a state has no outgoing edges (§4.3's
// "terminal-state rule").
func IsTerminal(state storage.Lifecycle) bool {
	return len(edges[state]) == 0
}

// ErrNoMatch is returned when a transition's guard failed to match: the
// session's current lifecycle was not one of the caller's allowed_from
// states. Per §4.3's terminal-state rule, this must never be treated as
// silent success. The wrapping error's message names the session's current
// state for diagnostics.
var ErrNoMatch = errors.New("lifecycle: transition did not match")

// Engine executes guarded transitions against the session repository.
type Engine struct {
	sessions *storage.SessionRepository
}

// New builds an Engine over the given session repository.
func New(sessions *storage.SessionRepository) *Engine {
	return &Engine{sessions: sessions}
}

// Transition attempts to move session id to `to`, guarded on its current
// lifecycle being one of allowedFrom (§4.3's transition(session_id, to,
// allowed_from, updates) primitive — this is the only correct way to change
// lifecycle). On a no-op it returns ErrNoMatch wrapping the session's actual
// current state so the caller can log it and decide whether that's
// "already done" or a genuine conflict.
func (e *Engine) Transition(ctx context.Context, sessionID string, to storage.Lifecycle, allowedFrom []storage.Lifecycle, updates ...storage.FieldUpdate) error {
	matched, current, err := e.sessions.Transition(ctx, sessionID, to, allowedFrom, updates...)
	if err != nil {
		return fmt.Errorf("lifecycle transition %s: %w", sessionID, err)
	}
	if !matched {
		return fmt.Errorf("%w: session %s is %s, wanted one of %v", ErrNoMatch, sessionID, current, allowedFrom)
	}
	return nil
}
