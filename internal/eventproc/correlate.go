package eventproc

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// Confidence reports how sure the correlator is about a git-activity match.
type Confidence string

// Confidence levels (§4.4's correlate).
const (
	ConfidenceActive Confidence = "active"
	ConfidenceNone   Confidence = "none"
)

// Correlator matches git activity to the session that was most likely
// responsible for it.
type Correlator struct {
	sessions *storage.SessionRepository
	lookback time.Duration
}

// NewCorrelator builds a Correlator bounded by lookback (the configurable
// CorrelationLookback — see DESIGN.md's Open Question resolution: §4.4's
// literal text applies no bound beyond the lifecycle filter, but an
// unbounded lookback over all history is a correctness footgun the spec
// itself flags, so a default-24h bound is enforced here).
func NewCorrelator(sessions *storage.SessionRepository, lookback time.Duration) *Correlator {
	return &Correlator{sessions: sessions, lookback: lookback}
}

// Correlate returns the most recently started still-active session in
// (workspaceID, deviceID) with started_at <= eventTimestamp, or (nil, none)
// if none qualifies.
func (c *Correlator) Correlate(ctx context.Context, workspaceID, deviceID string, eventTimestamp time.Time) (*storage.Session, Confidence, error) {
	since := eventTimestamp.Add(-c.lookback)

	var candidates []storage.Session
	for _, lc := range []storage.Lifecycle{storage.LifecycleDetected, storage.LifecycleCapturing} {
		lifecycle := lc
		sessions, err := c.sessions.List(ctx, storage.SessionListFilter{
			WorkspaceID: &workspaceID,
			DeviceID:    &deviceID,
			Lifecycle:   &lifecycle,
			Limit:       50,
		})
		if err != nil {
			return nil, ConfidenceNone, fmt.Errorf("correlate: list candidate sessions: %w", err)
		}
		candidates = append(candidates, sessions...)
	}

	best := pickMostRecentEligible(candidates, eventTimestamp, since)
	if best != nil {
		return best, ConfidenceActive, nil
	}
	return nil, ConfidenceNone, nil
}

// pickMostRecentEligible returns the newest session with started_at in
// [since, eventTimestamp], or nil.
func pickMostRecentEligible(candidates []storage.Session, eventTimestamp, since time.Time) *storage.Session {
	var best *storage.Session
	for i := range candidates {
		s := &candidates[i]
		if s.StartedAt.After(eventTimestamp) {
			continue
		}
		if s.StartedAt.Before(since) {
			continue
		}
		if best == nil || s.StartedAt.After(best.StartedAt) {
			best = s
		}
	}
	return best
}
