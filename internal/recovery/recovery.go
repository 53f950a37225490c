// Package recovery implements the stuck-session sweep (spec §4.6, C9): a
// ticker-driven scan for sessions whose transcript pipeline stalled, grounded
// on the teacher's pkg/queue orphan-detection loop, adapted from its
// heartbeat-staleness check to this pipeline's parse_status/updated_at check.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/broadcast"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// PipelineRunner re-drives a session's transcript pipeline (internal/transcript.Pipeline.Run).
type PipelineRunner interface {
	Run(ctx context.Context, sessionID string) error
}

// Config controls the sweep's cadence and staleness threshold.
type Config struct {
	Interval       time.Duration // how often to scan
	StuckThreshold time.Duration // how long without progress before a session counts as stuck
	BatchLimit     int           // max candidates per scan
	DryRun         bool          // log candidates without acting on them
}

// Sweeper periodically recovers sessions stuck mid-pipeline.
type Sweeper struct {
	cfg         Config
	sessions    *storage.SessionRepository
	lifecycle   *lifecycle.Engine
	pipeline    PipelineRunner
	broadcaster *broadcast.Manager

	mu             sync.Mutex
	lastScan       time.Time
	totalRecovered int
}

// New builds a Sweeper. Zero-value Interval/StuckThreshold/BatchLimit fall
// back to conservative defaults. broadcaster may be nil.
func New(cfg Config, sessions *storage.SessionRepository, lifecycleEngine *lifecycle.Engine, pipeline PipelineRunner, broadcaster *broadcast.Manager) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 30 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &Sweeper{cfg: cfg, sessions: sessions, lifecycle: lifecycleEngine, pipeline: pipeline, broadcaster: broadcaster}
}

// Run blocks, sweeping on cfg.Interval until ctx is cancelled. All instances
// run this independently and safely — recovery is idempotent through the
// same claim guard the pipeline itself uses.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				slog.Error("recovery sweep failed", "error", err)
			}
		}
	}
}

// sweepOnce performs one scan-and-recover pass, exported via Sweep for tests
// and for an operator-triggered one-off run.
func (s *Sweeper) sweepOnce(ctx context.Context) error {
	return s.Sweep(ctx)
}

// Sweep finds stuck sessions and recovers each one (§4.6): a session with no
// transcript_s3_key is failed outright; one with a key is handed back to the
// transcript pipeline, whose own claim guard makes re-driving it safe even
// if another instance is racing the same scan.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.StuckThreshold)
	stuck, err := s.sessions.ListStuck(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("list stuck sessions: %w", err)
	}

	s.mu.Lock()
	s.lastScan = time.Now()
	s.mu.Unlock()

	if len(stuck) == 0 {
		return nil
	}
	slog.Warn("recovery: found stuck sessions", "count", len(stuck))

	recovered := 0
	for _, session := range stuck {
		if s.cfg.DryRun {
			slog.Info("recovery: would recover (dry run)", "session_id", session.ID, "parse_status", session.ParseStatus)
			continue
		}
		if err := s.recoverOne(ctx, session); err != nil {
			slog.Error("recovery: failed to recover session", "session_id", session.ID, "error", err)
			continue
		}
		recovered++
	}

	s.mu.Lock()
	s.totalRecovered += recovered
	s.mu.Unlock()

	return nil
}

func (s *Sweeper) recoverOne(ctx context.Context, session storage.Session) error {
	log := slog.With("session_id", session.ID)

	if session.TranscriptS3Key == nil || *session.TranscriptS3Key == "" {
		msg := "no transcript_s3_key"
		if err := s.lifecycle.Transition(ctx, session.ID, storage.LifecycleFailed,
			[]storage.Lifecycle{storage.LifecycleEnded, storage.LifecycleParsed},
			storage.FieldUpdate{Column: "parse_status", Value: storage.ParseStatusFailed},
			storage.FieldUpdate{Column: "parse_error", Value: msg},
		); err != nil {
			return fmt.Errorf("mark no-transcript session failed: %w", err)
		}
		log.Warn("recovery: session has no transcript, marked failed")
		s.notify(session.ID, session.WorkspaceID, storage.LifecycleFailed)
		return nil
	}

	if session.ParseStatus == storage.ParseStatusParsing {
		// A worker claimed this session and never advanced it past
		// "parsing" before crashing — exactly the case this sweep exists
		// to repair. Pipeline.Run's own claim guard only matches
		// pending/failed, so roll the marker back to pending first or
		// the claim is skipped and the session stays wedged forever.
		if err := s.sessions.SetParseStatus(ctx, session.ID, storage.ParseStatusPending, nil); err != nil {
			return fmt.Errorf("reset stuck parse_status to pending: %w", err)
		}
		log.Warn("recovery: reset abandoned parsing claim to pending")
	}

	if err := s.pipeline.Run(ctx, session.ID); err != nil {
		return fmt.Errorf("re-run pipeline: %w", err)
	}
	log.Info("recovery: re-drove transcript pipeline")
	return nil
}

func (s *Sweeper) notify(sessionID, workspaceID string, lc storage.Lifecycle) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastSessionUpdate(broadcast.SessionUpdate{
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Lifecycle:   string(lc),
	})
}

// Stats reports the sweeper's cumulative counters. /api/health does not read
// them.
type Stats struct {
	LastScan       time.Time
	TotalRecovered int
}

// Stats returns a snapshot of the sweeper's counters.
func (s *Sweeper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{LastScan: s.lastScan, TotalRecovered: s.totalRecovered}
}
