//go:build integration

package recovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/recovery"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
	"github.com/codeready-toolchain/tarsy-telemetry/test/dbtest"
)

type fakeRunner struct {
	ran []string
	err error
}

func (f *fakeRunner) Run(ctx context.Context, sessionID string) error {
	f.ran = append(f.ran, sessionID)
	return f.err
}

func newStuckSession(t *testing.T, client *storage.Client, lc storage.Lifecycle, status storage.ParseStatus, transcriptKey *string, updatedAt time.Time) string {
	t.Helper()
	ctx := context.Background()
	workspaces := storage.NewWorkspaceRepository(client.DB())
	devices := storage.NewDeviceRepository(client.DB())
	sessions := storage.NewSessionRepository(client.DB())

	workspaceID := uuid.NewString()
	require.NoError(t, workspaces.Insert(ctx, storage.Workspace{
		ID: workspaceID, CanonicalID: "canonical-" + workspaceID, DisplayName: "demo", FirstSeenAt: time.Now(),
	}))
	deviceID := uuid.NewString()
	require.NoError(t, devices.TryInsertIgnoringConflict(ctx, storage.Device{
		ID: deviceID, Name: "laptop", Type: storage.DeviceTypeLocal, FirstSeenAt: time.Now(), LastActiveAt: time.Now(),
	}))

	sessionID := uuid.NewString()
	require.NoError(t, sessions.Insert(ctx, storage.Session{
		ID: sessionID, WorkspaceID: workspaceID, DeviceID: deviceID,
		Lifecycle: storage.LifecycleDetected, ParseStatus: storage.ParseStatusPending,
		StartedAt: time.Now().Add(-2 * time.Hour), UpdatedAt: time.Now(),
	}))

	engine := lifecycle.New(sessions)
	if lc != storage.LifecycleDetected {
		require.NoError(t, engine.Transition(ctx, sessionID, lc, []storage.Lifecycle{storage.LifecycleDetected}))
	}
	if transcriptKey != nil {
		require.NoError(t, sessions.SetTranscriptRef(ctx, sessionID, *transcriptKey))
	}

	// Force parse_status and a stale updated_at directly, bypassing the
	// guarded primitives: this is test setup, not pipeline behavior.
	_, err := client.DB().ExecContext(ctx,
		"UPDATE sessions SET parse_status = $2, updated_at = $3 WHERE id = $1",
		sessionID, status, updatedAt)
	require.NoError(t, err)

	return sessionID
}

func TestSweepFailsSessionsWithNoTranscriptKey(t *testing.T) {
	client := dbtest.NewClient(t)
	sessions := storage.NewSessionRepository(client.DB())
	engine := lifecycle.New(sessions)

	sessionID := newStuckSession(t, client, storage.LifecycleEnded, storage.ParseStatusPending, nil,
		time.Now().Add(-time.Hour))

	runner := &fakeRunner{}
	sweeper := recovery.New(recovery.Config{StuckThreshold: 10 * time.Minute}, sessions, engine, runner, nil)
	require.NoError(t, sweeper.Sweep(context.Background()))

	updated, err := sessions.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, storage.LifecycleFailed, updated.Lifecycle)
	require.Equal(t, storage.ParseStatusFailed, updated.ParseStatus)
	require.Empty(t, runner.ran)
}

func TestSweepReRunsPipelineForSessionsWithTranscriptKey(t *testing.T) {
	client := dbtest.NewClient(t)
	sessions := storage.NewSessionRepository(client.DB())
	engine := lifecycle.New(sessions)

	key := "transcripts/x.jsonl"
	sessionID := newStuckSession(t, client, storage.LifecycleEnded, storage.ParseStatusParsing, &key,
		time.Now().Add(-time.Hour))

	runner := &fakeRunner{}
	sweeper := recovery.New(recovery.Config{StuckThreshold: 10 * time.Minute}, sessions, engine, runner, nil)
	require.NoError(t, sweeper.Sweep(context.Background()))

	require.Equal(t, []string{sessionID}, runner.ran)

	// An abandoned "parsing" claim must be rolled back to "pending" ahead of
	// the re-run, or the pipeline's own claim guard would skip it as already
	// claimed and the session would stay wedged forever.
	updated, err := sessions.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, storage.ParseStatusPending, updated.ParseStatus)
}

func TestSweepDryRunDoesNotMutate(t *testing.T) {
	client := dbtest.NewClient(t)
	sessions := storage.NewSessionRepository(client.DB())
	engine := lifecycle.New(sessions)

	sessionID := newStuckSession(t, client, storage.LifecycleEnded, storage.ParseStatusPending, nil,
		time.Now().Add(-time.Hour))

	runner := &fakeRunner{}
	sweeper := recovery.New(recovery.Config{StuckThreshold: 10 * time.Minute, DryRun: true}, sessions, engine, runner, nil)
	require.NoError(t, sweeper.Sweep(context.Background()))

	updated, err := sessions.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, storage.LifecycleEnded, updated.Lifecycle)
	require.Empty(t, runner.ran)
}

func TestSweepIgnoresFreshSessions(t *testing.T) {
	client := dbtest.NewClient(t)
	sessions := storage.NewSessionRepository(client.DB())
	engine := lifecycle.New(sessions)

	newStuckSession(t, client, storage.LifecycleEnded, storage.ParseStatusPending, nil, time.Now())

	runner := &fakeRunner{}
	sweeper := recovery.New(recovery.Config{StuckThreshold: time.Hour}, sessions, engine, runner, nil)
	require.NoError(t, sweeper.Sweep(context.Background()))
	require.Empty(t, runner.ran)
}
