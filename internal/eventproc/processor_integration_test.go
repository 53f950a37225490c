//go:build integration

package eventproc_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/eventproc"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/identity"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
	"github.com/codeready-toolchain/tarsy-telemetry/test/dbtest"
)

func newTestProcessor(t *testing.T) (*eventproc.Processor, *storage.Client) {
	t.Helper()
	client := dbtest.NewClient(t)
	db := client.DB()

	workspaces := storage.NewWorkspaceRepository(db)
	devices := storage.NewDeviceRepository(db)
	sessions := storage.NewSessionRepository(db)
	events := storage.NewEventRepository(db)
	gitActivity := storage.NewGitActivityRepository(db)

	resolver := identity.New(workspaces, devices)
	engine := lifecycle.New(sessions)
	correlator := eventproc.NewCorrelator(sessions, 24*time.Hour)

	p := eventproc.New(resolver, events, sessions, engine, gitActivity, correlator, nil, nil)
	return p, client
}

func TestProcessSessionStartThenEndHappyPath(t *testing.T) {
	p, client := newTestProcessor(t)
	sessions := storage.NewSessionRepository(client.DB())
	ctx := context.Background()

	startData, _ := json.Marshal(map[string]any{
		"cc_session_id": "cc-1",
		"cwd":           "/r",
		"git_branch":    "main",
		"source":        "startup",
	})
	startEnv := eventproc.Envelope{
		ID:          "evt-a",
		Type:        eventproc.TypeSessionStart,
		Timestamp:   time.Now(),
		WorkspaceID: "github.com/u/r",
		DeviceID:    "d1",
		Data:        startData,
	}
	out, err := p.Process(ctx, startEnv)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	require.NotNil(t, out.Handler)
	assert.True(t, out.Handler.Success)

	session, err := sessions.GetByID(ctx, "cc-1")
	require.NoError(t, err)
	assert.Equal(t, storage.LifecycleDetected, session.Lifecycle)

	sessionID := "cc-1"
	endData, _ := json.Marshal(map[string]any{
		"cc_session_id": "cc-1",
		"duration_ms":   60000,
		"end_reason":    "exit",
	})
	endEnv := eventproc.Envelope{
		ID:          "evt-b",
		Type:        eventproc.TypeSessionEnd,
		Timestamp:   time.Now(),
		WorkspaceID: "github.com/u/r",
		DeviceID:    "d1",
		SessionID:   &sessionID,
		Data:        endData,
	}
	out, err = p.Process(ctx, endEnv)
	require.NoError(t, err)
	require.NotNil(t, out.Handler)
	assert.True(t, out.Handler.Success)

	session, err = sessions.GetByID(ctx, "cc-1")
	require.NoError(t, err)
	assert.Equal(t, storage.LifecycleEnded, session.Lifecycle)
	require.NotNil(t, session.EndReason)
	assert.Equal(t, "exit", *session.EndReason)
}

func TestProcessDuplicateEventIsIdempotent(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]any{"cc_session_id": "cc-2", "cwd": "/r", "source": "startup"})
	env := eventproc.Envelope{
		ID:          "evt-dup",
		Type:        eventproc.TypeSessionStart,
		Timestamp:   time.Now(),
		WorkspaceID: "github.com/u/r2",
		DeviceID:    "d2",
		Data:        data,
	}

	out1, err := p.Process(ctx, env)
	require.NoError(t, err)
	assert.False(t, out1.Duplicate)

	out2, err := p.Process(ctx, env)
	require.NoError(t, err)
	assert.True(t, out2.Duplicate)
	assert.Nil(t, out2.Handler)
}

func TestProcessSessionEndUnknownSessionNoOps(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx := context.Background()

	unknown := "does-not-exist"
	data, _ := json.Marshal(map[string]any{"cc_session_id": unknown, "duration_ms": 1000, "end_reason": "exit"})
	env := eventproc.Envelope{
		ID:          "evt-unknown-end",
		Type:        eventproc.TypeSessionEnd,
		Timestamp:   time.Now(),
		WorkspaceID: "github.com/u/r3",
		DeviceID:    "d3",
		SessionID:   &unknown,
		Data:        data,
	}

	out, err := p.Process(ctx, env)
	require.NoError(t, err)
	require.NotNil(t, out.Handler)
	assert.True(t, out.Handler.Success, "handler swallows the no-op transition and logs instead of erroring")
}

func TestProcessGitCommitCorrelatesToActiveSession(t *testing.T) {
	p, client := newTestProcessor(t)
	sessions := storage.NewSessionRepository(client.DB())
	gitActivity := storage.NewGitActivityRepository(client.DB())
	ctx := context.Background()

	startData, _ := json.Marshal(map[string]any{"cc_session_id": "cc-3", "cwd": "/r", "source": "startup"})
	_, err := p.Process(ctx, eventproc.Envelope{
		ID:          "evt-start-3",
		Type:        eventproc.TypeSessionStart,
		Timestamp:   time.Now().Add(-time.Minute),
		WorkspaceID: "github.com/u/r4",
		DeviceID:    "d4",
		Data:        startData,
	})
	require.NoError(t, err)

	commitData, _ := json.Marshal(map[string]any{
		"commit_sha": "abc123",
		"branch":     "main",
		"message":    "fix bug",
	})
	out, err := p.Process(ctx, eventproc.Envelope{
		ID:          "evt-commit-3",
		Type:        eventproc.TypeGitCommit,
		Timestamp:   time.Now(),
		WorkspaceID: "github.com/u/r4",
		DeviceID:    "d4",
		Data:        commitData,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Handler)
	assert.True(t, out.Handler.Success)

	session, err := sessions.GetByID(ctx, "cc-3")
	require.NoError(t, err)

	activities, err := gitActivity.ListBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "abc123", *activities[0].CommitSHA)
}

// TestProcessGitCommitCorrelatesAcrossLifecycleStates covers the case where
// eligible candidates exist in both the "detected" and "capturing" states:
// the correlator must rank them together and pick the overall most recently
// started session, not just whichever lifecycle state it happens to query
// first.
func TestProcessGitCommitCorrelatesAcrossLifecycleStates(t *testing.T) {
	p, client := newTestProcessor(t)
	sessions := storage.NewSessionRepository(client.DB())
	gitActivity := storage.NewGitActivityRepository(client.DB())
	engine := lifecycle.New(sessions)
	ctx := context.Background()

	staleStartData, _ := json.Marshal(map[string]any{"cc_session_id": "cc-stale", "cwd": "/r", "source": "startup"})
	_, err := p.Process(ctx, eventproc.Envelope{
		ID:          "evt-start-stale",
		Type:        eventproc.TypeSessionStart,
		Timestamp:   time.Now().Add(-20 * time.Minute),
		WorkspaceID: "github.com/u/r5",
		DeviceID:    "d5",
		Data:        staleStartData,
	})
	require.NoError(t, err)
	// cc-stale stays in "detected" — an eligible but older candidate.

	freshStartData, _ := json.Marshal(map[string]any{"cc_session_id": "cc-fresh", "cwd": "/r", "source": "startup"})
	_, err = p.Process(ctx, eventproc.Envelope{
		ID:          "evt-start-fresh",
		Type:        eventproc.TypeSessionStart,
		Timestamp:   time.Now().Add(-time.Minute),
		WorkspaceID: "github.com/u/r5",
		DeviceID:    "d5",
		Data:        freshStartData,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Transition(ctx, "cc-fresh", storage.LifecycleCapturing,
		[]storage.Lifecycle{storage.LifecycleDetected}))

	commitData, _ := json.Marshal(map[string]any{
		"commit_sha": "def456",
		"branch":     "main",
		"message":    "fix bug",
	})
	out, err := p.Process(ctx, eventproc.Envelope{
		ID:          "evt-commit-5",
		Type:        eventproc.TypeGitCommit,
		Timestamp:   time.Now(),
		WorkspaceID: "github.com/u/r5",
		DeviceID:    "d5",
		Data:        commitData,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Handler)
	assert.True(t, out.Handler.Success)

	freshActivities, err := gitActivity.ListBySession(ctx, "cc-fresh")
	require.NoError(t, err)
	require.Len(t, freshActivities, 1)
	assert.Equal(t, "def456", *freshActivities[0].CommitSHA)

	staleActivities, err := gitActivity.ListBySession(ctx, "cc-stale")
	require.NoError(t, err)
	assert.Empty(t, staleActivities)
}
