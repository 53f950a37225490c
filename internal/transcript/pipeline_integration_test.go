//go:build integration

package transcript_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/transcript"
	"github.com/codeready-toolchain/tarsy-telemetry/test/dbtest"
)

type fakeDownloader struct {
	data []byte
	err  error
}

func (f fakeDownloader) Download(ctx context.Context, key string) ([]byte, error) {
	return f.data, f.err
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []storage.TranscriptMessage, blocks []storage.ContentBlock) (string, error) {
	f.calls++
	return f.summary, f.err
}

func newEndedSession(t *testing.T, client *storage.Client) (*storage.SessionRepository, storage.Session) {
	t.Helper()
	workspaces := storage.NewWorkspaceRepository(client.DB())
	devices := storage.NewDeviceRepository(client.DB())
	sessions := storage.NewSessionRepository(client.DB())
	ctx := context.Background()

	workspaceID := uuid.NewString()
	require.NoError(t, workspaces.Insert(ctx, storage.Workspace{
		ID:          workspaceID,
		CanonicalID: "canonical-" + workspaceID,
		DisplayName: "demo",
		FirstSeenAt: time.Now(),
	}))
	deviceID := uuid.NewString()
	require.NoError(t, devices.TryInsertIgnoringConflict(ctx, storage.Device{
		ID:           deviceID,
		Name:         "laptop",
		Type:         storage.DeviceTypeLocal,
		FirstSeenAt:  time.Now(),
		LastActiveAt: time.Now(),
	}))

	sessionID := uuid.NewString()
	key := "transcripts/" + sessionID + ".jsonl"
	s := storage.Session{
		ID:          sessionID,
		WorkspaceID: workspaceID,
		DeviceID:    deviceID,
		Lifecycle:   storage.LifecycleDetected,
		ParseStatus: storage.ParseStatusPending,
		StartedAt:   time.Now().Add(-time.Hour),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, sessions.Insert(ctx, s))

	engine := lifecycle.New(sessions)
	require.NoError(t, engine.Transition(ctx, sessionID, storage.LifecycleEnded,
		[]storage.Lifecycle{storage.LifecycleDetected}))
	require.NoError(t, sessions.SetTranscriptRef(ctx, sessionID, key))

	loaded, err := sessions.GetByID(ctx, sessionID)
	require.NoError(t, err)
	return sessions, *loaded
}

func TestPipelineRunParsesAndAdvancesToParsed(t *testing.T) {
	client := dbtest.NewClient(t)
	sessions, session := newEndedSession(t, client)
	transcripts := storage.NewTranscriptRepository(client.DB())
	engine := lifecycle.New(sessions)

	jsonl := []byte(`{"type":"user","uuid":"u1","timestamp":"2026-07-01T10:00:00Z","message":{"content":[{"type":"text","text":"hi"}]}}
{"type":"assistant","uuid":"a1","timestamp":"2026-07-01T10:00:01Z","message":{"content":[{"type":"text","text":"hello"}]}}`)

	pipeline := transcript.New(sessions, transcripts, fakeDownloader{data: jsonl}, engine, nil, nil)

	err := pipeline.Run(context.Background(), session.ID)
	require.NoError(t, err)

	updated, err := sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, storage.LifecycleParsed, updated.Lifecycle)
	require.Equal(t, storage.ParseStatusComplete, updated.ParseStatus)
	require.Equal(t, 2, updated.TotalMessages)

	messages, err := transcripts.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
}

func TestPipelineRunWithSummarizerAdvancesToSummarized(t *testing.T) {
	client := dbtest.NewClient(t)
	sessions, session := newEndedSession(t, client)
	transcripts := storage.NewTranscriptRepository(client.DB())
	engine := lifecycle.New(sessions)

	jsonl := []byte(`{"type":"user","uuid":"u1","timestamp":"2026-07-01T10:00:00Z","message":{"content":[{"type":"text","text":"hi"}]}}`)
	summarizer := &fakeSummarizer{summary: "a short summary"}

	pipeline := transcript.New(sessions, transcripts, fakeDownloader{data: jsonl}, engine, nil, summarizer)
	require.NoError(t, pipeline.Run(context.Background(), session.ID))

	updated, err := sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, storage.LifecycleSummarized, updated.Lifecycle)
	require.NotNil(t, updated.Summary)
	require.Equal(t, "a short summary", *updated.Summary)
	require.Equal(t, 1, summarizer.calls)
}

func TestPipelineRunDownloadFailureMarksFailed(t *testing.T) {
	client := dbtest.NewClient(t)
	sessions, session := newEndedSession(t, client)
	transcripts := storage.NewTranscriptRepository(client.DB())
	engine := lifecycle.New(sessions)

	pipeline := transcript.New(sessions, transcripts, fakeDownloader{err: errors.New("boom")}, engine, nil, nil)

	err := pipeline.Run(context.Background(), session.ID)
	require.Error(t, err)

	updated, err := sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, storage.LifecycleFailed, updated.Lifecycle)
	require.Equal(t, storage.ParseStatusFailed, updated.ParseStatus)
	require.NotNil(t, updated.ParseError)
}

func TestPipelineRunSkipsAlreadyClaimedSession(t *testing.T) {
	client := dbtest.NewClient(t)
	sessions, session := newEndedSession(t, client)
	transcripts := storage.NewTranscriptRepository(client.DB())
	engine := lifecycle.New(sessions)

	claimed, err := sessions.ClaimForParsing(context.Background(), session.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	pipeline := transcript.New(sessions, transcripts, fakeDownloader{}, engine, nil, nil)
	require.NoError(t, pipeline.Run(context.Background(), session.ID))

	updated, err := sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, storage.LifecycleEnded, updated.Lifecycle)
	require.Equal(t, storage.ParseStatusParsing, updated.ParseStatus)
}
