package api

import (
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/broadcast"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

func TestValidateWiring_ReportsEveryMissingField(t *testing.T) {
	s := &Server{}
	err := s.ValidateWiring()
	require.Error(t, err)

	for _, want := range []string{
		"apiKey", "db", "sessions", "workspaces", "devices",
		"events", "git activity", "publisher", "blob uploader",
		"broadcaster", "pipeline trigger",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateWiring_PassesWhenFullyWired(t *testing.T) {
	// sql.Open only validates the driver name is registered; it never
	// dials, so this is safe to use as a non-nil *sql.DB in a unit test.
	db, err := sql.Open("pgx", "postgres://unused/unused")
	require.NoError(t, err)

	s := &Server{
		apiKey:          "key",
		db:              db,
		sessions:        storage.NewSessionRepository(db),
		workspaces:      storage.NewWorkspaceRepository(db),
		devices:         storage.NewDeviceRepository(db),
		events:          storage.NewEventRepository(db),
		gitActivity:     storage.NewGitActivityRepository(db),
		publisher:       &fakePublisher{},
		blobs:           fakeUploader{},
		broadcaster:     broadcast.New(broadcast.Config{}),
		triggerPipeline: func(string) {},
	}

	assert.NoError(t, s.ValidateWiring())
}

type fakeUploader struct{}

func (fakeUploader) Upload(ctx context.Context, key string, body io.Reader) error {
	return nil
}
