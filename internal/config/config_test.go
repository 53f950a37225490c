package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_KEY", "test-key")
	t.Setenv("BLOB_BUCKET", "test-bucket")
	t.Setenv("CONFIG_FILE", "") // force the default filename, which won't exist in the test's cwd
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "test-key", cfg.APIKey)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "telemetry:events", cfg.Stream.StreamKey)
	assert.Equal(t, int64(10), cfg.Stream.BatchSize)
	assert.Equal(t, "test-bucket", cfg.Blob.Bucket)
}

func TestLoadFromEnv_MissingAPIKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_KEY", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY")
}

func TestLoadFromEnv_MissingBlobBucket(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BLOB_BUCKET", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLOB_BUCKET")
}

func TestLoadFromEnv_InvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STREAM_BLOCK_INTERVAL", "not-a-duration")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STREAM_BLOCK_INTERVAL")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				APIKey: "key",
				Database: DatabaseConfig{
					MaxOpenConns: 10,
					MaxIdleConns: 5,
				},
				Blob: BlobConfig{Bucket: "bucket"},
			},
			wantErr: false,
		},
		{
			name: "missing api key",
			cfg: Config{
				Database: DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5},
				Blob:     BlobConfig{Bucket: "bucket"},
			},
			wantErr: true,
		},
		{
			name: "missing blob bucket",
			cfg: Config{
				APIKey:   "key",
				Database: DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5},
			},
			wantErr: true,
		},
		{
			name: "idle conns exceed max conns",
			cfg: Config{
				APIKey:   "key",
				Database: DatabaseConfig{MaxOpenConns: 5, MaxIdleConns: 10},
				Blob:     BlobConfig{Bucket: "bucket"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
