package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTuningFile_MissingFileIsNotAnError(t *testing.T) {
	cfg := &Config{Stream: StreamConfig{BatchSize: 10}}
	err := applyTuningFile(cfg, filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.Stream.BatchSize)
}

func TestApplyTuningFile_OverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stream:
  batch_size: 50
  block_interval: 2s
recovery:
  stuck_threshold: 2h
`), 0o644))

	cfg := &Config{
		Stream: StreamConfig{
			BatchSize:       10,
			BlockInterval:   5 * time.Second,
			ReclaimInterval: 30 * time.Second,
		},
		Recovery: RecoveryConfig{
			SweepInterval:  5 * time.Minute,
			StuckThreshold: time.Hour,
		},
	}

	require.NoError(t, applyTuningFile(cfg, path))

	assert.Equal(t, int64(50), cfg.Stream.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Stream.BlockInterval)
	assert.Equal(t, 30*time.Second, cfg.Stream.ReclaimInterval, "untouched field keeps its prior value")
	assert.Equal(t, 5*time.Minute, cfg.Recovery.SweepInterval, "untouched field keeps its prior value")
	assert.Equal(t, 2*time.Hour, cfg.Recovery.StuckThreshold)
}

func TestApplyTuningFile_InvalidDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broadcast:
  ping_interval: "not-a-duration"
`), 0o644))

	cfg := &Config{}
	err := applyTuningFile(cfg, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast.ping_interval")
}

func TestApplyTuningFile_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream: [this is not valid: yaml"), 0o644))

	cfg := &Config{}
	err := applyTuningFile(cfg, path)
	require.Error(t, err)
}
