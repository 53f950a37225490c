package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{}, nil, nil, nil, nil)
	assert.Equal(t, 5*time.Minute, s.cfg.Interval)
	assert.Equal(t, 30*time.Minute, s.cfg.StuckThreshold)
	assert.Equal(t, 100, s.cfg.BatchLimit)
}

func TestNewKeepsExplicitConfig(t *testing.T) {
	cfg := Config{Interval: time.Minute, StuckThreshold: 2 * time.Minute, BatchLimit: 5, DryRun: true}
	s := New(cfg, nil, nil, nil, nil)
	assert.Equal(t, cfg, s.cfg)
}

func TestStatsStartsZero(t *testing.T) {
	s := New(Config{}, nil, nil, nil, nil)
	stats := s.Stats()
	assert.Zero(t, stats.TotalRecovered)
	assert.True(t, stats.LastScan.IsZero())
}
