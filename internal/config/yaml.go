package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// tuningYAML is the optional static config file's shape: the handful of
// operational knobs that are more comfortable to check into a deploy repo
// than to set one-env-var-at-a-time, following the teacher's
// pkg/config/loader.go TarsyYAMLConfig split between env secrets and
// checked-in YAML tuning. Every field here also has an env-var equivalent.
// The file is applied after LoadFromEnv has resolved env vars and defaults,
// so a value set in the file replaces the env-var value for that field too.
// The file has no fields for secrets, so it cannot shadow one.
type tuningYAML struct {
	Stream    *streamTuningYAML    `yaml:"stream"`
	Broadcast *broadcastTuningYAML `yaml:"broadcast"`
	Pipeline  *pipelineTuningYAML  `yaml:"pipeline"`
	Recovery  *recoveryTuningYAML  `yaml:"recovery"`
}

type streamTuningYAML struct {
	BatchSize       *int64  `yaml:"batch_size"`
	BlockInterval   *string `yaml:"block_interval"`
	ReclaimInterval *string `yaml:"reclaim_interval"`
	MinIdleTime     *string `yaml:"min_idle_time"`
}

type broadcastTuningYAML struct {
	PingInterval *string `yaml:"ping_interval"`
	PongTimeout  *string `yaml:"pong_timeout"`
	WriteTimeout *string `yaml:"write_timeout"`
}

type pipelineTuningYAML struct {
	PersistBatchSize *int    `yaml:"persist_batch_size"`
	SummarizeTimeout *string `yaml:"summarize_timeout"`
}

type recoveryTuningYAML struct {
	SweepInterval  *string `yaml:"sweep_interval"`
	StuckThreshold *string `yaml:"stuck_threshold"`
}

// applyTuningFile overlays an optional YAML tuning file onto an
// already-resolved Config. Absence of the file is not an error — the file is
// an opt-in convenience, not a requirement (unlike the teacher's tarsy.yaml,
// which is load-bearing for agent/chain definitions that have no env-var
// equivalent).
func applyTuningFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var t tuningYAML
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if s := t.Stream; s != nil {
		if s.BatchSize != nil {
			cfg.Stream.BatchSize = *s.BatchSize
		}
		if d, err := parseDurationPtr(s.BlockInterval); err != nil {
			return fmt.Errorf("stream.block_interval: %w", err)
		} else if d != nil {
			cfg.Stream.BlockInterval = *d
		}
		if d, err := parseDurationPtr(s.ReclaimInterval); err != nil {
			return fmt.Errorf("stream.reclaim_interval: %w", err)
		} else if d != nil {
			cfg.Stream.ReclaimInterval = *d
		}
		if d, err := parseDurationPtr(s.MinIdleTime); err != nil {
			return fmt.Errorf("stream.min_idle_time: %w", err)
		} else if d != nil {
			cfg.Stream.MinIdleTime = *d
		}
	}

	if b := t.Broadcast; b != nil {
		if d, err := parseDurationPtr(b.PingInterval); err != nil {
			return fmt.Errorf("broadcast.ping_interval: %w", err)
		} else if d != nil {
			cfg.Broadcast.PingInterval = *d
		}
		if d, err := parseDurationPtr(b.PongTimeout); err != nil {
			return fmt.Errorf("broadcast.pong_timeout: %w", err)
		} else if d != nil {
			cfg.Broadcast.PongTimeout = *d
		}
		if d, err := parseDurationPtr(b.WriteTimeout); err != nil {
			return fmt.Errorf("broadcast.write_timeout: %w", err)
		} else if d != nil {
			cfg.Broadcast.WriteTimeout = *d
		}
	}

	if p := t.Pipeline; p != nil {
		if p.PersistBatchSize != nil {
			cfg.Pipeline.PersistBatchSize = *p.PersistBatchSize
		}
		if d, err := parseDurationPtr(p.SummarizeTimeout); err != nil {
			return fmt.Errorf("pipeline.summarize_timeout: %w", err)
		} else if d != nil {
			cfg.Pipeline.SummarizeTimeout = *d
		}
	}

	if r := t.Recovery; r != nil {
		if d, err := parseDurationPtr(r.SweepInterval); err != nil {
			return fmt.Errorf("recovery.sweep_interval: %w", err)
		} else if d != nil {
			cfg.Recovery.SweepInterval = *d
		}
		if d, err := parseDurationPtr(r.StuckThreshold); err != nil {
			return fmt.Errorf("recovery.stuck_threshold: %w", err)
		} else if d != nil {
			cfg.Recovery.StuckThreshold = *d
		}
	}

	return nil
}

func parseDurationPtr(s *string) (*time.Duration, error) {
	if s == nil {
		return nil, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
