package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Stream   StreamConfig   `yaml:"stream"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	Host   string `yaml:"host"`
	DBPath string `yaml:"db_path"`
}

type PipelineConfig struct {
	// GroupWindow is the adjacency window for heuristic session grouping:
	// a brand-new session whose first event lands within this window of the
	// active group's latest member join is added to that group.
	GroupWindow time.Duration `yaml:"group_window"`

	// StaleTimeout marks active sessions with no activity for this long as
	// completed. Some agent runtimes never emit a terminal hook.
	StaleTimeout  time.Duration `yaml:"stale_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Truncation bounds for stored tool input/output text.
	MaxInputLen  int `yaml:"max_input_len"`
	MaxOutputLen int `yaml:"max_output_len"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:   4317,
			Host:   "0.0.0.0",
			DBPath: "observatory.db",
		},
		Pipeline: PipelineConfig{
			GroupWindow:   5 * time.Minute,
			StaleTimeout:  10 * time.Minute,
			SweepInterval: time.Minute,
			MaxInputLen:   2000,
			MaxOutputLen:  5000,
		},
		Stream: StreamConfig{
			HeartbeatInterval: 30 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
