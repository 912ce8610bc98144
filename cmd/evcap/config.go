package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/evcap/evagent"
	"github.com/hazyhaar/evcap/evqueue"
	"github.com/hazyhaar/evcap/rodbridge"
)

// fileConfig is the YAML layout of evcap.yaml.
type fileConfig struct {
	Addr    string                  `yaml:"addr"`
	Session evagent.Config          `yaml:"session"`
	Queue   evqueue.Config          `yaml:"queue"`
	Browser rodbridge.BrowserConfig `yaml:"browser"`

	// Pages started automatically at boot.
	Pages []string `yaml:"pages"`

	// MetricsDB is an optional SQLite path for timeseries counters.
	// Empty disables metrics persistence.
	MetricsDB string `yaml:"metrics_db"`

	// RateLimit enables per-IP limits on the session endpoints. Off by
	// default: the service usually binds to localhost.
	RateLimit bool `yaml:"rate_limit"`

	// ShutdownTimeout bounds graceful HTTP drain. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c *fileConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8710"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// loadConfigFile reads a YAML config file.
func loadConfigFile(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}
