package gapscan

import "time"

// Config carries the heuristic thresholds and the model-assisted call
// parameters. The diff and burst thresholds are heuristic constants, kept
// configurable rather than assumed calibrated.
type Config struct {
	// BurstGap is the minimum inter-event gap; adjacent pairs closer than
	// this suggest a dropped event between them. Default: 10ms.
	BurstGap time.Duration `yaml:"burst_gap"`

	// OrphanThreshold is the orphan-mutation count above which a finding
	// is emitted. Default: 5.
	OrphanThreshold int `yaml:"orphan_threshold"`

	// SparseDuration and SparseMinEvents flag long sessions with
	// implausibly few events. Defaults: 30s / 10.
	SparseDuration  time.Duration `yaml:"sparse_duration"`
	SparseMinEvents int           `yaml:"sparse_min_events"`

	// ModelEndpoint is the reasoning-service URL for the model-assisted
	// analyzer. Empty disables it (heuristic only).
	ModelEndpoint string `yaml:"model_endpoint"`

	// ModelTimeout bounds the model-assisted call. Finalize never blocks
	// indefinitely on an external dependency. Default: 10s.
	ModelTimeout time.Duration `yaml:"model_timeout"`
}

func (c *Config) applyDefaults() {
	if c.BurstGap <= 0 {
		c.BurstGap = 10 * time.Millisecond
	}
	if c.OrphanThreshold <= 0 {
		c.OrphanThreshold = 5
	}
	if c.SparseDuration <= 0 {
		c.SparseDuration = 30 * time.Second
	}
	if c.SparseMinEvents <= 0 {
		c.SparseMinEvents = 10
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 10 * time.Second
	}
}
