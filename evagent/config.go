package evagent

import (
	"time"

	"github.com/hazyhaar/evcap/gapscan"
)

// Config controls a capture session.
type Config struct {
	// SnapshotInterval is the cadence of periodic DOM snapshots while
	// the session is active.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// DiffThreshold is the structural change magnitude (0..1) above which
	// a snapshot pair is considered significant. Significant change with
	// no high-priority event in the same window marks the window suspect.
	DiffThreshold float64 `yaml:"diff_threshold"`

	// OrphanWindow is how close (in time) a DOM change must be to a
	// captured event to count as explained by it.
	OrphanWindow time.Duration `yaml:"orphan_window"`

	// ReportDir is where verification reports are written.
	ReportDir string `yaml:"report_dir"`

	// Gap holds the gap-detection tuning passed through to the analyzer.
	Gap gapscan.Config `yaml:"gap"`
}

func (c *Config) applyDefaults() {
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 500 * time.Millisecond
	}
	if c.DiffThreshold <= 0 {
		c.DiffThreshold = 0.10
	}
	if c.OrphanWindow <= 0 {
		c.OrphanWindow = 75 * time.Millisecond
	}
	if c.ReportDir == "" {
		c.ReportDir = "reports"
	}
}
