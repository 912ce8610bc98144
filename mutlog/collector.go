// Package mutlog collects structural DOM change records independently of
// the captured event stream. The buffer is drained with read-and-clear
// semantics: a record is delivered to the host exactly once and never left
// to grow unbounded. Orphan detection, finding mutations with no temporally
// correlated captured event, is a pure function over drained records and
// feeds the gap detector.
package mutlog

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/evcap/capture"
)

// Config tunes the collector.
type Config struct {
	// OrphanWindow is the maximum distance between a mutation and the
	// nearest captured event before the mutation counts as orphaned.
	// Default: 75ms (mid-band of the 50-100ms range that makes sense for
	// input-to-mutation latency).
	OrphanWindow time.Duration `yaml:"orphan_window"`
}

func (c *Config) applyDefaults() {
	if c.OrphanWindow <= 0 {
		c.OrphanWindow = 75 * time.Millisecond
	}
}

// Collector buffers DOM change records for one capture target.
type Collector struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	installed bool
	records   []capture.DOMChange

	observed atomic.Int64
	drains   atomic.Int64

	now func() int64 // epoch ms, swappable in tests
}

// New creates a Collector. Install must be called before records are accepted.
func New(cfg Config, logger *slog.Logger) *Collector {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:    cfg,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Install marks the structural observer as active. Idempotent: installing
// twice on the same page load is a no-op, matching the once-per-page guard.
func (c *Collector) Install() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installed {
		return false
	}
	c.installed = true
	c.logger.Debug("mutlog: observer installed")
	return true
}

// Installed reports whether the observer is active. When installation failed
// the evidence source is simply absent for the session; capture continues.
func (c *Collector) Installed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installed
}

// Record buffers one mutation, timestamping it at observation time when the
// source did not. Records pushed before Install are dropped.
func (c *Collector) Record(ch capture.DOMChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.installed {
		return
	}
	if ch.Timestamp <= 0 {
		ch.Timestamp = c.now()
	}
	c.records = append(c.records, ch)
	c.observed.Add(1)
}

// Drain returns all buffered records and clears the buffer. A drained record
// is never re-delivered.
func (c *Collector) Drain() []capture.DOMChange {
	c.mu.Lock()
	out := c.records
	c.records = nil
	c.mu.Unlock()
	c.drains.Add(1)
	return out
}

// Stats are point-in-time collector counters.
type Stats struct {
	Installed bool  `json:"installed"`
	Buffered  int   `json:"buffered"`
	Observed  int64 `json:"observed"`
	Drains    int64 `json:"drains"`
}

// Stats returns current counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	buffered := len(c.records)
	installed := c.installed
	c.mu.Unlock()
	return Stats{
		Installed: installed,
		Buffered:  buffered,
		Observed:  c.observed.Load(),
		Drains:    c.drains.Load(),
	}
}

// Orphans returns the mutations with no captured event within window of
// their timestamp. Pure function: deterministic for identical inputs.
func Orphans(changes []capture.DOMChange, events []*capture.Event, window time.Duration) []capture.DOMChange {
	if len(changes) == 0 {
		return nil
	}
	winMs := window.Milliseconds()
	var orphans []capture.DOMChange
	for _, ch := range changes {
		correlated := false
		for _, ev := range events {
			d := ch.Timestamp - ev.Timestamp
			if d < 0 {
				d = -d
			}
			if d <= winMs {
				correlated = true
				break
			}
		}
		if !correlated {
			orphans = append(orphans, ch)
		}
	}
	return orphans
}
