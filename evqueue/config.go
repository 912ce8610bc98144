package evqueue

import "time"

// Config tunes the edge-side priority queue.
type Config struct {
	// MaxQueued is the total queued-event bound. Exceeding it forces a
	// synchronous drain of all tiers. Default: 1000.
	MaxQueued int `yaml:"max_queued"`

	// FlushFast, FlushMid and FlushSlow are the three independent periodic
	// flush cadences. A stalled channel never blocks the others.
	// Defaults: 2ms, 10ms, 50ms.
	FlushFast time.Duration `yaml:"flush_fast"`
	FlushMid  time.Duration `yaml:"flush_mid"`
	FlushSlow time.Duration `yaml:"flush_slow"`

	// IdleAfter triggers an extra flush when no event has been enqueued
	// for this long. Default: 200ms.
	IdleAfter time.Duration `yaml:"idle_after"`

	// EmergencyPasses is the number of forced drain passes performed on
	// page unload/hide. Default: 12.
	EmergencyPasses int `yaml:"emergency_passes"`

	// DurablePath is the SQLite file backing critical-event persistence.
	// Empty disables durability (persist failures are then counted, not fatal).
	DurablePath string `yaml:"durable_path"`
}

func (c *Config) applyDefaults() {
	if c.MaxQueued <= 0 {
		c.MaxQueued = 1000
	}
	if c.FlushFast <= 0 {
		c.FlushFast = 2 * time.Millisecond
	}
	if c.FlushMid <= 0 {
		c.FlushMid = 10 * time.Millisecond
	}
	if c.FlushSlow <= 0 {
		c.FlushSlow = 50 * time.Millisecond
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 200 * time.Millisecond
	}
	if c.EmergencyPasses <= 0 {
		c.EmergencyPasses = 12
	}
}
