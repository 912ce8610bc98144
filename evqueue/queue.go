// Package evqueue implements the edge-side priority event queue.
//
// Incoming interactions are bucketed into four fixed tiers and flushed to
// the host bridge over several independent cadences, so a stalled channel
// never blocks overall progress. Critical events that fail delivery are
// additionally written to a durable SQLite store so they survive navigation
// and crashes; on (re)installation they are replayed before live capture
// resumes.
//
// The queue runs under a single-writer discipline: one owning goroutine
// drains the tick channels, and all state is guarded by a mutex so that
// overlapping flush invocations are safe and a flush on an empty queue is
// a no-op.
package evqueue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/evcap/capture"
)

// Bridge delivers one event to the host. Delivery is synchronous and may
// fail transiently; retry is purely tick-based (next flush), never backoff.
type Bridge interface {
	Deliver(ctx context.Context, ev *capture.Event) error
}

// BridgeFunc adapts a function to the Bridge interface.
type BridgeFunc func(ctx context.Context, ev *capture.Event) error

func (f BridgeFunc) Deliver(ctx context.Context, ev *capture.Event) error { return f(ctx, ev) }

// Stats are point-in-time queue counters, pollable at any time.
type Stats struct {
	Queued          [capture.NumPriorities]int `json:"queued"` // indexed by Priority
	Enqueued        int64                      `json:"enqueued"`
	Delivered       int64                      `json:"delivered"`
	Redeliveries    int64                      `json:"redeliveries"`
	ForcedFlushes   int64                      `json:"forced_flushes"`
	PersistFailures int64                      `json:"persist_failures"`
	Recovered       int64                      `json:"recovered"`
}

// Queue is the four-tier priority event queue.
type Queue struct {
	cfg     Config
	bridge  Bridge
	durable *DurableStore // nil when durability is disabled
	logger  *slog.Logger

	mu    sync.Mutex
	tiers [capture.NumPriorities][]*capture.Event
	total int

	lastEnqueue atomic.Int64 // unix nanos of the most recent enqueue

	enqueued        atomic.Int64
	delivered       atomic.Int64
	redeliveries    atomic.Int64
	forcedFlushes   atomic.Int64
	persistFailures atomic.Int64
	recovered       atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithDurable attaches a durable store for critical events.
func WithDurable(d *DurableStore) Option {
	return func(q *Queue) { q.durable = d }
}

// New creates a Queue delivering to the given bridge.
func New(cfg Config, bridge Bridge, opts ...Option) *Queue {
	cfg.applyDefaults()
	q := &Queue{
		cfg:    cfg,
		bridge: bridge,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Install replays any previously persisted critical events, delivering them
// before live capture resumes, then clears the durable store.
func (q *Queue) Install(ctx context.Context) error {
	if q.durable == nil {
		return nil
	}
	events, err := q.durable.Recover(ctx)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		q.mu.Lock()
		for _, ev := range events {
			q.tiers[capture.PriorityCritical] = append(q.tiers[capture.PriorityCritical], ev)
			q.total++
		}
		q.mu.Unlock()
		q.recovered.Add(int64(len(events)))
		q.Flush(ctx)
		q.logger.Info("evqueue: recovered persisted critical events", "count", len(events))
	}
	return q.durable.Clear(ctx)
}

// Enqueue pushes an event into its tier's FIFO list. When the total queued
// count exceeds the configured bound, all tiers are drained synchronously
// (critical first) to bound memory, dropping events whose delivery fails.
func (q *Queue) Enqueue(ctx context.Context, ev *capture.Event) {
	if ev == nil {
		return
	}
	q.mu.Lock()
	tier := ev.Priority
	if tier < 0 || tier >= capture.NumPriorities {
		tier = capture.PriorityLow
	}
	q.tiers[tier] = append(q.tiers[tier], ev)
	q.total++
	over := q.total > q.cfg.MaxQueued
	q.mu.Unlock()

	q.lastEnqueue.Store(time.Now().UnixNano())
	q.enqueued.Add(1)

	if over {
		q.forcedFlushes.Add(1)
		q.drain(ctx, true)
	}
}

// Flush dequeues strictly in tier order and attempts delivery. Failed events
// are re-enqueued at their original tier for the next cadence; failed
// critical events are persisted durably first. Idempotent: a flush on an
// empty queue is a no-op, and overlapping invocations serialize safely.
func (q *Queue) Flush(ctx context.Context) {
	q.drain(ctx, false)
}

// EmergencyFlush runs a bounded number of forced drain passes, regardless of
// individual delivery outcomes. Called at navigation boundaries (page
// unload, hide, visibility change) to minimise loss.
func (q *Queue) EmergencyFlush(ctx context.Context, reason string) {
	q.logger.Warn("evqueue: emergency flush", "reason", reason)
	for i := 0; i < q.cfg.EmergencyPasses; i++ {
		q.drain(ctx, false)
		q.mu.Lock()
		empty := q.total == 0
		q.mu.Unlock()
		if empty {
			return
		}
	}
	// Last pass drops whatever still cannot be delivered; criticals have
	// already been persisted on each failed attempt.
	q.drain(ctx, true)
}

// drain attempts delivery for every queued event in tier order. When force
// is true, undeliverable events are dropped from memory so all tiers end at
// size zero; critical events are persisted before being dropped.
func (q *Queue) drain(ctx context.Context, force bool) {
	q.mu.Lock()
	if q.total == 0 {
		q.mu.Unlock()
		return
	}
	var pending [capture.NumPriorities][]*capture.Event
	for t := range q.tiers {
		pending[t] = q.tiers[t]
		q.tiers[t] = nil
	}
	q.total = 0
	q.mu.Unlock()

	for tier := capture.PriorityCritical; tier >= capture.PriorityLow; tier-- {
		var kept []*capture.Event
		for _, ev := range pending[tier] {
			if err := q.bridge.Deliver(ctx, ev); err != nil {
				q.logger.Debug("evqueue: delivery failed",
					"kind", ev.Kind, "tier", tier.String(), "error", err)
				if tier == capture.PriorityCritical {
					q.persist(ctx, ev)
				}
				if !force {
					kept = append(kept, ev)
					q.redeliveries.Add(1)
				}
				continue
			}
			q.delivered.Add(1)
		}
		if len(kept) > 0 {
			q.mu.Lock()
			// Failed events go back at the head so original FIFO order is
			// preserved relative to arrivals during the drain.
			q.tiers[tier] = append(kept, q.tiers[tier]...)
			q.total += len(kept)
			q.mu.Unlock()
		}
	}
}

// persist writes a critical event to the durable store. Persistence failure
// is non-fatal to capture but is counted and surfaced in the final report.
func (q *Queue) persist(ctx context.Context, ev *capture.Event) {
	if q.durable == nil {
		return
	}
	if err := q.durable.Persist(ctx, ev); err != nil {
		q.persistFailures.Add(1)
		q.logger.Warn("evqueue: durable persist failed", "event_id", ev.ID, "error", err)
	}
}

// Run is the owning drain loop: three periodic cadences plus an idle
// trigger, all feeding the same idempotent flush. Blocks until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	fast := time.NewTicker(q.cfg.FlushFast)
	mid := time.NewTicker(q.cfg.FlushMid)
	slow := time.NewTicker(q.cfg.FlushSlow)
	idle := time.NewTicker(q.cfg.IdleAfter)
	defer fast.Stop()
	defer mid.Stop()
	defer slow.Stop()
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fast.C:
			q.Flush(ctx)
		case <-mid.C:
			q.Flush(ctx)
		case <-slow.C:
			q.Flush(ctx)
		case <-idle.C:
			last := q.lastEnqueue.Load()
			if last == 0 || time.Since(time.Unix(0, last)) >= q.cfg.IdleAfter {
				q.Flush(ctx)
			}
		}
	}
}

// Stats returns current per-tier counts and counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	var s Stats
	for t := range q.tiers {
		s.Queued[t] = len(q.tiers[t])
	}
	q.mu.Unlock()
	s.Enqueued = q.enqueued.Load()
	s.Delivered = q.delivered.Load()
	s.Redeliveries = q.redeliveries.Load()
	s.ForcedFlushes = q.forcedFlushes.Load()
	s.PersistFailures = q.persistFailures.Load()
	s.Recovered = q.recovered.Load()
	return s
}

// PersistFailureCount reports durable-persistence failures for the final
// report's warning section.
func (q *Queue) PersistFailureCount() int64 { return q.persistFailures.Load() }
