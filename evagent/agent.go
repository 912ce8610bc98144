// Package evagent owns the lifecycle of one capture session: it ingests
// delivered events, runs the periodic snapshot loop, correlates DOM change
// against captured events, and finalizes the session into a verification
// report. One Agent per page under capture.
package evagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/evcap/capture"
	"github.com/hazyhaar/evcap/evqueue"
	"github.com/hazyhaar/evcap/gapscan"
	"github.com/hazyhaar/evcap/mutlog"
	"github.com/hazyhaar/evcap/report"
)

// State is the session lifecycle phase. Transitions are one-way:
// INACTIVE -> ACTIVE -> STOPPING -> VERIFYING -> FINALIZED.
type State int32

const (
	StateInactive State = iota
	StateActive
	StateStopping
	StateVerifying
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateVerifying:
		return "verifying"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// SnapshotProvider produces DOM snapshots on demand.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*capture.Snapshot, error)
}

// NetworkSource surfaces request/response records observed during the
// session. May be nil when no network instrumentation is attached.
type NetworkSource interface {
	Records() []capture.NetworkRecord
}

// Deps are the collaborators an Agent drives. Snapshots and Mutations may
// be nil; their absence is recorded as missing evidence, never as proof
// that nothing happened.
type Deps struct {
	Snapshots SnapshotProvider
	Mutations *mutlog.Collector
	Network   NetworkSource
	Analyzer  gapscan.Analyzer
	Reports   *report.Writer
	Logger    *slog.Logger

	// Attach runs after the session's queue exists, so builders can
	// connect browser-side plumbing to it. Optional.
	Attach func(ctx context.Context, sess *Session) error
}

// Agent correlates everything observed during one session. It is the
// delivery target of the event queue (it implements evqueue.Bridge).
type Agent struct {
	SessionID string
	PageURL   string

	cfg  Config
	deps Deps

	mu            sync.Mutex
	state         State
	startedAt     int64
	events        []*capture.Event
	snapshots     []*capture.Snapshot
	changes       []capture.DOMChange
	seen          map[string]struct{} // dedup keys
	deduped       int64
	malformed     int64
	persistFailed int64

	snapCancel context.CancelFunc
	snapDone   chan struct{}

	finalDetail  string
	finalSummary string

	now func() int64 // epoch ms, swappable in tests
}

// New creates an inactive Agent for one page.
func New(sessionID, pageURL string, cfg Config, deps Deps) *Agent {
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{
		SessionID: sessionID,
		PageURL:   pageURL,
		cfg:       cfg,
		deps:      deps,
		seen:      make(map[string]struct{}),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Start activates the session and launches the snapshot loop. Calling
// Start on a session past INACTIVE is an error.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateInactive {
		st := a.state
		a.mu.Unlock()
		return fmt.Errorf("evagent: start in state %s", st)
	}
	a.state = StateActive
	a.startedAt = a.now()
	a.mu.Unlock()

	if a.deps.Mutations != nil {
		a.deps.Mutations.Install()
	}

	if a.deps.Snapshots != nil {
		snapCtx, cancel := context.WithCancel(ctx)
		a.snapCancel = cancel
		a.snapDone = make(chan struct{})
		go a.snapshotLoop(snapCtx)
	}

	a.deps.Logger.Info("evagent: session started",
		"session_id", a.SessionID, "url", a.PageURL)
	return nil
}

// Deliver accepts one event from the queue. Satisfies evqueue.Bridge.
func (a *Agent) Deliver(_ context.Context, ev *capture.Event) error {
	return a.Ingest(ev)
}

// Ingest records an event. Duplicates (same kind, signature, and 100ms
// time bucket) are counted and discarded. Events without a kind or
// signature are counted as malformed and discarded. Ingest accepts while
// ACTIVE or STOPPING; anything delivered after the final drain gate
// closes is rejected.
func (a *Agent) Ingest(ev *capture.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateActive && a.state != StateStopping {
		return fmt.Errorf("evagent: ingest in state %s", a.state)
	}
	if ev == nil || ev.Kind == "" || ev.Signature == "" {
		a.malformed++
		return nil
	}

	key := capture.DedupKey(ev)
	if _, dup := a.seen[key]; dup {
		a.deduped++
		return nil
	}
	a.seen[key] = struct{}{}
	a.events = append(a.events, ev)
	return nil
}

// RecordChange forwards a DOM change into the session's mutation buffer.
func (a *Agent) RecordChange(ch capture.DOMChange) {
	if a.deps.Mutations != nil {
		a.deps.Mutations.Record(ch)
	}
}

func (a *Agent) snapshotLoop(ctx context.Context) {
	defer close(a.snapDone)
	ticker := time.NewTicker(a.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.takeSnapshot(ctx)
		}
	}
}

func (a *Agent) takeSnapshot(ctx context.Context) {
	snap, err := a.deps.Snapshots.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.deps.Logger.Warn("evagent: snapshot failed",
				"session_id", a.SessionID, "error", err)
		}
		return
	}
	a.mu.Lock()
	a.snapshots = append(a.snapshots, snap)
	a.mu.Unlock()
}

// Stop gates ingress, takes a final snapshot, drains the mutation buffer,
// runs gap analysis, and writes the verification report. A report write
// failure is fatal: the session does not reach FINALIZED and the error is
// returned so the caller can retry Stop.
func (a *Agent) Stop(ctx context.Context) (*report.Report, error) {
	a.mu.Lock()
	switch a.state {
	case StateActive:
		a.state = StateStopping
	case StateStopping, StateVerifying:
		// A prior Stop failed at the report stage; run finalize again.
	default:
		st := a.state
		a.mu.Unlock()
		return nil, fmt.Errorf("evagent: stop in state %s", st)
	}
	a.mu.Unlock()

	// Stop the periodic loop before the final snapshot so the two cannot
	// race on the provider.
	if a.snapCancel != nil {
		a.snapCancel()
		<-a.snapDone
		a.snapCancel = nil
	}
	if a.deps.Snapshots != nil {
		a.takeSnapshot(ctx)
	}
	if a.deps.Mutations != nil {
		drained := a.deps.Mutations.Drain()
		a.mu.Lock()
		a.changes = append(a.changes, drained...)
		a.mu.Unlock()
	}

	a.mu.Lock()
	a.state = StateVerifying
	a.mu.Unlock()

	return a.finalize(ctx)
}

func (a *Agent) finalize(ctx context.Context) (*report.Report, error) {
	a.mu.Lock()
	events := a.events
	snapshots := a.snapshots
	changes := a.changes
	deduped := a.deduped
	malformed := a.malformed
	persistFailed := a.persistFailed
	startedAt := a.startedAt
	a.mu.Unlock()

	finishedAt := a.now()

	sortEvents(events)

	suspects := correlate(snapshots, events, a.cfg.DiffThreshold)
	orphans := mutlog.Orphans(changes, events, a.cfg.OrphanWindow)

	var network []capture.NetworkRecord
	if a.deps.Network != nil {
		network = a.deps.Network.Records()
	}

	ev := &gapscan.Evidence{
		SessionStart:     startedAt,
		SessionEnd:       finishedAt,
		Events:           events,
		OrphanMutations:  orphans,
		SuspectWindows:   suspects,
		Network:          network,
		MutationEvidence: a.deps.Mutations != nil && a.deps.Mutations.Installed(),
		SnapshotEvidence: len(snapshots) > 0,
		NetworkEvidence:  a.deps.Network != nil,
	}

	verdict, err := a.deps.Analyzer.Analyze(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("evagent: analyze session %s: %w", a.SessionID, err)
	}

	rep := &report.Report{
		SessionID:  a.SessionID,
		PageURL:    a.PageURL,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Events:     events,
		Counters: report.Counters{
			Captured:         len(events),
			Deduplicated:     deduped,
			DroppedMalformed: malformed,
			Mutations:        int64(len(changes)),
			OrphanMutations:  len(orphans),
			Snapshots:        uint64(len(snapshots)),
			NetworkRecords:   len(network),
			PersistFailures:  persistFailed,
		},
		Verdict: verdict,
	}
	if persistFailed > 0 {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("%d critical events failed durable persistence", persistFailed))
	}

	if a.deps.Reports != nil {
		detail, summary, err := a.deps.Reports.Write(rep)
		if err != nil {
			return nil, fmt.Errorf("evagent: write report: %w", err)
		}
		a.mu.Lock()
		a.finalDetail = detail
		a.finalSummary = summary
		a.mu.Unlock()
	}

	// FINALIZED: release the session buffers; the report is the record.
	a.mu.Lock()
	a.state = StateFinalized
	a.events = nil
	a.snapshots = nil
	a.changes = nil
	a.seen = nil
	a.mu.Unlock()

	a.deps.Logger.Info("evagent: session finalized",
		"session_id", a.SessionID,
		"events", rep.Counters.Captured,
		"has_gaps", verdict.HasGaps,
		"confidence", verdict.Confidence)
	return rep, nil
}

// SessionStats are pollable mid-session counters.
type SessionStats struct {
	SessionID string       `json:"session_id"`
	PageURL   string       `json:"page_url,omitempty"`
	State     string       `json:"state"`
	StartedAt int64        `json:"started_at,omitempty"`
	Events    int          `json:"events"`
	Deduped   int64        `json:"deduplicated"`
	Malformed int64        `json:"dropped_malformed"`
	Snapshots int          `json:"snapshots"`
	Mutations mutlog.Stats `json:"mutations"`

	// Queue holds the session's per-tier queue counters when polled
	// through the Manager; nil when the agent is polled directly.
	Queue *evqueue.Stats `json:"queue,omitempty"`
}

// Stats returns current session counters. Safe to call in any state.
func (a *Agent) Stats() SessionStats {
	a.mu.Lock()
	st := SessionStats{
		SessionID: a.SessionID,
		PageURL:   a.PageURL,
		State:     a.state.String(),
		StartedAt: a.startedAt,
		Events:    len(a.events),
		Deduped:   a.deduped,
		Malformed: a.malformed,
		Snapshots: len(a.snapshots),
	}
	a.mu.Unlock()
	if a.deps.Mutations != nil {
		st.Mutations = a.deps.Mutations.Stats()
	}
	return st
}

// NotePersistFailures records how many critical events failed durable
// persistence on the session's queue, for the final report counters.
func (a *Agent) NotePersistFailures(n int64) {
	a.mu.Lock()
	a.persistFailed = n
	a.mu.Unlock()
}

// State returns the current lifecycle phase.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ReportPaths returns the written artifact paths after finalize.
func (a *Agent) ReportPaths() (detail, summary string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalDetail, a.finalSummary
}

// sortEvents puts the final report order on a slice of events: timestamp
// ascending, priority descending on ties. The sort is stable so events with
// equal timestamp and priority keep their arrival order.
func sortEvents(events []*capture.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].Priority > events[j].Priority
	})
}
