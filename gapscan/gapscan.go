// Package gapscan decides whether a capture session likely missed user
// actions. It exposes one Analyzer interface with two interchangeable
// strategies, a deterministic heuristic and an optional model-assisted
// analyzer, wrapped by an explicit fallback decorator so degradation is
// always recorded, never hidden.
//
// The detector owns no persistent state: a Result is a pure function of the
// evidence passed in, which keeps every verdict reproducible in tests.
package gapscan

import (
	"context"

	"github.com/hazyhaar/evcap/capture"
)

// TimeRange is a half-open [Start, End) window in epoch milliseconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// SuspectWindow is a snapshot-pair window whose structural diff exceeded the
// relative threshold while no high-or-above event was recorded in it.
type SuspectWindow struct {
	Range     TimeRange `json:"range"`
	Magnitude float64   `json:"magnitude"`
	SnapshotA string    `json:"snapshot_a"`
	SnapshotB string    `json:"snapshot_b"`
}

// Evidence is everything the detector may consider. Absent sources are
// marked explicitly: no evidence means "no signal", never "no gaps".
type Evidence struct {
	SessionStart int64 `json:"session_start"` // epoch ms
	SessionEnd   int64 `json:"session_end"`

	Events          []*capture.Event        `json:"events"`
	OrphanMutations []capture.DOMChange     `json:"orphan_mutations"`
	SuspectWindows  []SuspectWindow         `json:"suspect_windows"`
	Network         []capture.NetworkRecord `json:"network"`

	MutationEvidence bool `json:"mutation_evidence"`
	SnapshotEvidence bool `json:"snapshot_evidence"`
	NetworkEvidence  bool `json:"network_evidence"`
}

// Duration returns the session length in milliseconds.
func (e *Evidence) Duration() int64 {
	return e.SessionEnd - e.SessionStart
}

// Finding is one suspected gap.
type Finding struct {
	Range       *TimeRange `json:"range,omitempty"` // nil when not localisable
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"`
	Reasoning   string     `json:"reasoning"`
}

// Result is the verdict for one session. Created once, immutable after
// creation, persisted verbatim in the verification report.
type Result struct {
	HasGaps         bool      `json:"has_gaps"`
	Confidence      float64   `json:"confidence"` // [0,1]
	Findings        []Finding `json:"findings"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Summary         string    `json:"summary"`
}

// Analyzer produces a verdict from session evidence.
type Analyzer interface {
	Analyze(ctx context.Context, ev *Evidence) (*Result, error)
}
