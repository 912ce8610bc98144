package gapscan

import (
	"context"
	"fmt"
	"sort"

	"github.com/hazyhaar/evcap/capture"
)

// Heuristic is the always-available deterministic analyzer: orphan-mutation
// density, event-burst detection, suspect snapshot windows, and a
// sparse-long-session check.
type Heuristic struct {
	cfg Config
}

// NewHeuristic creates the deterministic analyzer.
func NewHeuristic(cfg Config) *Heuristic {
	cfg.applyDefaults()
	return &Heuristic{cfg: cfg}
}

// Analyze never fails and is deterministic for identical inputs.
func (h *Heuristic) Analyze(_ context.Context, ev *Evidence) (*Result, error) {
	var findings []Finding
	var recs []string

	// Orphan-mutation density. Only meaningful when the mutation source
	// was actually installed. Absent evidence is no signal.
	if ev.MutationEvidence && len(ev.OrphanMutations) > h.cfg.OrphanThreshold {
		findings = append(findings, Finding{
			Description: fmt.Sprintf("%d DOM mutations have no correlated captured event", len(ev.OrphanMutations)),
			Confidence:  0.6,
			Reasoning: fmt.Sprintf("orphan count %d exceeds threshold %d; structural changes usually follow user actions",
				len(ev.OrphanMutations), h.cfg.OrphanThreshold),
		})
		recs = append(recs, "re-capture the flow at a slower interaction pace")
	}

	// Event bursts: adjacent pairs closer than the minimum inter-event gap.
	events := make([]*capture.Event, len(ev.Events))
	copy(events, ev.Events)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })

	burstMs := h.cfg.BurstGap.Milliseconds()
	for i := 1; i < len(events); i++ {
		gap := events[i].Timestamp - events[i-1].Timestamp
		if gap < burstMs {
			findings = append(findings, Finding{
				Range:       &TimeRange{Start: events[i-1].Timestamp, End: events[i].Timestamp},
				Description: fmt.Sprintf("burst: %q and %q only %dms apart", events[i-1].Kind, events[i].Kind, gap),
				Confidence:  0.5,
				Reasoning: fmt.Sprintf("inter-event gap %dms below minimum %dms; an intermediate action may have been dropped",
					gap, burstMs),
			})
		}
	}

	// Suspect snapshot windows: the UI changed sharply with no high-priority
	// event recorded.
	for _, w := range ev.SuspectWindows {
		r := w.Range
		findings = append(findings, Finding{
			Range:       &r,
			Description: fmt.Sprintf("UI changed %.0f%% with no high-priority event in window", w.Magnitude*100),
			Confidence:  0.55,
			Reasoning: fmt.Sprintf("structural diff %.2f between snapshots %s and %s exceeds threshold while the window holds no event of high-or-above priority",
				w.Magnitude, w.SnapshotA, w.SnapshotB),
		})
	}

	// Sparse long session: recommendation only, not a hard finding.
	if ev.Duration() > h.cfg.SparseDuration.Milliseconds() && len(ev.Events) < h.cfg.SparseMinEvents {
		recs = append(recs, fmt.Sprintf(
			"session ran %.0fs but captured only %d events; verify the recording manually",
			float64(ev.Duration())/1000, len(ev.Events)))
	}

	return h.verdict(ev, findings, recs), nil
}

// verdict assembles the immutable Result. Overall confidence is the highest
// finding confidence when gaps were found; otherwise a clean-session
// confidence discounted for each absent evidence source.
func (h *Heuristic) verdict(ev *Evidence, findings []Finding, recs []string) *Result {
	sortFindings(findings)

	if len(findings) > 0 {
		conf := 0.0
		for _, f := range findings {
			if f.Confidence > conf {
				conf = f.Confidence
			}
		}
		return &Result{
			HasGaps:         true,
			Confidence:      conf,
			Findings:        findings,
			Recommendations: recs,
			Summary:         fmt.Sprintf("%d suspected gap(s) across %d captured events", len(findings), len(ev.Events)),
		}
	}

	conf := 0.9
	for _, present := range []bool{ev.MutationEvidence, ev.SnapshotEvidence, ev.NetworkEvidence} {
		if !present {
			conf -= 0.1
		}
	}
	if conf < 0.5 {
		conf = 0.5
	}
	if !ev.MutationEvidence {
		recs = append(recs, "mutation evidence was unavailable this session; verdict is based on event timing alone")
	}
	return &Result{
		HasGaps:         false,
		Confidence:      conf,
		Findings:        nil,
		Recommendations: recs,
		Summary:         fmt.Sprintf("no gaps detected across %d captured events", len(ev.Events)),
	}
}

// sortFindings orders findings by window start; findings without a window
// come first (session-wide signals before localised ones).
func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i].Range, findings[j].Range
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Start < b.Start
	})
}
