// Package report serializes the final verification artifact for a capture
// session: one detailed structured document and one condensed human-readable
// summary. Both files are written atomically (write .tmp then rename) so a
// concurrent reader observes either the previous version or the complete new
// one, never a partial write.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/evcap/capture"
	"github.com/hazyhaar/evcap/gapscan"
)

// Counters are the evidence totals accumulated over the session.
type Counters struct {
	Captured         int    `json:"captured"`
	Deduplicated     int64  `json:"deduplicated"`
	DroppedMalformed int64  `json:"dropped_malformed"`
	Mutations        int64  `json:"mutations"`
	OrphanMutations  int    `json:"orphan_mutations"`
	Snapshots        uint64 `json:"snapshots"`
	NetworkRecords   int    `json:"network_records"`
	PersistFailures  int64  `json:"persist_failures"`
}

// Report is the finalized session artifact, persisted verbatim.
type Report struct {
	SessionID  string           `json:"session_id"`
	PageURL    string           `json:"page_url,omitempty"`
	StartedAt  int64            `json:"started_at"` // epoch ms
	FinishedAt int64            `json:"finished_at"`
	Events     []*capture.Event `json:"events"` // final ordering: ts asc, priority desc on ties
	Counters   Counters         `json:"counters"`
	Verdict    *gapscan.Result  `json:"verdict"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// Writer deposits report files into a caller-specified directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer targeting dir. The directory is created on
// first write if it does not exist.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write persists the detailed JSON document and the condensed summary.
// Any failure here is fatal to finalize and is returned to the caller.
func (w *Writer) Write(r *Report) (detailPath, summaryPath string, err error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("report: mkdir %s: %w", w.dir, err)
	}

	detail, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("report: marshal: %w", err)
	}

	detailPath = filepath.Join(w.dir, r.SessionID+".report.json")
	if err := writeAtomic(detailPath, detail); err != nil {
		return "", "", err
	}

	summaryPath = filepath.Join(w.dir, r.SessionID+".summary.txt")
	if err := writeAtomic(summaryPath, []byte(Summarize(r))); err != nil {
		return "", "", err
	}

	return detailPath, summaryPath, nil
}

// writeAtomic writes data to target via a temp file and rename.
func writeAtomic(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("report: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}

// Summarize renders the condensed human-readable verdict.
func Summarize(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capture session %s\n", r.SessionID)
	if r.PageURL != "" {
		fmt.Fprintf(&b, "Page: %s\n", r.PageURL)
	}
	dur := time.Duration(r.FinishedAt-r.StartedAt) * time.Millisecond
	fmt.Fprintf(&b, "Duration: %s, events: %d (deduplicated %d, malformed dropped %d)\n",
		dur, len(r.Events), r.Counters.Deduplicated, r.Counters.DroppedMalformed)
	fmt.Fprintf(&b, "Evidence: %d mutations (%d orphaned), %d snapshots, %d network records\n",
		r.Counters.Mutations, r.Counters.OrphanMutations, r.Counters.Snapshots, r.Counters.NetworkRecords)

	if v := r.Verdict; v != nil {
		if v.HasGaps {
			fmt.Fprintf(&b, "Verdict: GAPS SUSPECTED (confidence %.2f)\n", v.Confidence)
			for _, f := range v.Findings {
				if f.Range != nil {
					fmt.Fprintf(&b, "  - [%d-%dms] %s (%.2f)\n", f.Range.Start, f.Range.End, f.Description, f.Confidence)
				} else {
					fmt.Fprintf(&b, "  - %s (%.2f)\n", f.Description, f.Confidence)
				}
			}
		} else {
			fmt.Fprintf(&b, "Verdict: no gaps detected (confidence %.2f)\n", v.Confidence)
		}
		for _, rec := range v.Recommendations {
			fmt.Fprintf(&b, "  recommendation: %s\n", rec)
		}
	}

	for _, warn := range r.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", warn)
	}
	return b.String()
}
