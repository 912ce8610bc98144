package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/evcap/capture"
	"github.com/hazyhaar/evcap/gapscan"
)

func sampleReport() *Report {
	return &Report{
		SessionID:  "sess_test",
		PageURL:    "https://example.com",
		StartedAt:  1000,
		FinishedAt: 61_000,
		Events: []*capture.Event{
			{ID: "evt_1", Kind: "click", Timestamp: 1000, Signature: "#a", Priority: capture.PriorityHigh, Verified: true},
			{ID: "evt_2", Kind: "submit", Timestamp: 1050, Signature: "#form", Priority: capture.PriorityCritical},
		},
		Counters: Counters{Captured: 2, Mutations: 5, Snapshots: 3},
		Verdict: &gapscan.Result{
			HasGaps:    true,
			Confidence: 0.6,
			Findings: []gapscan.Finding{{
				Range:       &gapscan.TimeRange{Start: 1000, End: 1005},
				Description: "burst",
				Confidence:  0.5,
				Reasoning:   "5ms gap",
			}},
			Recommendations: []string{"re-capture slowly"},
			Summary:         "1 suspected gap(s)",
		},
		Warnings: []string{"durable persistence failed once"},
	}
}

func TestWriteProducesBothArtifacts(t *testing.T) {
	dir := t.TempDir()
	detail, summary, err := NewWriter(dir).Write(sampleReport())
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(detail)
	if err != nil {
		t.Fatal(err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("detailed report is not valid JSON: %v", err)
	}
	if got.SessionID != "sess_test" || len(got.Events) != 2 || !got.Verdict.HasGaps {
		t.Errorf("report content wrong: %+v", got)
	}

	text, err := os.ReadFile(summary)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"sess_test", "GAPS SUSPECTED", "burst", "re-capture slowly", "durable persistence failed once"} {
		if !strings.Contains(string(text), want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestWriteNoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := NewWriter(dir).Write(sampleReport()); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// TestWriteAtomicReplace simulates a rewrite over an existing report: a
// reader must only ever observe a complete document.
func TestWriteAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	r := sampleReport()
	if _, _, err := w.Write(r); err != nil {
		t.Fatal(err)
	}

	r.Warnings = append(r.Warnings, "second pass")
	detail, _, err := w.Write(r)
	if err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(detail)
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("replaced report unreadable: %v", err)
	}
	if len(got.Warnings) != 2 {
		t.Errorf("replacement incomplete: %v", got.Warnings)
	}
}

// TestCrashMidWriteLeavesPriorVersion emulates a crash between tmp write and
// rename: the stale tmp file must not shadow the previous good report.
func TestCrashMidWriteLeavesPriorVersion(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	if _, _, err := w.Write(sampleReport()); err != nil {
		t.Fatal(err)
	}

	// A crashed writer leaves a half-written tmp next to the good file.
	target := filepath.Join(dir, "sess_test.report.json")
	if err := os.WriteFile(target+".tmp", []byte(`{"session_id":`), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("prior version corrupted by crashed write: %v", err)
	}
}
