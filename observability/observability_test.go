package observability

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/evcap/dbopen"
)

func testManager(t *testing.T) *MetricsManager {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	mm := NewMetricsManager(db, 4, 50*time.Millisecond)
	t.Cleanup(func() { mm.Close() })
	return mm
}

func TestMetrics_RecordAndQuery(t *testing.T) {
	mm := testManager(t)

	mm.RecordCount("session_events_total", 42, map[string]string{"session_id": "sess_a"})
	mm.RecordCount("session_events_total", 7, map[string]string{"session_id": "sess_b"})

	// Fill the buffer to force a synchronous flush.
	mm.RecordCount("queue_redeliveries", 1, nil)
	mm.RecordCount("queue_redeliveries", 2, nil)

	got, err := mm.Query("session_events_total", nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("metrics: got %d, want 2", len(got))
	}
	if got[0].Unit != "count" {
		t.Fatalf("unit: got %q", got[0].Unit)
	}
	foundLabel := false
	for _, m := range got {
		if m.Labels["session_id"] == "sess_a" && m.Value == 42 {
			foundLabel = true
		}
	}
	if !foundLabel {
		t.Fatal("labelled datapoint not persisted")
	}
}

func TestMetrics_CloseFlushesBuffer(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	mm := NewMetricsManager(db, 100, time.Hour)
	mm.RecordCount("pending_metric", 1, nil)
	if err := mm.Close(); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("persisted: got %d, want 1", count)
	}
}

func TestMetrics_Cleanup(t *testing.T) {
	mm := testManager(t)

	old := time.Now().AddDate(0, 0, -30)
	mm.Record(&Metric{Name: "stale", Timestamp: old, Value: 1, Unit: "count"})
	mm.RecordCount("fresh", 1, nil)
	// Force flush via buffer fill.
	mm.RecordCount("fresh", 2, nil)
	mm.RecordCount("fresh", 3, nil)

	removed, err := mm.Cleanup(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed: got %d, want 1", removed)
	}
}
