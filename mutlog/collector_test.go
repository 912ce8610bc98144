package mutlog

import (
	"testing"
	"time"

	"github.com/hazyhaar/evcap/capture"
)

func TestInstallIdempotent(t *testing.T) {
	c := New(Config{}, nil)
	if !c.Install() {
		t.Fatal("first install must succeed")
	}
	if c.Install() {
		t.Fatal("second install must be a no-op")
	}
	if !c.Installed() {
		t.Fatal("collector should report installed")
	}
}

func TestRecordBeforeInstallDropped(t *testing.T) {
	c := New(Config{}, nil)
	c.Record(capture.DOMChange{Kind: capture.ChangeText, Timestamp: 10})
	if got := len(c.Drain()); got != 0 {
		t.Fatalf("records before install must be dropped, got %d", got)
	}
}

func TestDrainReadAndClear(t *testing.T) {
	c := New(Config{}, nil)
	c.Install()
	c.Record(capture.DOMChange{Kind: capture.ChangeStructure, TargetPath: "/html/body/div", Timestamp: 100})
	c.Record(capture.DOMChange{Kind: capture.ChangeAttribute, TargetPath: "/html/body/div", Timestamp: 150})

	first := c.Drain()
	if len(first) != 2 {
		t.Fatalf("first drain: got %d records, want 2", len(first))
	}
	if second := c.Drain(); len(second) != 0 {
		t.Fatalf("second drain must be empty, got %d (double-counted)", len(second))
	}
}

func TestRecordTimestampsAtObservation(t *testing.T) {
	c := New(Config{}, nil)
	c.now = func() int64 { return 4242 }
	c.Install()
	c.Record(capture.DOMChange{Kind: capture.ChangeText})
	got := c.Drain()
	if got[0].Timestamp != 4242 {
		t.Fatalf("missing timestamp not filled at observation time: %d", got[0].Timestamp)
	}
}

func TestOrphans(t *testing.T) {
	events := []*capture.Event{
		{Kind: "click", Timestamp: 1000},
		{Kind: "input", Timestamp: 2000},
	}
	changes := []capture.DOMChange{
		{TargetPath: "/a", Timestamp: 1040}, // within 75ms of click
		{TargetPath: "/b", Timestamp: 1500}, // no event nearby, orphan
		{TargetPath: "/c", Timestamp: 1930}, // within 75ms of input
		{TargetPath: "/d", Timestamp: 3000}, // orphan
	}

	orphans := Orphans(changes, events, 75*time.Millisecond)
	if len(orphans) != 2 {
		t.Fatalf("got %d orphans, want 2", len(orphans))
	}
	if orphans[0].TargetPath != "/b" || orphans[1].TargetPath != "/d" {
		t.Errorf("wrong orphans: %v", orphans)
	}
}

func TestOrphansEmptyInputs(t *testing.T) {
	if got := Orphans(nil, nil, 75*time.Millisecond); got != nil {
		t.Error("no changes means no orphans")
	}
	changes := []capture.DOMChange{{Timestamp: 100}}
	if got := Orphans(changes, nil, 75*time.Millisecond); len(got) != 1 {
		t.Error("every mutation is orphaned when no events exist")
	}
}
