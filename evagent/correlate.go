package evagent

import (
	"github.com/hazyhaar/evcap/capture"
	"github.com/hazyhaar/evcap/gapscan"
	"github.com/hazyhaar/evcap/snapdiff"
)

// snapshotWindow is the interval between two consecutive snapshots plus
// the structural change magnitude between them.
type snapshotWindow struct {
	Start     int64
	End       int64
	Magnitude float64
	IDA       string
	IDB       string
}

// correlate compares each consecutive snapshot pair. Windows whose diff
// exceeds the threshold without a high-priority event inside them are
// returned as suspect. Events falling inside a corroborated window
// (significant diff AND a matching event) get their Verified flag set.
func correlate(snapshots []*capture.Snapshot, events []*capture.Event, threshold float64) []gapscan.SuspectWindow {
	windows := diffWindows(snapshots)
	var suspects []gapscan.SuspectWindow

	for _, w := range windows {
		if w.Magnitude <= threshold {
			continue
		}
		if explained := markVerified(events, w); explained {
			continue
		}
		suspects = append(suspects, gapscan.SuspectWindow{
			Range:     gapscan.TimeRange{Start: w.Start, End: w.End},
			Magnitude: w.Magnitude,
			SnapshotA: w.IDA,
			SnapshotB: w.IDB,
		})
	}
	return suspects
}

func diffWindows(snapshots []*capture.Snapshot) []snapshotWindow {
	if len(snapshots) < 2 {
		return nil
	}
	windows := make([]snapshotWindow, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		// An unparsable snapshot yields no diff signal for its window.
		mag, err := snapdiff.Magnitude(prev.HTML, cur.HTML)
		if err != nil {
			mag = 0
		}
		windows = append(windows, snapshotWindow{
			Start:     prev.Timestamp,
			End:       cur.Timestamp,
			Magnitude: mag,
			IDA:       prev.ID,
			IDB:       cur.ID,
		})
	}
	return windows
}

// markVerified flags every high-priority event inside the window and
// reports whether at least one was found.
func markVerified(events []*capture.Event, w snapshotWindow) bool {
	found := false
	for _, ev := range events {
		if ev.Timestamp < w.Start || ev.Timestamp > w.End {
			continue
		}
		if ev.Priority >= capture.PriorityHigh {
			ev.Verified = true
			found = true
		}
	}
	return found
}
