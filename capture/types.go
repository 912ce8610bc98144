// Package capture defines the structured types shared by the event capture
// engine. These are the public API contract: the edge queue (evqueue), the
// correlation agent (evagent), and any external consumer import this package
// to exchange events, mutations, snapshots and verdicts.
package capture

// Event is a single captured user interaction. Once appended to a session
// buffer it is immutable except for the Verified flag.
type Event struct {
	ID          string            `json:"id"`        // UUIDv7, "evt_" prefix
	Kind        Kind              `json:"kind"`      // normalized action kind
	Timestamp   int64             `json:"timestamp"` // epoch milliseconds
	Signature   string            `json:"signature"` // derived element signature
	Priority    Priority          `json:"priority"`
	Extras      map[string]string `json:"extras,omitempty"`
	PageURL     string            `json:"page_url,omitempty"`
	PageTitle   string            `json:"page_title,omitempty"`
	SnapshotRef string            `json:"snapshot_ref,omitempty"` // ID of the nearest snapshot
	Verified    bool              `json:"verified"`
}

// DOMChangeKind classifies a DOM mutation.
type DOMChangeKind string

const (
	ChangeStructure DOMChangeKind = "structure" // child list insert/remove
	ChangeAttribute DOMChangeKind = "attribute"
	ChangeText      DOMChangeKind = "text"
)

// DOMChange is a single structural change record collected by mutlog.
// Records are consumed and cleared on each drain, never re-delivered.
type DOMChange struct {
	Timestamp   int64         `json:"timestamp"` // epoch milliseconds at observation
	Kind        DOMChangeKind `json:"kind"`
	TargetPath  string        `json:"target_path"` // structural path from document root
	AddedTags   []string      `json:"added_tags,omitempty"`
	RemovedTags []string      `json:"removed_tags,omitempty"`
	AttrName    string        `json:"attr_name,omitempty"`
	OldValue    string        `json:"old_value,omitempty"`
	NewValue    string        `json:"new_value,omitempty"`
}

// Snapshot is a point-in-time structural capture of visible UI state.
// Retained only for the active session and discarded after finalize.
type Snapshot struct {
	ID        string `json:"id"`
	Seq       uint64 `json:"seq"` // monotonically increasing per session
	Timestamp int64  `json:"timestamp"`
	HTML      []byte `json:"html"`
	HTMLHash  string `json:"html_hash"` // SHA-256 hex
}

// NetworkRecord is minimal external network evidence, consumed read-only
// by the gap detector.
type NetworkRecord struct {
	Method       string `json:"method"`
	ResourceKind string `json:"resource_kind"`
	Timestamp    int64  `json:"timestamp"`
}
