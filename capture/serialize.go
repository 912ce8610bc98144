package capture

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// dedupBucketMs is the timestamp bucket width for duplicate detection.
// Two identical interactions landing within the same 100ms bucket collapse
// to one.
const dedupBucketMs = 100

// DedupKey computes the session-scoped duplicate-detection key for an event:
// SHA-256 over (normalized kind, element signature, bucketed timestamp).
func DedupKey(ev *Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", Normalize(string(ev.Kind)), ev.Signature, ev.Timestamp/dedupBucketMs)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// MarshalEvent serialises an Event to JSON.
func MarshalEvent(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

// UnmarshalEvent deserialises an Event from JSON.
func UnmarshalEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// HashHTML returns the SHA-256 hex digest of raw HTML bytes.
func HashHTML(html []byte) string {
	h := sha256.Sum256(html)
	return fmt.Sprintf("%x", h)
}
