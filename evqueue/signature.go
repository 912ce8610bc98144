package evqueue

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/evcap/capture"
	"github.com/hazyhaar/evcap/idgen"
)

// accessibleNameMax bounds the visible-text fallback of accessible names.
const accessibleNameMax = 48

// Target describes the UI element an interaction landed on, as reported by
// the browser collaborator.
type Target struct {
	DOMID       string `json:"dom_id,omitempty"`
	Role        string `json:"role,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
	Title       string `json:"title,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Text        string `json:"text,omitempty"`
	Path        string `json:"path,omitempty"`       // structural path from document root
	FieldName   string `json:"field_name,omitempty"` // name/id attribute, used for redaction matching
	Value       string `json:"value,omitempty"`      // input value, redacted before the event exists
}

// Signature derives the element signature. Preference order: unique DOM id,
// role + accessible name pair, stable structural path.
func Signature(t Target) string {
	if t.DOMID != "" {
		return "#" + t.DOMID
	}
	if t.Role != "" {
		if name := AccessibleName(t); name != "" {
			return fmt.Sprintf("role=%s|name=%s", t.Role, name)
		}
	}
	return t.Path
}

// AccessibleName resolves the element's accessible name:
// aria-label, then title, then placeholder, then trimmed visible text
// (length-bounded).
func AccessibleName(t Target) string {
	if t.AriaLabel != "" {
		return t.AriaLabel
	}
	if t.Title != "" {
		return t.Title
	}
	if t.Placeholder != "" {
		return t.Placeholder
	}
	text := strings.TrimSpace(t.Text)
	if len(text) > accessibleNameMax {
		// Cut on a rune boundary, never mid-sequence.
		cut := accessibleNameMax
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

var newEventID = idgen.Prefixed("evt_", idgen.UUIDv7())

// ErrMalformed marks raw payloads that cannot become an event. Callers drop
// and count these, they are never fatal.
var ErrMalformed = errors.New("evqueue: malformed event payload")

// BuildEvent turns a raw interaction into a capture.Event: the kind is
// normalized, the priority tier assigned, the signature derived, and any
// sensitive value replaced by the redaction marker. Redaction happens here,
// before the event is queued, persisted, or delivered, never after.
func BuildEvent(rawKind string, ts int64, target Target, pageURL, pageTitle string, extras map[string]string) (*capture.Event, error) {
	kind := capture.Normalize(rawKind)
	if kind == "" || ts <= 0 {
		return nil, ErrMalformed
	}

	ev := &capture.Event{
		ID:        newEventID(),
		Kind:      kind,
		Timestamp: ts,
		Signature: Signature(target),
		Priority:  capture.PriorityFor(kind),
		PageURL:   pageURL,
		PageTitle: pageTitle,
	}

	if len(extras) > 0 {
		ev.Extras = make(map[string]string, len(extras)+1)
		for k, v := range extras {
			ev.Extras[k] = RedactValue(target.FieldName, k, v)
		}
	}
	if target.Value != "" {
		if ev.Extras == nil {
			ev.Extras = make(map[string]string, 1)
		}
		ev.Extras["value"] = RedactValue(target.FieldName, "value", target.Value)
	}

	return ev, nil
}
