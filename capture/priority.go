package capture

import "strings"

// Kind is a normalized action kind ("click", "navigate", "input", ...).
type Kind string

// Priority is one of four fixed delivery tiers. Higher values flush first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// NumPriorities is the number of fixed tiers.
const NumPriorities = 4

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Normalize lowercases and trims a raw action kind.
func Normalize(kind string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(kind)))
}

// PriorityFor assigns the tier for an action kind. The mapping is fixed and
// deterministic: navigation and form submission can never be outranked by
// pointer noise.
func PriorityFor(kind Kind) Priority {
	switch kind {
	case "navigate", "submit":
		return PriorityCritical
	case "click", "dblclick", "change", "input", "fill", "select":
		return PriorityHigh
	case "hover", "focus", "blur", "keydown", "keyup":
		return PriorityMedium
	default:
		return PriorityLow
	}
}
