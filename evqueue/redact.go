package evqueue

import "regexp"

// RedactionMarker replaces sensitive captured values. The replacement is
// irreversible: the original value is never stored anywhere.
const RedactionMarker = "[REDACTED]"

// sensitivePattern matches field names/ids that must never have their value
// captured in plaintext. RE2, so matching is linear-time.
var sensitivePattern = regexp.MustCompile(`(?i)(password|passwd|token|secret|otp|pin|card|ssn)`)

// SensitiveField reports whether a field name matches the sensitive-keyword
// pattern.
func SensitiveField(name string) bool {
	return name != "" && sensitivePattern.MatchString(name)
}

// RedactValue returns the redaction marker when either the element's field
// name or the extras key matches the sensitive pattern, else the value
// unchanged.
func RedactValue(fieldName, key, value string) string {
	if value == "" {
		return value
	}
	if SensitiveField(fieldName) || SensitiveField(key) {
		return RedactionMarker
	}
	return value
}
