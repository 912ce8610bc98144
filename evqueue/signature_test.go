package evqueue

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSignaturePreferenceOrder(t *testing.T) {
	full := Target{
		DOMID:     "login-btn",
		Role:      "button",
		AriaLabel: "Log in",
		Path:      "/html/body/form/button[1]",
	}
	if got := Signature(full); got != "#login-btn" {
		t.Errorf("DOM id must win: got %q", got)
	}

	noID := full
	noID.DOMID = ""
	if got := Signature(noID); got != "role=button|name=Log in" {
		t.Errorf("role+name expected: got %q", got)
	}

	bare := Target{Path: "/html/body/div[2]/span"}
	if got := Signature(bare); got != "/html/body/div[2]/span" {
		t.Errorf("structural path fallback expected: got %q", got)
	}
}

func TestAccessibleNameOrder(t *testing.T) {
	tgt := Target{
		AriaLabel:   "aria",
		Title:       "title",
		Placeholder: "placeholder",
		Text:        "  visible text  ",
	}
	if got := AccessibleName(tgt); got != "aria" {
		t.Errorf("aria-label first: got %q", got)
	}
	tgt.AriaLabel = ""
	if got := AccessibleName(tgt); got != "title" {
		t.Errorf("title second: got %q", got)
	}
	tgt.Title = ""
	if got := AccessibleName(tgt); got != "placeholder" {
		t.Errorf("placeholder third: got %q", got)
	}
	tgt.Placeholder = ""
	if got := AccessibleName(tgt); got != "visible text" {
		t.Errorf("trimmed text last: got %q", got)
	}

	tgt.Text = strings.Repeat("x", 200)
	if got := AccessibleName(tgt); len(got) != accessibleNameMax {
		t.Errorf("text fallback not bounded: len %d", len(got))
	}

	// Truncation must never split a multi-byte rune.
	tgt.Text = strings.Repeat("é", 200)
	got := AccessibleName(tgt)
	if len(got) > accessibleNameMax {
		t.Errorf("multibyte fallback not bounded: len %d", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncated name is invalid UTF-8: %q", got)
	}
}

func TestBuildEventRedactsSensitiveFields(t *testing.T) {
	ev, err := BuildEvent("input", 1000, Target{
		FieldName: "password",
		Path:      "/html/body/form/input[2]",
		Value:     "hunter2",
	}, "https://example.com/login", "Login", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Extras["value"] != RedactionMarker {
		t.Fatalf("password value not redacted: %q", ev.Extras["value"])
	}
	for _, v := range ev.Extras {
		if strings.Contains(v, "hunter2") {
			t.Fatal("plaintext sensitive value leaked into extras")
		}
	}
}

func TestBuildEventKeepsPlainValues(t *testing.T) {
	ev, err := BuildEvent("Input", 1000, Target{
		FieldName: "email",
		Value:     "a@b.c",
	}, "", "", map[string]string{"checked": "true"})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != "input" {
		t.Errorf("kind not normalized: %q", ev.Kind)
	}
	if ev.Extras["value"] != "a@b.c" || ev.Extras["checked"] != "true" {
		t.Errorf("non-sensitive values must pass through: %v", ev.Extras)
	}
}

func TestBuildEventMalformed(t *testing.T) {
	if _, err := BuildEvent("", 1000, Target{}, "", "", nil); err == nil {
		t.Error("empty kind must be rejected")
	}
	if _, err := BuildEvent("click", 0, Target{}, "", "", nil); err == nil {
		t.Error("zero timestamp must be rejected")
	}
}

func TestSensitiveField(t *testing.T) {
	for _, name := range []string{"password", "user_password", "PIN", "cardNumber", "otp-code", "ssn", "apiToken", "client_secret"} {
		if !SensitiveField(name) {
			t.Errorf("%q should be sensitive", name)
		}
	}
	for _, name := range []string{"email", "username", "search", ""} {
		if SensitiveField(name) {
			t.Errorf("%q should not be sensitive", name)
		}
	}
}
