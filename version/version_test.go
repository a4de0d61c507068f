package version

import (
	"strings"
	"testing"
)

func TestStringFallsBackWhenUnset(t *testing.T) {
	Version, GitSHA, BuildDate = "", "", ""
	got := String()
	if !strings.Contains(got, "dev") || !strings.Contains(got, "unknown") {
		t.Fatalf("String() = %q, want dev/unknown fallbacks", got)
	}
}

func TestStringUsesInjectedValues(t *testing.T) {
	Version, GitSHA, BuildDate = "1.2.3", "abcdef0", "2026-07-30"
	defer func() { Version, GitSHA, BuildDate = "", "", "" }()

	got := String()
	if got != "boardprov 1.2.3 (abcdef0, built 2026-07-30)" {
		t.Fatalf("String() = %q", got)
	}
}
