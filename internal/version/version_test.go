package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	Version, Commit, BuildDate = "1.2.0", "abc123", "2024-01-01"
	got := String()
	for _, want := range []string{"watcharb 1.2.0", "commit: abc123", "built: 2024-01-01"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}
