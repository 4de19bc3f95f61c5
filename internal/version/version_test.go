package version

import (
	"strings"
	"testing"
)

func TestStringIncludesBuildInfo(t *testing.T) {
	Version, Commit, BuildDate = "1.2.3", "abc123", "2025-03-08"
	defer func() { Version, Commit, BuildDate = "dev", "unknown", "unknown" }()

	got := String()
	for _, want := range []string{"version: 1.2.3", "commit: abc123", "built: 2025-03-08"} {
		if !strings.Contains(got, want) {
			t.Fatalf("String() = %q, missing %q", got, want)
		}
	}
	if UserAgent() != "gaswatch/1.2.3" {
		t.Fatalf("unexpected user agent %q", UserAgent())
	}
}
