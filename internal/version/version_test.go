package version

import "testing"

func TestString(t *testing.T) {
	defer func(v, c, b string) { Version, GitCommit, BuildTime = v, c, b }(Version, GitCommit, BuildTime)

	Version, GitCommit = "v1.2.0", "unknown"
	if got := String(); got != "v1.2.0" {
		t.Fatalf("String() = %q", got)
	}

	GitCommit, BuildTime = "abc123", "2026-01-02"
	if got, want := String(), "v1.2.0 (abc123, built 2026-01-02)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
