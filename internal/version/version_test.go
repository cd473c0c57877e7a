package version

import "testing"

func TestString(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "0.3.0"
	if got, want := String("sensorsim"), "sensorsim v0.3.0 (git SHA: unknown, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
