// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for a --version flag.
func String(program string) string {
	return fmt.Sprintf("%s v%s (git SHA: %s, built %s)", program, Version, GitSHA, BuildTime)
}
