// Package version exposes build metadata stamped in via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// Short returns a single-line summary suitable for startup logs.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
