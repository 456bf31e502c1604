package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time
	// with -ldflags "-X price-advisor/internal/version.Version=...".
	Version = "dev"
	Commit  = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// Summary formats the build information on one line.
func Summary() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
