// Package version holds build metadata set with -ldflags at release time.
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

// String renders the build metadata for -version and the startup log.
func String() string {
	return fmt.Sprintf("ballot-scanner %s (%s, built %s)", Version, GitSHA, BuildTime)
}
