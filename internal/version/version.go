// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/lodtiles/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the git commit SHA.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for -version output and health checks.
func String() string {
	return fmt.Sprintf("tileselect %s (%s, built %s)", Version, GitSHA, BuildTime)
}
