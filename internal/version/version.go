// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/htaamneh29/sfnd-lidar-project/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version output and run logs.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
