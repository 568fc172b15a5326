package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release of the build.
	Version = "0.1.0-dev"
	// Commit is the short git SHA of the build, or "none".
	Commit = "none"
	// BuildTime is the UTC build timestamp, or "unknown".
	BuildTime = "unknown"
)

// Short returns the release only.
func Short() string {
	return Version
}

// Full returns the release with its commit, build time and toolchain.
func Full() string {
	return fmt.Sprintf("arms %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
