// Package version exposes build metadata injected at link time:
//
//	go build -ldflags "-X github.com/HerbHall/nasguard/internal/version.Version=v0.3.0 \
//	  -X github.com/HerbHall/nasguard/internal/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import "runtime"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Map returns build metadata suitable for JSON responses and log fields.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}
