// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns the multi-line description printed by `tmig version`.
func String() string {
	return fmt.Sprintf("Version:    %s\nGit commit: %s\nBuilt:      %s\n", Version, GitCommit, BuildTime)
}
