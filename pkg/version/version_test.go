package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionVariables(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, BuildTime)
	if GitCommit != "unknown" {
		assert.GreaterOrEqual(t, len(GitCommit), 7, "GitCommit should be 'unknown' or a git hash")
	}
}

func TestString(t *testing.T) {
	defer func(v, c, b string) { Version, GitCommit, BuildTime = v, c, b }(Version, GitCommit, BuildTime)
	Version, GitCommit, BuildTime = "1.2.0", "abc1234", "2024-03-01"

	assert.Equal(t, "Version:    1.2.0\nGit commit: abc1234\nBuilt:      2024-03-01\n", String())
}
