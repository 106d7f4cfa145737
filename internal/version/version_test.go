package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetFullVersion(t *testing.T) {
	defer func(c string) { GitCommit = c }(GitCommit)

	GitCommit = "unknown"
	assert.Equal(t, Version, GetFullVersion())
	assert.NotContains(t, GetVersionInfo("miniscope"), "commit")

	GitCommit = "1a2b3c4d5e6f"
	assert.Equal(t, Version+"-1a2b3c4", GetFullVersion())
	assert.Contains(t, GetVersionInfo("miniscope"), "miniscope version "+Version+" (commit 1a2b3c4)")
}
