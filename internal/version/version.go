// Package version reports the build of the miniscope tools. The variables
// are stamped with -ldflags "-X miniscope/internal/version.GitCommit=...".
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// BuildInfo is served by the monitor at /api/version.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func shortCommit() string {
	if len(GitCommit) > 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// GetFullVersion returns the version with the short commit when known,
// e.g. "0.3.0-1a2b3c4".
func GetFullVersion() string {
	if GitCommit == "unknown" {
		return Version
	}
	return Version + "-" + shortCommit()
}

// GetVersionInfo is the multi-line banner printed by the version commands.
func GetVersionInfo(appName string) string {
	info := GetBuildInfo()

	var b strings.Builder
	fmt.Fprintf(&b, "%s version %s", appName, info.Version)
	if info.GitCommit != "unknown" {
		fmt.Fprintf(&b, " (commit %s)", shortCommit())
	}
	if info.BuildDate != "unknown" {
		fmt.Fprintf(&b, "\nBuilt: %s", info.BuildDate)
	}
	fmt.Fprintf(&b, "\nGo: %s\nPlatform: %s", info.GoVersion, info.Platform)
	return b.String()
}
