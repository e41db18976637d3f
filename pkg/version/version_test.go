package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBuildVars(t *testing.T, version, commit, date string) {
	t.Helper()
	prevVersion, prevCommit, prevDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = prevVersion, prevCommit, prevDate })
	Version, GitCommit, BuildDate = version, commit, date
}

func TestGetBuildInfo_UnstampedBinary(t *testing.T) {
	setBuildVars(t, "dev", "unknown", "unknown")

	info := GetBuildInfo()

	assert.Equal(t, "dev", info.Version)
	assert.True(t, info.BuildTime.IsZero(), "unknown build date has no timestamp")
	assert.Equal(t, GoVersion, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
	assert.Equal(t, "snupsd dev (commit: unknown, built: unknown, "+GoVersion+" "+Platform+")", info.String())
}

func TestGetBuildInfo_ReleaseStamp(t *testing.T) {
	setBuildVars(t, "1.2.0", "abc123", "2026-01-13T20:00:00Z")

	info := GetBuildInfo()

	require.False(t, info.BuildTime.IsZero())
	assert.True(t, info.BuildTime.Equal(time.Date(2026, 1, 13, 20, 0, 0, 0, time.UTC)))
	assert.Equal(t, "abc123", info.GitCommit)
	assert.Contains(t, info.String(), "snupsd 1.2.0 (commit: abc123, built: 2026-01-13T20:00:00Z, ")
}

func TestGetBuildInfo_MalformedDateIsKeptVerbatim(t *testing.T) {
	setBuildVars(t, "1.2.0", "abc123", "13.01.2026")

	info := GetBuildInfo()

	assert.Equal(t, "13.01.2026", info.BuildDate)
	assert.True(t, info.BuildTime.IsZero())
}

func TestBuildInfo_String(t *testing.T) {
	info := BuildInfo{
		Version:   "1.2.0",
		GitCommit: "abc123",
		BuildDate: "2026-01-13T20:00:00Z",
		GoVersion: "go1.25.0",
		Platform:  "linux/arm64",
	}

	assert.Equal(t, "snupsd 1.2.0 (commit: abc123, built: 2026-01-13T20:00:00Z, go1.25.0 linux/arm64)", info.String())
}
