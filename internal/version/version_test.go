package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersion(t *testing.T) {
	got := getVersion()
	assert.NotEmpty(t, got)
	assert.Equal(t, strings.TrimSpace(got), got, "embedded version must be trimmed")

	parts := strings.SplitN(got, ".", 3)
	assert.Len(t, parts, 3, "version %q must be MAJOR.MINOR.PATCH", got)
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "1.0.0",
		GitCommit: "abc1234",
		BuildDate: "2026-01-10T15:04:05Z",
	}
	want := "Version:    1.0.0\nGit Commit: abc1234\nBuild Date: 2026-01-10T15:04:05Z"
	assert.Equal(t, want, info.String())
}

func TestGetNeverEmpty(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit, "falls back to 'unknown'")
	assert.NotEmpty(t, info.BuildDate, "falls back to 'unknown'")
}

func TestReadBuildInfoShortensRevision(t *testing.T) {
	revision, _ := readBuildInfo()
	if revision != "" {
		assert.LessOrEqual(t, len(revision), 7)
	}
}
