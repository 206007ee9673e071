package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply(t *testing.T) {
	Version, Commit, Date = "dev", "<unknown>", "<unknown>"

	t.Cleanup(func() { Version, Commit, Date = "dev", "<unknown>", "<unknown>" })

	apply(&debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: vcsRevision, Value: "abc123"},
			{Key: vcsTime, Value: "2026-01-02T03:04:05Z"},
			{Key: vcsModified, Value: "true"},
		},
	})

	assert.Equal(t, "v1.4.0", Version)
	assert.Equal(t, "abc123-dirty", Commit)
	assert.Equal(t, "benchtrail v1.4.0 (commit: abc123-dirty, built: 2026-01-02T03:04:05Z)", String())
}

func TestApply_KeepsLinkedValues(t *testing.T) {
	Version, Commit, Date = "v9.9.9", "linked", "today"

	t.Cleanup(func() { Version, Commit, Date = "dev", "<unknown>", "<unknown>" })

	apply(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: vcsRevision, Value: "abc123"}},
	})

	assert.Equal(t, "v9.9.9", Version)
	assert.Equal(t, "linked", Commit)
	assert.Equal(t, "today", Date)
}
