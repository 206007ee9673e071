// Package version reports the build of the running binary.
package version

import (
	"runtime/debug"
)

// Set with -ldflags "-X github.com/Sumatoshi-tech/benchtrail/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = "<unknown>"
)

const (
	vcsRevision = "vcs.revision"
	vcsTime     = "vcs.time"
	vcsModified = "vcs.modified"
	dirtySuffix = "-dirty"
)

// InitBinaryVersion fills values that were not set at link time from the
// build info embedded by the go tool.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	apply(info)
}

func apply(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	modified := false

	for _, setting := range info.Settings {
		switch setting.Key {
		case vcsRevision:
			if Commit == "<unknown>" {
				Commit = setting.Value
			}
		case vcsTime:
			if Date == "<unknown>" {
				Date = setting.Value
			}
		case vcsModified:
			modified = setting.Value == "true"
		}
	}

	if modified && Commit != "<unknown>" {
		Commit += dirtySuffix
	}
}

// String is the one-line version banner.
func String() string {
	return "benchtrail " + Version + " (commit: " + Commit + ", built: " + Date + ")"
}
