// Package version reports the build identity of the vice binary.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set at link time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

// Short is the release version. A `go install`ed binary without link-time
// flags reports its module version instead of "dev".
func Short() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := readBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

func commit() string {
	if Commit != "none" {
		return Commit
	}
	info, ok := readBuildInfo()
	if !ok {
		return Commit
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			return setting.Value
		}
	}
	return Commit
}

func String() string {
	return "vice " + Short() + " (commit=" + commit() + ", date=" + Date + ", go=" + runtime.Version() + ")"
}
