// Package version reports build information for appsyncctl.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/appsync-client/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/appsync-client/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/appsync-client/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Without ldflags the module version and VCS revision recorded by the Go
// toolchain are used when available.
package version

import (
	"runtime"
	"runtime/debug"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build information of the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns build information, filling unset values from the binary's
// embedded build info.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.Commit == "unknown":
			info.Commit = s.Value[:min(len(s.Value), 12)]
		case s.Key == "vcs.time" && info.BuildTime == "unknown":
			info.BuildTime = s.Value
		}
	}
	return info
}

// String returns a formatted version string.
func String() string {
	i := Get()
	return i.Version + " (" + i.Commit + ") built " + i.BuildTime + " " + i.GoVersion
}
