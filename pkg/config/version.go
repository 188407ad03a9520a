// Package config exposes tailguard build metadata.
package config

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/good-yellow-bee/tailguard/pkg/config.Version=...".
// Values left at their defaults are filled from the module and VCS stamps the
// go command embeds in the binary.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	buildOnce sync.Once
	build     BuildInfo
)

// GetBuildInfo returns the build information of the running binary.
func GetBuildInfo() BuildInfo {
	buildOnce.Do(func() {
		build = resolve(Version, Commit, BuildTime, debug.ReadBuildInfo)
	})
	return build
}

// resolve merges the linker-provided values with the embedded build info.
func resolve(version, commit, buildTime string, read func() (*debug.BuildInfo, bool)) BuildInfo {
	info := BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	bi, ok := read()
	if !ok || bi == nil {
		return info
	}

	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// VersionString returns the one-line version banner.
func VersionString() string {
	info := GetBuildInfo()
	commit := info.Commit
	if info.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("tailguard %s (%s) built at %s with %s on %s/%s",
		info.Version, commit, info.BuildTime, info.GoVersion, info.OS, info.Arch)
}
