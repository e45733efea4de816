// Package versions reports build information for cadence-sync.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknownStr = "unknown"

// Set at build time with -ldflags "-X github.com/stacklok/cadence-sync/internal/versions.Version=..."
var (
	Version = "dev"
	//nolint:goconst // placeholder until set by the linker
	Commit = unknownStr
	//nolint:goconst // placeholder until set by the linker
	BuildDate = unknownStr
)

// Info is the build information reported by `cadence-sync version` and GET /version
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// String renders the info on one line
func (i Info) String() string {
	return fmt.Sprintf("cadence-sync %s (commit %s, built %s, %s %s)",
		i.Version, i.Commit, i.BuildDate, i.GoVersion, i.Platform)
}

// Get returns the build information of the running binary
func Get() Info {
	commit, buildDate := Commit, BuildDate
	if strings.HasPrefix(Version, "dev") {
		if bi, ok := debug.ReadBuildInfo(); ok {
			commit, buildDate = fromBuildSettings(bi.Settings, commit, buildDate)
		}
	}
	return build(Version, commit, buildDate)
}

func fromBuildSettings(settings []debug.BuildSetting, commit, buildDate string) (string, string) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if commit == unknownStr {
				commit = s.Value
			}
		case "vcs.time":
			if buildDate == unknownStr {
				buildDate = s.Value
			}
		}
	}
	return commit, buildDate
}

func build(version, commit, buildDate string) Info {
	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	// A plain dev build is named after the commit it was built from
	if version == "dev" && commit != unknownStr {
		version = fmt.Sprintf("dev-%.8s", commit)
	}

	return Info{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
