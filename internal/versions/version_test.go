package versions

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		version       string
		commit        string
		buildDate     string
		wantVersion   string
		wantBuildDate string
	}{
		{
			name:          "release",
			version:       "v1.2.3",
			commit:        "abcdef0123456789",
			buildDate:     "2026-03-01T10:00:00Z",
			wantVersion:   "v1.2.3",
			wantBuildDate: "2026-03-01 10:00:00 UTC",
		},
		{
			name:          "dev build named after commit",
			version:       "dev",
			commit:        "abcdef0123456789",
			buildDate:     unknownStr,
			wantVersion:   "dev-abcdef01",
			wantBuildDate: unknownStr,
		},
		{
			name:          "dev build without vcs info",
			version:       "dev",
			commit:        unknownStr,
			buildDate:     "not-a-date",
			wantVersion:   "dev",
			wantBuildDate: "not-a-date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := build(tt.version, tt.commit, tt.buildDate)
			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.commit, info.Commit)
			assert.Equal(t, tt.wantBuildDate, info.BuildDate)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
			assert.Contains(t, info.String(), tt.wantVersion)
		})
	}
}

func TestFromBuildSettings(t *testing.T) {
	t.Parallel()

	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "1234567890"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		{Key: "GOOS", Value: "linux"},
	}

	commit, date := fromBuildSettings(settings, unknownStr, unknownStr)
	assert.Equal(t, "1234567890", commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", date)

	// Linker-provided values win
	commit, date = fromBuildSettings(settings, "fixed", "today")
	assert.Equal(t, "fixed", commit)
	assert.Equal(t, "today", date)
}
