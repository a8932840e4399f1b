package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	tests := []struct {
		name                      string
		version, commit, built    string
		want                      []string
	}{
		{
			name:    "development build",
			version: "dev", commit: "unknown", built: "unknown",
			want:    []string{"voiceturn version dev", "commit: unknown", "built: unknown"},
		},
		{
			name:    "release build",
			version: "v0.3.1", commit: "9f2c1e4", built: "2026-10-01T12:00:00Z",
			want:    []string{"voiceturn version v0.3.1", "commit: 9f2c1e4", "built: 2026-10-01T12:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved := [3]string{Version, GitCommit, BuildTime}
			t.Cleanup(func() { Version, GitCommit, BuildTime = saved[0], saved[1], saved[2] })
			Version, GitCommit, BuildTime = tt.version, tt.commit, tt.built

			info := GetVersionInfo()
			for _, w := range append(tt.want, "go: "+runtime.Version()) {
				if !strings.Contains(info, w) {
					t.Errorf("GetVersionInfo() = %q, missing %q", info, w)
				}
			}
		})
	}
}
