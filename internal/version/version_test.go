package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
	if !strings.HasPrefix(info.String(), "gethkeeper "+info.Version+" (") {
		t.Errorf("String() = %q", info.String())
	}
	if String() != info.Version {
		t.Errorf("String() = %q, want %q", String(), info.Version)
	}
}

func TestFillFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2025-01-27T10:30:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	tests := []struct {
		name string
		in   Info
		want Info
	}{
		{
			name: "unset",
			in:   Info{Version: "dev", GitCommit: unknown, BuildDate: unknown},
			want: Info{Version: "v1.4.0", GitCommit: "0123456", BuildDate: "2025-01-27T10:30:00Z", Modified: true},
		},
		{
			name: "ldflags win",
			in:   Info{Version: "1.5.0", GitCommit: "fedcba9", BuildDate: "2025-02-01"},
			want: Info{Version: "1.5.0", GitCommit: "fedcba9", BuildDate: "2025-02-01", Modified: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			fillFromBuildInfo(&got, bi)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInfoStringDirty(t *testing.T) {
	i := Info{Version: "1.0.0", GitCommit: "abc1234", BuildDate: "2025-01-27", Modified: true, GoVersion: "go1.24", Platform: "linux/amd64"}
	if want := "gethkeeper 1.0.0 (abc1234-dirty, 2025-01-27) go1.24 linux/amd64"; i.String() != want {
		t.Errorf("String() = %q, want %q", i.String(), want)
	}
}
