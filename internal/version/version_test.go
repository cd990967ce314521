package version

import (
	"runtime/debug"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApplyBuildInfo(t *testing.T) {
	t.Parallel()
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	var info Info
	applyBuildInfo(&info, bi)
	want := Info{
		Version:   "v1.2.3",
		Commit:    "0123456789abcdef0123",
		BuildTime: "2026-01-02T03:04:05Z",
		Modified:  true,
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Fatalf("build info (-want +got):\n%s", diff)
	}

	// ldflags values win over embedded ones.
	info = Info{Version: "release", Commit: "feed"}
	applyBuildInfo(&info, bi)
	if info.Version != "release" || info.Commit != "feed" {
		t.Fatalf("ldflags overridden: %+v", info)
	}
}

func TestDevelVersionIgnored(t *testing.T) {
	t.Parallel()
	var info Info
	applyBuildInfo(&info, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if info.Version != "" {
		t.Fatalf("version %q", info.Version)
	}
	if Resolve().Version == "" {
		t.Fatal("Resolve returned an empty version")
	}
}

func TestShortCommit(t *testing.T) {
	t.Parallel()
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("got %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
