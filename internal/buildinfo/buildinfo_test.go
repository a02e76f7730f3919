package buildinfo

import (
	"runtime/debug"
	"testing"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo) {
	t.Helper()
	orig, origVersion := readBuildInfo, version
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
	t.Cleanup(func() { readBuildInfo, version = orig, origVersion })
}

func TestVersionPrecedence(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v0.3.1"}})
	if got := Version(); got != "v0.3.1" {
		t.Fatalf("expected module version, got %q", got)
	}
	version = "v9.9.9"
	if got := Version(); got != "v9.9.9" {
		t.Fatalf("expected ldflags version, got %q", got)
	}
}

func TestVersionDevelFallsBackToDev(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if got := Version(); got != "dev" {
		t.Fatalf("expected dev, got %q", got)
	}
}

func TestCommit(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "true"},
	}})
	if got := Commit(); got != "0123456789ab+dirty" {
		t.Fatalf("unexpected commit %q", got)
	}

	stubBuildInfo(t, nil)
	if got := Commit(); got != "" {
		t.Fatalf("expected empty commit, got %q", got)
	}
}
