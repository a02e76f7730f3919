package cmd

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/offlinefirst/stepcapture/pkg/coords"
	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
	"github.com/offlinefirst/stepcapture/pkg/storage"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

func newTestRoot() (*RootCommand, *bytes.Buffer, *bytes.Buffer) {
	rc := NewRootCommand()
	var stdout, stderr bytes.Buffer
	rc.stdout = &stdout
	rc.stderr = &stderr
	return rc, &stdout, &stderr
}

func TestRootHelpListsCommands(t *testing.T) {
	rc, stdout, _ := newTestRoot()
	if err := rc.Execute(nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, name := range []string{"record", "serve", "watch", "tutorials", "export", "delete", "doctor", "version"} {
		if !strings.Contains(stdout.String(), "  "+name) {
			t.Fatalf("help is missing %q:\n%s", name, stdout.String())
		}
	}
}

func TestRootUnknownCommand(t *testing.T) {
	rc, _, stderr := newTestRoot()
	if err := rc.Execute([]string{"bundle"}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if !strings.Contains(stderr.String(), `Unknown command "bundle"`) {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	origVersion, origGOOS := runtimeVersion, runtimeGOOS
	runtimeVersion = func() string { return "go1.25.0" }
	runtimeGOOS = func() string { return "linux" }
	defer func() { runtimeVersion, runtimeGOOS = origVersion, origGOOS }()

	rc, stdout, _ := newTestRoot()
	// A missing explicit config would fail if version loaded it.
	if err := rc.Execute([]string{"--config", "does-not-exist.yaml", "version"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "stepcapture ") || !strings.Contains(stdout.String(), "(go1.25.0/linux)") {
		t.Fatalf("unexpected version output %q", stdout.String())
	}
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	rc, _, _ := newTestRoot()
	err := rc.Execute([]string{"--log-level", "loud", "doctor"})
	if err == nil {
		t.Fatalf("expected log level error")
	}
}

func TestRootHelpForCommand(t *testing.T) {
	rc, stdout, _ := newTestRoot()
	if err := rc.Execute([]string{"help", "record"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "Usage: stepcapture record [flags]") || !strings.Contains(out, "-plan-only") {
		t.Fatalf("unexpected command help:\n%s", out)
	}
}

func TestRootConfigFromEnvironment(t *testing.T) {
	orig := lookupEnv
	defer func() { lookupEnv = orig }()
	lookupEnv = func(key string) (string, bool) {
		if key == configEnv {
			return "missing-from-env.yaml", true
		}
		return "", false
	}

	rc, _, _ := newTestRoot()
	err := rc.Execute([]string{"doctor"})
	if err == nil || !strings.Contains(err.Error(), "missing-from-env.yaml") {
		t.Fatalf("expected env config path to be loaded, got %v", err)
	}
}

func TestDoctorReportsBackends(t *testing.T) {
	origEnv, origLook := lookupEnv, lookPath
	defer func() { lookupEnv, lookPath = origEnv, origLook }()
	lookupEnv = func(key string) (string, bool) {
		if key == "STEPCAPTURE_SCREEN_RECORDING" {
			return "denied", true
		}
		return "", false
	}
	lookPath = func(string) (string, error) { return "/usr/local/bin/tesseract", nil }

	ctx := &AppContext{Config: testConfig(t), Logger: newTestLogger()}
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	newDoctorCommand().configure(fs)
	if err := fs.Parse([]string{"-script", "flow.jsonl"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	var stdout bytes.Buffer
	if err := runDoctor(fs, nil, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("doctor: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{
		"screen recording",
		"denied",
		"input             ok script",
		"screenshots       unavailable synthetic",
		"ocr               ok tesseract",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in doctor output:\n%s", want, out)
		}
	}
}

func TestTutorialsListsIndex(t *testing.T) {
	cfg := testConfig(t)
	ctx := &AppContext{Config: cfg, Logger: newTestLogger()}

	origTime := timeNow
	timeNow = func() time.Time { return recordedAt.Add(3 * time.Hour) }
	defer func() { timeNow = origTime }()

	runList := func(args ...string) string {
		t.Helper()
		fs := flag.NewFlagSet("tutorials", flag.ContinueOnError)
		newTutorialsCommand().configure(fs)
		if err := fs.Parse(args); err != nil {
			t.Fatalf("parse: %v", err)
		}
		var stdout bytes.Buffer
		if err := runTutorials(fs, nil, ctx, &stdout, io.Discard); err != nil {
			t.Fatalf("tutorials: %v", err)
		}
		return stdout.String()
	}

	if out := runList(); !strings.Contains(out, "No tutorials indexed") {
		t.Fatalf("expected empty listing, got %q", out)
	}

	index, err := storage.OpenIndex(context.Background(), cfg.Paths.IndexPath)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	ended := recordedAt.Add(90 * time.Second)
	session := tutorial.Session{
		ID:        "session-1",
		Title:     "Login flow",
		State:     lifecycle.Stopped,
		StartedAt: recordedAt,
		EndedAt:   &ended,
		Monitors:  []coords.Monitor{{ID: 1, Width: 1920, Height: 1080, Primary: true}},
		Steps: []tutorial.Step{
			{ID: 1, Type: tutorial.StepSpecialKey, Timestamp: recordedAt, Description: "Press Enter"},
		},
	}
	if err := index.Save(context.Background(), session, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	index.Close()

	out := runList()
	for _, want := range []string{"session-1", "Login flow", "STOPPED", "1m30s", "3 hours ago"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in listing:\n%s", want, out)
		}
	}
	if out := runList("-steps", "session-1"); !strings.Contains(out, "Step 1: Press Enter") {
		t.Fatalf("unexpected steps output %q", out)
	}
	if out := runList("-json"); !strings.Contains(out, `"title": "Login flow"`) {
		t.Fatalf("unexpected json output %q", out)
	}
}

func TestPipelineCloseJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var order []string
	p := &pipeline{closers: []func(context.Context) error{
		func(context.Context) error { order = append(order, "telemetry"); return boom },
		func(context.Context) error { order = append(order, "index"); return nil },
	}}
	if err := p.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if strings.Join(order, ",") != "index,telemetry" {
		t.Fatalf("unexpected close order %v", order)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}
