package cmd

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/offlinefirst/stepcapture/pkg/ocr"
	"github.com/offlinefirst/stepcapture/pkg/storage"
)

func parseCommandFlags(t *testing.T, cmd command, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	cmd.configure(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

// recordLoginFlow records the synthetic flow and returns its session id.
func recordLoginFlow(t *testing.T) (*AppContext, string) {
	t.Helper()
	signIn := ocr.RecognizerFunc(func(context.Context, image.Image) (ocr.Result, error) {
		return ocr.Result{Text: "Sign in", Confidence: 0.93, Engine: "fake"}, nil
	})
	pinHost(t, signIn)
	ctx := &AppContext{Config: testConfig(t), Logger: newTestLogger()}
	if err := runRecord(recordFlags(t, "-title", "Login flow"), nil, ctx, io.Discard, io.Discard); err != nil {
		t.Fatalf("record: %v", err)
	}

	index, err := storage.OpenIndex(context.Background(), ctx.Config.Paths.IndexPath)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer index.Close()
	list, err := index.List(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one indexed tutorial, got %v (%v)", list, err)
	}
	return ctx, list[0].ID
}

func TestExportWritesMarkdownNextToTutorial(t *testing.T) {
	ctx, id := recordLoginFlow(t)

	var stdout bytes.Buffer
	if err := runExport(parseCommandFlags(t, newExportCommand()), []string{id}, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("export: %v", err)
	}
	layout := storage.BuildLayout(ctx.Config.Paths.TutorialsDir, recordedAt.Format("20060102_150405"))
	path := filepath.Join(layout.Root, "output", "login-flow.md")
	if !strings.Contains(stdout.String(), path) {
		t.Fatalf("expected output path in %q", stdout.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	doc := string(data)
	for _, want := range []string{"# Login flow", `## Step 1`, `Click on "Sign in"`, "](../screenshots/", "> OCR confidence: 93%", "## Step 8"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected %q in export:\n%s", want, doc)
		}
	}
}

func TestExportHTMLToStdout(t *testing.T) {
	ctx, id := recordLoginFlow(t)

	var stdout bytes.Buffer
	fs := parseCommandFlags(t, newExportCommand(), "-format", "html", "-out", "-")
	if err := runExport(fs, []string{id}, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("export: %v", err)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "<!DOCTYPE html>") || !strings.Contains(out, `src="data:image/png;base64,`) {
		t.Fatalf("expected standalone html, got:\n%s", out)
	}
	if !strings.Contains(out, `class="click-marker"`) {
		t.Fatalf("expected click markers:\n%s", out)
	}

	if err := runExport(parseCommandFlags(t, newExportCommand(), "-format", "pdf"), []string{id}, ctx, io.Discard, io.Discard); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if err := runExport(parseCommandFlags(t, newExportCommand()), []string{"missing"}, ctx, io.Discard, io.Discard); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExportAll(t *testing.T) {
	ctx, _ := recordLoginFlow(t)

	var stdout bytes.Buffer
	if err := runExport(parseCommandFlags(t, newExportCommand(), "-all", "-format", "html"), nil, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("export all: %v", err)
	}
	if strings.Count(stdout.String(), "Exported") != 1 || !strings.Contains(stdout.String(), "login-flow.html") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestDeleteStepThenTutorial(t *testing.T) {
	ctx, id := recordLoginFlow(t)

	var stdout bytes.Buffer
	if err := runDelete(parseCommandFlags(t, newDeleteCommand(), "-step", "2"), []string{id}, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("delete step: %v", err)
	}
	if !strings.Contains(stdout.String(), "step 2 from "+id) {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	index, err := storage.OpenIndex(context.Background(), ctx.Config.Paths.IndexPath)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer index.Close()
	steps, err := index.Steps(context.Background(), id)
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	if len(steps) != 7 || steps[0].ID != 1 || steps[1].ID != 3 {
		t.Fatalf("step ids should be kept, got %+v", steps)
	}

	stdout.Reset()
	if err := runDelete(parseCommandFlags(t, newDeleteCommand()), []string{id}, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(stdout.String(), `"Login flow" (7 steps`) {
		t.Fatalf("unexpected output %q", stdout.String())
	}
	layout := storage.BuildLayout(ctx.Config.Paths.TutorialsDir, recordedAt.Format("20060102_150405"))
	if _, err := os.Stat(layout.Root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("tutorial directory should be removed")
	}
	if list, _ := index.List(context.Background()); len(list) != 0 {
		t.Fatalf("index should be empty, got %+v", list)
	}
	if err := runDelete(parseCommandFlags(t, newDeleteCommand()), []string{id}, ctx, io.Discard, io.Discard); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := runDelete(parseCommandFlags(t, newDeleteCommand(), "-step", "x"), []string{id}, ctx, io.Discard, io.Discard); err == nil {
		t.Fatalf("expected error for bad step id")
	}
}
