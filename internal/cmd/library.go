package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/offlinefirst/stepcapture/pkg/export"
	"github.com/offlinefirst/stepcapture/pkg/storage"
)

func newExportCommand() command {
	return command{
		name:        "export",
		description: "Export a tutorial as Markdown or HTML",
		configure: func(fs *flag.FlagSet) {
			fs.String("format", string(export.Markdown), "Output format (markdown, html)")
			fs.String("out", "", "Output file, or - for stdout (default: <tutorial>/output/<title><ext>)")
			fs.Bool("embed", true, "Inline screenshots into HTML exports")
			fs.Bool("all", false, "Export every saved tutorial")
		},
		run: runExport,
	}
}

func runExport(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	format, err := export.ParseFormat(stringFlag(fs, "format"))
	if err != nil {
		return err
	}
	files, err := openFiles(ctx)
	if err != nil {
		return err
	}
	out := stringFlag(fs, "out")
	embed := boolFlag(fs, "embed")

	if boolFlag(fs, "all") {
		if len(args) > 0 || out != "" {
			return errors.New("--all takes no tutorial id or --out")
		}
		all, err := files.Tutorials()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Fprintf(stdout, "No tutorials in %s\n", ctx.Config.Paths.TutorialsDir)
			return nil
		}
		for _, t := range all {
			path, err := writeExport(t, format, "", embed, stdout)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s %s\n", headerStyle.Render("Exported"), path)
		}
		return nil
	}

	if len(args) != 1 {
		return errors.New("usage: stepcapture export [flags] <session-id>")
	}
	t, err := files.Load(args[0])
	if err != nil {
		return err
	}
	path, err := writeExport(t, format, out, embed, stdout)
	if err != nil {
		return err
	}
	if path != "-" {
		fmt.Fprintf(stdout, "%s %q (%d steps) to %s\n", headerStyle.Render("Exported"), t.Manifest.Metadata.Title, len(t.Steps), path)
	}
	return nil
}

// writeExport renders t to out, defaulting to the tutorial's output
// directory. Screenshot links are relative to the written file.
func writeExport(t storage.Tutorial, format export.Format, out string, embed bool, stdout io.Writer) (string, error) {
	opts := export.Options{Embed: embed}
	if out == "-" {
		return out, export.Render(stdout, t, format, opts)
	}
	if out == "" {
		out = filepath.Join(t.Layout.Root, "output", export.Filename(t.Manifest, format))
	}
	if rel, err := filepath.Rel(filepath.Dir(out), t.Layout.ScreensDir); err == nil {
		opts.ImageBase = filepath.ToSlash(rel) + "/"
	} else {
		opts.ImageBase = filepath.ToSlash(t.Layout.ScreensDir) + "/"
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	file, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	if err := export.Render(file, t, format, opts); err != nil {
		file.Close()
		return "", fmt.Errorf("render %s: %w", out, err)
	}
	return out, file.Close()
}

func newDeleteCommand() command {
	return command{
		name:        "delete",
		description: "Delete a tutorial, or one of its steps",
		configure: func(fs *flag.FlagSet) {
			fs.String("step", "", "Delete only the step with this id; other step ids are kept")
		},
		run: runDelete,
	}
}

func runDelete(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	if len(args) != 1 {
		return errors.New("usage: stepcapture delete [flags] <session-id>")
	}
	id := args[0]
	files, err := openFiles(ctx)
	if err != nil {
		return err
	}
	bg := context.Background()
	index, err := storage.OpenIndex(bg, ctx.Config.Paths.IndexPath)
	if err != nil {
		return err
	}
	defer index.Close()
	library, err := storage.NewLibrary(files, index)
	if err != nil {
		return err
	}

	if raw := stringFlag(fs, "step"); raw != "" {
		stepID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid step id %q", raw)
		}
		if err := library.DeleteStep(bg, id, stepID); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s step %d from %s\n", headerStyle.Render("Deleted"), stepID, id)
		return nil
	}

	t, err := files.Load(id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := library.Delete(bg, id); err != nil {
		return err
	}
	if t.Manifest.SessionID == "" {
		fmt.Fprintf(stdout, "%s %s from the index\n", headerStyle.Render("Deleted"), id)
		return nil
	}
	fmt.Fprintf(stdout, "%s %q (%s steps, recorded %s)\n", headerStyle.Render("Deleted"),
		t.Manifest.Metadata.Title, humanize.Comma(int64(len(t.Steps))), humanize.RelTime(t.Manifest.Status.StartedAt, timeNow(), "ago", "from now"))
	return nil
}

func openFiles(ctx *AppContext) (*storage.FileStore, error) {
	host, err := hostname()
	if err != nil {
		host = "unknown"
	}
	return storage.NewFileStore(storage.FileOptions{
		Dir:      ctx.Config.Paths.TutorialsDir,
		Hostname: host,
		Clock:    timeNow,
		Logger:   ctx.Logger,
	})
}
