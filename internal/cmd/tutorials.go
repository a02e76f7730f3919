package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/offlinefirst/stepcapture/pkg/storage"
)

func newTutorialsCommand() command {
	return command{
		name:        "tutorials",
		description: "List recorded tutorials from the index",
		configure: func(fs *flag.FlagSet) {
			fs.String("steps", "", "Print the steps of the tutorial with this session id")
			fs.Bool("json", false, "Emit JSON instead of a table")
		},
		run: runTutorials,
	}
}

func runTutorials(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	bg := context.Background()
	index, err := storage.OpenIndex(bg, ctx.Config.Paths.IndexPath)
	if err != nil {
		return err
	}
	defer index.Close()

	asJSON := boolFlag(fs, "json")
	if id := stringFlag(fs, "steps"); id != "" {
		steps, err := index.Steps(bg, id)
		if err != nil {
			return err
		}
		if asJSON {
			return writeIndented(stdout, steps)
		}
		if len(steps) == 0 {
			fmt.Fprintf(stdout, "No steps indexed for %s\n", id)
			return nil
		}
		for _, step := range steps {
			fmt.Fprintln(stdout, stepLine(step))
		}
		return nil
	}

	list, err := index.List(bg)
	if err != nil {
		return err
	}
	if asJSON {
		if list == nil {
			list = []storage.Summary{}
		}
		return writeIndented(stdout, list)
	}
	if len(list) == 0 {
		fmt.Fprintf(stdout, "No tutorials indexed in %s\n", ctx.Config.Paths.IndexPath)
		return nil
	}

	now := timeNow()
	fmt.Fprintln(stdout, headerStyle.Render(fmt.Sprintf("%-36s  %-28s  %-9s  %5s  %8s  %s", "ID", "TITLE", "STATE", "STEPS", "LENGTH", "RECORDED")))
	for _, s := range list {
		length := time.Duration(s.Duration * float64(time.Second)).Round(time.Second)
		fmt.Fprintf(stdout, "%-36s  %-28s  %-9s  %5d  %8s  %s\n",
			s.ID, truncate(s.Title, 28), s.State, s.StepCount, length, humanize.RelTime(s.StartedAt, now, "ago", "from now"))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
