package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/feed"
	"github.com/offlinefirst/stepcapture/pkg/queue"
	"github.com/offlinefirst/stepcapture/pkg/session"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

const defaultTitle = "Untitled tutorial"

func newRecordCommand() command {
	return command{
		name:        "record",
		description: "Record a tutorial from a scripted or synthetic event source",
		configure: func(fs *flag.FlagSet) {
			fs.String("title", defaultTitle, "Tutorial title")
			fs.String("script", "", "Replay events from a JSONL script instead of the synthetic login flow")
			fs.Bool("pace", false, "Replay the script at its recorded speed")
			fs.Bool("plan-only", false, "Print the resolved configuration without recording")
		},
		run: runRecord,
	}
}

// notifySignals is declared for swapping in tests.
var notifySignals = func(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runRecord(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}

	title := stringFlag(fs, "title")
	if title == "" {
		title = defaultTitle
	}
	scriptPath := stringFlag(fs, "script")
	planOnly := boolFlag(fs, "plan-only")
	ctx.Logger.Info("record command invoked", "plan_only", planOnly, "title", title, "script", scriptPath, "tutorials_dir", ctx.Config.Paths.TutorialsDir)

	if planOnly {
		printRecordPlan(ctx, title, scriptPath, stdout)
		return nil
	}

	stdout = &syncWriter{w: stdout}
	runCtx, stop := notifySignals(context.Background())
	defer stop()

	var manager *session.Manager
	source, clock, err := openSource(scriptPath, boolFlag(fs, "pace"), func(_ context.Context, c events.Control) error {
		switch c {
		case events.ControlPause:
			_, err := manager.Pause()
			return err
		case events.ControlResume:
			_, err := manager.Resume()
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	p, err := buildPipeline(runCtx, ctx, clock.Now)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(context.Background()); err != nil {
			ctx.Logger.Warn("pipeline shutdown failed", "error", err)
		}
	}()
	manager = p.manager

	notes, cancel := manager.Subscribe(feed.DefaultBuffer * 4)
	var printer sync.WaitGroup
	printer.Add(1)
	go func() {
		defer printer.Done()
		for n := range notes {
			switch n.Kind {
			case feed.KindStep:
				if n.Step != nil {
					fmt.Fprintln(stdout, stepLine(*n.Step))
				}
			case feed.KindState:
				fmt.Fprintf(stdout, "%s %s\n", dimStyle.Render("state"), stateStyle(n.State).Render(string(n.State)))
			}
		}
	}()

	started, err := manager.StartNew(runCtx, title)
	if err != nil {
		cancel()
		printer.Wait()
		return fmt.Errorf("start session: %w", err)
	}
	fmt.Fprintf(stdout, "%s %q (%s)\n", headerStyle.Render("Recording"), started.Title, started.ID)

	var rejected int
	streamErr := source.Stream(runCtx, func(ev events.RawEvent) error {
		clock.observe(ev.Time())
		if manager.Enqueue(ev) == queue.Rejected {
			rejected++
		}
		return nil
	})
	if errors.Is(streamErr, context.Canceled) {
		ctx.Logger.Info("recording interrupted; finishing session")
		streamErr = nil
	}

	done, stopErr := manager.Stop(context.Background())
	cancel()
	printer.Wait()
	if done.ID == "" {
		return errors.Join(streamErr, fmt.Errorf("stop session: %w", stopErr))
	}

	printRecordSummary(p, done, rejected, stdout)
	if stopErr != nil {
		fmt.Fprintln(stdout, errorStyle.Render("warning: "+stopErr.Error()))
	}
	return errors.Join(streamErr, stopErr)
}

// openSource picks the event source. The returned clock follows the replayed
// timeline so pauses and elapsed time line up with event timestamps.
func openSource(scriptPath string, pace bool, onControl func(context.Context, events.Control) error) (events.EventSource, *replayClock, error) {
	start := timeNow().UTC()
	if scriptPath == "" {
		clock := &replayClock{now: start}
		return events.NewSynthetic(func() time.Time { return start }, 0), clock, nil
	}
	script, err := events.LoadScript(scriptPath, events.ScriptOptions{
		Clock:     func() time.Time { return start },
		Pace:      pace,
		OnControl: onControl,
	})
	if err != nil {
		return nil, nil, err
	}
	return script, &replayClock{now: start, follow: script.Now}, nil
}

// replayClock reports the newest replayed timestamp. When follow is set it
// defers to the source, which also advances on control lines.
type replayClock struct {
	mu     sync.Mutex
	now    time.Time
	follow func() time.Time
}

func (c *replayClock) Now() time.Time {
	if c.follow != nil {
		return c.follow()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) observe(ts time.Time) {
	c.mu.Lock()
	if ts.After(c.now) {
		c.now = ts
	}
	c.mu.Unlock()
}

func printRecordSummary(p *pipeline, done tutorial.Session, rejected int, stdout io.Writer) {
	end := done.StartedAt
	if done.EndedAt != nil {
		end = *done.EndedAt
	}
	fmt.Fprintf(stdout, "%s %q: %d steps, %s recorded\n", headerStyle.Render("Saved"), done.Title, len(done.Steps), done.Elapsed(end).Round(time.Second))

	if layout, err := p.files.LayoutFor(done); err == nil {
		fmt.Fprintf(stdout, "  directory: %s (%s)\n", layout.Root, humanize.Bytes(dirSize(layout.Root)))
		fmt.Fprintf(stdout, "  manifest: %s\n", layout.ManifestPath)
		fmt.Fprintf(stdout, "  steps: %s\n", layout.StepsPath)
		fmt.Fprintf(stdout, "  events: %s\n", layout.EventsPath)
	}

	var labelled, fallback, clamped int
	for _, step := range done.Steps {
		if step.Coordinates == nil {
			continue
		}
		if step.Fallback {
			fallback++
		} else {
			labelled++
		}
		if step.Clamped {
			clamped++
		}
	}
	fmt.Fprintf(stdout, "  clicks: %d labelled, %d positional, %d clamped\n", labelled, fallback, clamped)
	fmt.Fprintf(stdout, "  events: %d dropped on overflow, %d discarded while paused", done.DroppedEvents, done.DiscardedEvents)
	if rejected > 0 {
		fmt.Fprintf(stdout, ", %d rejected", rejected)
	}
	fmt.Fprintln(stdout)
}

// syncWriter serialises the live step printer with the command's own output.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func dirSize(root string) uint64 {
	var total uint64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

func printRecordPlan(ctx *AppContext, title, scriptPath string, stdout io.Writer) {
	cfg := ctx.Config
	source := "synthetic login flow"
	if scriptPath != "" {
		source = scriptPath
	}
	fmt.Fprintf(stdout, "Resolved configuration (source: %s)\n", cfg.Source)
	fmt.Fprintf(stdout, "  title: %s\n", title)
	fmt.Fprintf(stdout, "  events: %s\n", source)
	fmt.Fprintf(stdout, "  paths.tutorials_dir: %s\n", cfg.Paths.TutorialsDir)
	fmt.Fprintf(stdout, "  paths.index_path: %s\n", cfg.Paths.IndexPath)
	fmt.Fprintf(stdout, "  capture.queue_capacity: %d\n", cfg.Capture.QueueCapacity)
	fmt.Fprintf(stdout, "  capture.double_click_window: %s\n", cfg.Capture.DoubleClickWindow)
	fmt.Fprintf(stdout, "  capture.text_idle_gap: %s\n", cfg.Capture.TextIdleGap)
	fmt.Fprintf(stdout, "  capture.redact_emails: %t\n", cfg.Capture.RedactEmails)
	fmt.Fprintf(stdout, "  ocr.enabled: %t (engine %s, timeout %s, min confidence %.2f)\n", cfg.OCR.Enabled, cfg.OCR.Engine, cfg.OCR.Timeout, cfg.OCR.MinConfidence)
	fmt.Fprintf(stdout, "  screenshots.backend: %s (every %s, max %d/min)\n", cfg.Screenshots.Backend, cfg.Screenshots.Interval, cfg.Screenshots.MaxPerMinute)
	fmt.Fprintf(stdout, "  telemetry.enabled: %t\n", cfg.Telemetry.Enabled)
	fmt.Fprintf(stdout, "  logging.level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(stdout, "  logging.format: %s\n", cfg.Logging.Format)
}

func boolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	value, err := strconv.ParseBool(f.Value.String())
	if err != nil {
		return false
	}
	return value
}

func stringFlag(fs *flag.FlagSet, name string) string {
	f := fs.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}
