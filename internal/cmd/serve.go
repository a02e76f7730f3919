package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sync"

	"github.com/offlinefirst/stepcapture/pkg/api"
	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/feed"
	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
	"github.com/offlinefirst/stepcapture/pkg/session"
	"github.com/offlinefirst/stepcapture/pkg/storage"
)

func newServeCommand() command {
	return command{
		name:        "serve",
		description: "Serve the control API and live step feed",
		configure: func(fs *flag.FlagSet) {
			fs.String("addr", "", "Listen address (default: server.addr)")
			fs.String("script", "", "Replay a JSONL script, paced, into every session started over the API")
		},
		run: runServe,
	}
}

func runServe(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	addr := stringFlag(fs, "addr")
	if addr == "" {
		addr = ctx.Config.Server.Addr
	}
	scriptPath := stringFlag(fs, "script")
	if scriptPath != "" {
		// Validate up front so a bad script fails before the listener opens.
		if _, err := events.LoadScript(scriptPath, events.ScriptOptions{}); err != nil {
			return err
		}
	}

	runCtx, stop := notifySignals(context.Background())
	defer stop()

	p, err := buildPipeline(runCtx, ctx, timeNow)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(context.Background()); err != nil {
			ctx.Logger.Warn("pipeline shutdown failed", "error", err)
		}
	}()

	library, err := storage.NewLibrary(p.files, p.index)
	if err != nil {
		return err
	}
	server, err := api.NewServer(api.Options{
		Controller:        p.manager,
		Index:             p.index,
		Library:           library,
		RequestsPerMinute: ctx.Config.Server.RequestsPerMinute,
		Logger:            ctx.Logger,
	})
	if err != nil {
		return err
	}

	var replays sync.WaitGroup
	if scriptPath != "" {
		replays.Add(1)
		go func() {
			defer replays.Done()
			replayIntoSessions(runCtx, p.manager, scriptPath, ctx)
		}()
	}

	fmt.Fprintf(stdout, "%s http://%s/v1 (step feed: ws://%s/v1/steps/ws)\n", headerStyle.Render("Serving"), addr, addr)
	serveErr := server.ListenAndServe(runCtx, addr)
	stop()
	replays.Wait()

	if st := p.manager.Status(); lifecycle.Active(st.State) {
		ctx.Logger.Info("stopping active session on shutdown", "session_id", st.SessionID)
		if _, err := p.manager.Stop(context.Background()); err != nil {
			ctx.Logger.Error("stop on shutdown failed", "session_id", st.SessionID, "error", err)
		}
	}
	return serveErr
}

var errReplayDone = errors.New("session no longer recording")

// replayIntoSessions streams the script into each session as it starts
// recording. Lifecycle lines in the script are ignored; the API owns them.
func replayIntoSessions(ctx context.Context, manager *session.Manager, scriptPath string, app *AppContext) {
	notes, cancel := manager.Subscribe(feed.DefaultBuffer)
	defer cancel()

	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			if n.Kind != feed.KindState || n.State != lifecycle.Recording || seen[n.SessionID] {
				continue
			}
			seen[n.SessionID] = true
			script, err := events.LoadScript(scriptPath, events.ScriptOptions{Clock: timeNow, Pace: true})
			if err != nil {
				app.Logger.Error("load replay script", "error", err)
				continue
			}
			go func(id string) {
				err := script.Stream(ctx, func(ev events.RawEvent) error {
					if st := manager.Status(); st.SessionID != id || !lifecycle.Active(st.State) {
						return errReplayDone
					}
					manager.Enqueue(ev)
					return nil
				})
				if err != nil && !errors.Is(err, errReplayDone) && ctx.Err() == nil {
					app.Logger.Warn("script replay stopped", "session_id", id, "error", err)
				}
			}(n.SessionID)
		}
	}
}
