package cmd

import (
	"flag"
	"fmt"
	"io"

	"github.com/offlinefirst/stepcapture/pkg/events"
	"github.com/offlinefirst/stepcapture/pkg/ocr"
	"github.com/offlinefirst/stepcapture/pkg/permissions"
	"github.com/offlinefirst/stepcapture/pkg/screenshots"
)

// lookPath resolves OCR binaries; tests pin it.
var lookPath func(string) (string, error)

func newDoctorCommand() command {
	return command{
		name:        "doctor",
		description: "Report permissions and capture backend availability",
		configure: func(fs *flag.FlagSet) {
			fs.String("script", "", "Check input as if replaying this script")
		},
		run: runDoctor,
	}
}

func runDoctor(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	cfg := ctx.Config

	fmt.Fprintln(stdout, headerStyle.Render("Permissions"))
	for _, probe := range permissions.ProbeAll(lookupEnv) {
		fmt.Fprintf(stdout, "  %-17s %s", probe.Surface, statusText(probe.Usable(), probe.StatusString()))
		if probe.Message != "" {
			fmt.Fprintf(stdout, " %s", dimStyle.Render(probe.Message))
		}
		fmt.Fprintln(stdout)
		if probe.Guidance != "" {
			fmt.Fprintf(stdout, "    %s\n", probe.Guidance)
		}
	}

	fmt.Fprintln(stdout, headerStyle.Render("Backends"))
	input := events.DetectEnvironment(stringFlag(fs, "script"), lookupEnv)
	printBackend(stdout, "input", input.Provider, input.Available, input.Message, input.Guidance)

	shots := screenshots.DetectEnvironment(cfg.Screenshots.Backend, lookupEnv)
	printBackend(stdout, "screenshots", shots.Provider, shots.Available, shots.Message, shots.Guidance)

	text := ocr.DetectEnvironment(ocr.DetectorOptions{
		Enabled:         cfg.OCR.Enabled,
		TesseractBinary: cfg.OCR.TesseractBinary,
		LookPath:        lookPath,
	})
	printBackend(stdout, "ocr", text.Provider, text.Available, text.Message, "")
	for _, hint := range text.Guidance {
		fmt.Fprintf(stdout, "    %s\n", hint)
	}

	ctx.Logger.Info("doctor completed", "input", input.Provider, "screenshots", shots.Provider, "ocr", text.Provider, "ocr_available", text.Available)
	return nil
}

func printBackend(w io.Writer, name, provider string, available bool, message, guidance string) {
	state := "unavailable"
	if available {
		state = "ok"
	}
	fmt.Fprintf(w, "  %-17s %s %s", name, statusText(available, state), provider)
	if message != "" {
		fmt.Fprintf(w, " %s", dimStyle.Render("("+message+")"))
	}
	fmt.Fprintln(w)
	if guidance != "" {
		fmt.Fprintf(w, "    %s\n", guidance)
	}
}

func statusText(ok bool, text string) string {
	if ok {
		return activeStyle.Render(text)
	}
	return errorStyle.Render(text)
}
