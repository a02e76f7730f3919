package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/offlinefirst/stepcapture/internal/buildinfo"
	"github.com/offlinefirst/stepcapture/pkg/config"
	"github.com/offlinefirst/stepcapture/pkg/logging"
)

// configEnv names the environment variable consulted when --config is absent.
const configEnv = "STEPCAPTURE_CONFIG"

type runFunc func(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error

type command struct {
	name        string
	description string
	configure   func(fs *flag.FlagSet)
	run         runFunc
	// skipInit commands run without configuration or a logger.
	skipInit bool
}

// AppContext carries the resolved configuration and logger handed to commands.
type AppContext struct {
	Config config.Config
	Logger *slog.Logger
}

// globalOptions are parsed before the subcommand name.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *globalOptions) bind(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to config file (default: $"+configEnv+" or ./config.yaml)")
	fs.StringVar(&o.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	fs.StringVar(&o.logFormat, "log-format", "", "Override log output format (json, console)")
}

// RootCommand dispatches the stepcapture subcommands.
type RootCommand struct {
	order    []string
	commands map[string]command
	stdout   io.Writer
	stderr   io.Writer
	opts     globalOptions
	app      *AppContext
}

// NewRootCommand registers every subcommand.
func NewRootCommand() *RootCommand {
	rc := &RootCommand{
		commands: make(map[string]command),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, cmd := range []command{
		newRecordCommand(),
		newServeCommand(),
		newWatchCommand(),
		newTutorialsCommand(),
		newExportCommand(),
		newDeleteCommand(),
		newDoctorCommand(),
		newVersionCommand(),
	} {
		rc.order = append(rc.order, cmd.name)
		rc.commands[cmd.name] = cmd
	}
	return rc
}

// Execute parses global flags and runs the named subcommand with the rest.
func (rc *RootCommand) Execute(args []string) error {
	global := flag.NewFlagSet("stepcapture", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	rc.opts.bind(global)

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			rc.usage(global)
			return nil
		}
		fmt.Fprintln(rc.stderr, err)
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		rc.usage(global)
		return nil
	}
	if rest[0] == "help" {
		if len(rest) > 1 {
			if cmd, ok := rc.commands[rest[1]]; ok {
				rc.commandFlags(cmd).Usage()
				return nil
			}
		}
		rc.usage(global)
		return nil
	}

	cmd, ok := rc.commands[rest[0]]
	if !ok {
		fmt.Fprintf(rc.stderr, "Unknown command %q\n\n", rest[0])
		rc.usage(global)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	fs := rc.commandFlags(cmd)
	if err := fs.Parse(rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	var app *AppContext
	if !cmd.skipInit {
		var err error
		if app, err = rc.appContext(); err != nil {
			return err
		}
	}
	return cmd.run(fs, fs.Args(), app, rc.stdout, rc.stderr)
}

func (rc *RootCommand) commandFlags(cmd command) *flag.FlagSet {
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(rc.stderr)
	if cmd.configure != nil {
		cmd.configure(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(rc.stdout, "Usage: stepcapture %s [flags]\n", cmd.name)
		if cmd.description != "" {
			fmt.Fprintln(rc.stdout, cmd.description)
		}
		fs.SetOutput(rc.stdout)
		fs.PrintDefaults()
		fs.SetOutput(rc.stderr)
	}
	return fs
}

// appContext loads configuration once, applies the global overrides and
// builds the logger.
func (rc *RootCommand) appContext() (*AppContext, error) {
	if rc.app != nil {
		return rc.app, nil
	}

	path := rc.opts.configPath
	if path == "" {
		if env, ok := lookupEnv(configEnv); ok {
			path = strings.TrimSpace(env)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := rc.applyOverrides(&cfg); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: rc.stderr,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("configuration loaded",
		"source", cfg.Source,
		"tutorials_dir", cfg.Paths.TutorialsDir,
		"index_path", cfg.Paths.IndexPath,
	)

	rc.app = &AppContext{Config: cfg, Logger: logger}
	return rc.app, nil
}

func (rc *RootCommand) applyOverrides(cfg *config.Config) error {
	if rc.opts.logLevel != "" {
		level, err := config.NormalizeLogLevel(rc.opts.logLevel)
		if err != nil {
			return err
		}
		cfg.Logging.Level = level
	}
	if rc.opts.logFormat != "" {
		format, err := config.NormalizeFormat(rc.opts.logFormat)
		if err != nil {
			return err
		}
		cfg.Logging.Format = format
	}
	return nil
}

func (rc *RootCommand) usage(global *flag.FlagSet) {
	fmt.Fprintf(rc.stdout, "stepcapture - record click-by-click tutorials\nVersion: %s\n\n", versionString())
	fmt.Fprintln(rc.stdout, "Usage: stepcapture [global flags] <command> [command flags]")
	fmt.Fprintln(rc.stdout, "       stepcapture help <command>")
	fmt.Fprintln(rc.stdout, "\nGlobal flags:")
	global.VisitAll(func(f *flag.Flag) {
		fmt.Fprintf(rc.stdout, "  --%-12s %s\n", f.Name, f.Usage)
	})
	fmt.Fprintln(rc.stdout, "\nCommands:")
	for _, name := range rc.order {
		fmt.Fprintf(rc.stdout, "  %-10s %s\n", name, rc.commands[name].description)
	}
}

func versionString() string {
	return fmt.Sprintf("%s (%s/%s)", buildinfo.Version(), runtimeVersion(), runtimeGOOS())
}

// Swapped in tests.
var (
	runtimeVersion = runtime.Version
	runtimeGOOS    = func() string { return runtime.GOOS }
)
