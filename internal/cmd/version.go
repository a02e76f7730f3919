package cmd

import (
	"flag"
	"fmt"
	"io"

	"github.com/offlinefirst/stepcapture/internal/buildinfo"
)

func newVersionCommand() command {
	return command{
		name:        "version",
		description: "Print version, Go runtime and commit",
		skipInit:    true,
		run: func(_ *flag.FlagSet, _ []string, _ *AppContext, stdout io.Writer, _ io.Writer) error {
			line := "stepcapture " + versionString()
			if commit := buildinfo.Commit(); commit != "" {
				line += " commit " + commit
			}
			_, err := fmt.Fprintln(stdout, line)
			return err
		},
	}
}
