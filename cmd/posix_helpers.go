package cmd

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Haggus/RoyalUr.net/pkg/posix"
)

var posixUsage = map[string]string{
	"rm":    "rm [-rf] <path>...",
	"mkdir": "mkdir [-p] <path>...",
	"cp":    "cp <source>... <dest>",
}

// newPosixCmd exposes one of the in-process POSIX helpers that the build uses instead of the
// system's tools.
func newPosixCmd(name string) *cobra.Command {
	return &cobra.Command{
		Use:    posixUsage[name],
		Short:  "A cross-platform implementation of the POSIX " + name + " command",
		Hidden: true,
		// the helper parses its own flags
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve the current working directory")
			}

			cmd.SilenceUsage = true
			return posix.Run(wd, append([]string{name}, args...))
		},
	}
}
