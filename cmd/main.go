package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Haggus/RoyalUr.net/pkg/buildsys"
	"github.com/Haggus/RoyalUr.net/pkg/config"
)

// buildFailure marks errors that happened during the build itself, as opposed to usage errors.
type buildFailure struct {
	err error
}

func (f *buildFailure) Error() string {
	return f.err.Error()
}

func (f *buildFailure) Unwrap() error {
	return f.err
}

// NewRootCmd returns the sitebuild command with all of its subcommands.
func NewRootCmd() *cobra.Command {
	modes := make([]string, len(buildsys.Modes))
	for idx, mode := range buildsys.Modes {
		modes[idx] = string(mode)
	}

	rootCmd := &cobra.Command{
		Use:   fmt.Sprintf("sitebuild <%s>", strings.Join(modes, "|")),
		Short: "Builds the site's scripts, resources, sprites and annotations",
		Long: `This command compiles the site into the target directory.

  dev      combines the scripts without minifying them and refreshes all other assets
  jsdev    only combines the scripts, unless the target is incomplete
  release  cleans the target and rebuilds everything with minified scripts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return eris.New("missing compilation mode")
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultFile, "build config to load (searched in all parent directories)")
	flags.StringP("target", "t", "compiled", "directory the build is written to")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("debug", false, "include stack traces in error messages")
	flags.Bool("progress", true, "show progress bars")

	rootCmd.AddCommand(newBuildCmd(buildsys.ModeDev, "Compiles a development build"))
	rootCmd.AddCommand(newBuildCmd(buildsys.ModeScripts, "Only recombines the scripts"))
	rootCmd.AddCommand(newReleaseCmd())

	for _, name := range []string{"rm", "mkdir", "cp"} {
		rootCmd.AddCommand(newPosixCmd(name))
	}

	return rootCmd
}

// exitCode maps the result of the root command to the process' exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var failure *buildFailure
	if errors.As(err, &failure) {
		return 2
	}
	return 1
}

func Execute() {
	os.Exit(exitCode(NewRootCmd().Execute()))
}
