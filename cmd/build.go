package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Haggus/RoyalUr.net/pkg"
	"github.com/Haggus/RoyalUr.net/pkg/buildsys"
	"github.com/Haggus/RoyalUr.net/pkg/compress"
	"github.com/Haggus/RoyalUr.net/pkg/config"
	"github.com/Haggus/RoyalUr.net/pkg/settings"
)

type buildOptions struct {
	precompress bool
	archive     string
}

func newBuildCmd(mode buildsys.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, mode, buildOptions{})
		},
	}
}

func newReleaseCmd() *cobra.Command {
	opts := buildOptions{}
	releaseCmd := &cobra.Command{
		Use:   string(buildsys.ModeRelease),
		Short: "Cleans the target and compiles a release build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, buildsys.ModeRelease, opts)
		},
	}

	releaseCmd.Flags().BoolVar(&opts.precompress, "precompress", false, "write brotli compressed copies of the script and the annotations")
	releaseCmd.Flags().StringVar(&opts.archive, "archive", "", "write a .tar.xz archive of the finished build to this path")
	return releaseCmd
}

// loadSettings applies the defaults, the SITEBUILD_* environment and finally all flags the user
// passed explicitly.
func loadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	s, err := settings.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("config") {
		s.Config, _ = flags.GetString("config")
	}
	if flags.Changed("target") {
		s.Target, _ = flags.GetString("target")
	}
	if flags.Changed("log-level") {
		s.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("debug") {
		s.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("progress") {
		s.Progress, _ = flags.GetBool("progress")
	}

	err = s.Validate()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func runBuild(cmd *cobra.Command, mode buildsys.Mode, opts buildOptions) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	// from here on, errors are build failures and the usage doesn't help anyone
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	debug := s.Debug
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, debug)
	}

	logger := zerolog.New(NewConsoleWriter(cmd.ErrOrStderr(), s.Debug)).Level(s.Level())
	ctx := buildsys.WithLogger(context.Background(), &logger)
	pkg.Output = cmd.OutOrStdout()

	err = build(ctx, mode, s, opts)
	if err != nil {
		logger.Error().Err(err).Msgf("Failed to compile %s build", mode)
		pkg.PrintError("Build failed")
		return &buildFailure{err}
	}
	return nil
}

func build(ctx context.Context, mode buildsys.Mode, s *settings.Settings, opts buildOptions) error {
	wd, err := os.Getwd()
	if err != nil {
		return eris.Wrap(err, "failed to retrieve the current working directory")
	}

	configPath, err := config.Find(wd, s.Config)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	builder := buildsys.Builder{
		Config:      cfg,
		Target:      s.Target,
		Runner:      &buildsys.ShellCollaborator{Dir: cfg.Base},
		Progress:    s.Progress,
		Precompress: opts.precompress,
	}

	target := cfg.Path(s.Target)
	pkg.PrintTask("Compiling " + string(mode) + " build into " + target)

	err = builder.Build(ctx, mode)
	if err != nil {
		return err
	}

	if opts.archive != "" {
		dest, err := filepath.Abs(opts.archive)
		if err != nil {
			return eris.Wrapf(err, "failed to resolve %s", opts.archive)
		}

		pkg.PrintSubtask("Archiving " + target + " to " + dest)
		err = compress.ArchiveDir(target, dest)
		if err != nil {
			return err
		}
	}

	pkg.PrintSubtask("Finished " + string(mode) + " build")
	return nil
}
