// Package settings holds the tool-level options that aren't part of the build config itself.
package settings

import (
	"github.com/cristalhq/aconfig"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Settings describes all tool options. Every field can be overridden through a SITEBUILD_*
// environment variable; command line flags take precedence over both.
type Settings struct {
	Config   string `default:"compilation.json" usage:"Build config to load (searched in all parent directories)"`
	Target   string `default:"compiled" usage:"Directory the build is written to"`
	LogLevel string `default:"info" usage:"Log level (debug, info, warn, error)"`
	Debug    bool   `default:"false" usage:"Include stack traces in error messages"`
	Progress bool   `default:"true" usage:"Show progress bars (always hidden when CI=true)"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Load applies the defaults and the environment.
func Load() (*Settings, error) {
	s := Settings{}
	loader := aconfig.LoaderFor(&s, aconfig.Config{
		SkipFiles: true,
		SkipFlags: true,
		EnvPrefix: "SITEBUILD",
	})

	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load settings")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate verifies that all fields have valid values
func (s *Settings) Validate() error {
	if _, ok := logLevels[s.LogLevel]; !ok {
		return eris.Errorf("invalid log level: %s", s.LogLevel)
	}

	if s.Config == "" {
		return eris.New("config path can't be empty")
	}

	if s.Target == "" {
		return eris.New("target directory can't be empty")
	}
	return nil
}

// Level returns the zerolog level for LogLevel.
func (s *Settings) Level() zerolog.Level {
	level, ok := logLevels[s.LogLevel]
	if !ok {
		return zerolog.InfoLevel
	}
	return level
}
