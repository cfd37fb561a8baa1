package buildsys

import (
	"context"

	"github.com/rs/zerolog"
)

type logKey struct{}

var nopLogger = zerolog.Nop()

func log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		return &nopLogger
	}

	return logger.(*zerolog.Logger)
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// withMode returns a context whose logger tags every event with the build mode.
func withMode(ctx context.Context, mode Mode) context.Context {
	logger := log(ctx).With().Str("mode", string(mode)).Logger()
	return WithLogger(ctx, &logger)
}

// nested marks all events of a build that runs inside another one.
func nested(ctx context.Context) context.Context {
	logger := log(ctx).With().Bool("nested", true).Logger()
	return WithLogger(ctx, &logger)
}
