package buildsys

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/Haggus/RoyalUr.net/pkg/config"
	"github.com/Haggus/RoyalUr.net/pkg/sprites"
)

// Mode selects which steps a build runs.
type Mode string

const (
	// ModeDev combines scripts without minifying them and refreshes resources, sprites and
	// annotations without cleaning the target first.
	ModeDev Mode = "dev"
	// ModeScripts only recombines the scripts. Falls back to a release build first if the
	// target looks incomplete.
	ModeScripts Mode = "jsdev"
	// ModeRelease rebuilds everything from scratch.
	ModeRelease Mode = "release"
)

// Modes lists all valid modes.
var Modes = []Mode{ModeDev, ModeScripts, ModeRelease}

// Builder runs the build steps for one config. Steps run strictly in sequence and the first
// failure aborts the build; nothing is rolled back.
type Builder struct {
	Config config.BuildConfig
	// Target is the output directory. Relative paths are resolved against Config.Base.
	Target string
	Runner Collaborator

	Progress    bool
	Precompress bool
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

func (b *Builder) targetPath() string {
	return b.Config.Path(b.Target)
}

func runSteps(ctx context.Context, steps []step) error {
	for idx, s := range steps {
		log(ctx).Info().Msgf("%d. %s", idx+1, s.name)

		err := s.run(ctx)
		if err != nil {
			return eris.Wrapf(err, "step %q failed", s.name)
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Build runs the given mode.
func (b *Builder) Build(ctx context.Context, mode Mode) error {
	switch mode {
	case ModeRelease:
		return b.Release(ctx)
	case ModeDev:
		return b.Dev(ctx)
	case ModeScripts:
		return b.ScriptsOnly(ctx)
	}
	return eris.Errorf("invalid compilation mode %s", mode)
}

// Release cleans the target and rebuilds everything with minified scripts.
func (b *Builder) Release(ctx context.Context) error {
	ctx = withMode(ctx, ModeRelease)
	log(ctx).Info().Msg("Compiling Release Build")

	var placements sprites.Placements
	steps := []step{
		{"Clean", b.Clean},
		{"Combine & Minify Javascript", func(ctx context.Context) error {
			return b.CombineScripts(ctx, true)
		}},
		{"Copy Resource Files", b.CopyResources},
		{"Create Sprites", func(ctx context.Context) (err error) {
			placements, err = b.PackSprites(ctx)
			return err
		}},
		{"Create Annotations File", func(ctx context.Context) error {
			return b.WriteAnnotations(ctx, placements)
		}},
	}
	if b.Precompress {
		steps = append(steps, step{"Precompress Outputs", b.PrecompressOutputs})
	}

	err := runSteps(ctx, steps)
	if err != nil {
		return eris.Wrap(err, "release build failed")
	}

	log(ctx).Info().Msg("Done!")
	return nil
}

// Dev rebuilds everything except that scripts aren't minified and the target isn't cleaned.
func (b *Builder) Dev(ctx context.Context) error {
	ctx = withMode(ctx, ModeDev)
	log(ctx).Info().Msg("Compiling Development Build")

	var placements sprites.Placements
	err := runSteps(ctx, []step{
		{"Combine Javascript", func(ctx context.Context) error {
			return b.CombineScripts(ctx, false)
		}},
		{"Copy Resource Files", b.CopyResources},
		{"Create Sprites", func(ctx context.Context) (err error) {
			placements, err = b.PackSprites(ctx)
			return err
		}},
		{"Create Annotations File", func(ctx context.Context) error {
			return b.WriteAnnotations(ctx, placements)
		}},
	})
	if err != nil {
		return eris.Wrap(err, "development build failed")
	}

	log(ctx).Info().Msg("Done!")
	return nil
}

// ScriptsOnly recombines the scripts. If any resource or the manifest is missing from the
// target, a full release build runs first.
func (b *Builder) ScriptsOnly(ctx context.Context) error {
	modeCtx := withMode(ctx, ModeScripts)
	log(modeCtx).Info().Msg("Compiling Javascript Development Build")

	err := runSteps(modeCtx, []step{
		{"Check whether to revert to a Release Build", func(stepCtx context.Context) error {
			required, err := b.RequiresReleaseBuild(stepCtx)
			if err != nil {
				return err
			}

			if required {
				log(stepCtx).Error().Msg("Release build is required")
				// the nested build logs with its own mode
				return b.Release(nested(ctx))
			}
			return nil
		}},
		{"Combine Javascript", func(ctx context.Context) error {
			return b.CombineScripts(ctx, false)
		}},
	})
	if err != nil {
		return eris.Wrap(err, "javascript development build failed")
	}

	log(modeCtx).Info().Msg("Done!")
	return nil
}
