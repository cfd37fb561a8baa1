package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"

	"github.com/Haggus/RoyalUr.net/pkg"
	"github.com/Haggus/RoyalUr.net/pkg/annotations"
	"github.com/Haggus/RoyalUr.net/pkg/compress"
	"github.com/Haggus/RoyalUr.net/pkg/config"
	"github.com/Haggus/RoyalUr.net/pkg/sprites"
)

// ScriptFile is the name of the combined script inside the target directory.
const ScriptFile = "index.js"

// Clean deletes the target directory and recreates it empty.
func (b *Builder) Clean(ctx context.Context) error {
	err := b.run(ctx, "rm", "-rf", b.Target)
	if err != nil {
		return err
	}

	return b.run(ctx, "mkdir", b.Target)
}

// CombineScripts concatenates all scripts into the target's index.js. If minify is set, the
// result is piped through the minifier first and the tools see NODE_ENV=production.
func (b *Builder) CombineScripts(ctx context.Context, minify bool) error {
	err := b.run(ctx, "mkdir", "-p", b.Target)
	if err != nil {
		return err
	}

	spec := CommandSpec{
		Stages: [][]string{b.Config.BundlerCommand()},
		Output: filepath.Join(b.Target, ScriptFile),
		Env:    map[string]string{"NODE_ENV": "development"},
	}
	if minify {
		spec.Stages = append(spec.Stages, b.Config.MinifierCommand())
		spec.Env["NODE_ENV"] = "production"
	}

	_, err = b.Runner.Run(ctx, spec)
	return err
}

// CopyResources copies every resource file to its destination inside the target directory.
func (b *Builder) CopyResources(ctx context.Context) error {
	files := b.Config.ResourceFiles()
	bar := pkg.NewProgressBar(len(files), "Copying resources", b.Progress)
	defer bar.Finish()

	madeDirs := map[string]bool{}
	for _, file := range files {
		dest := filepath.Join(b.Target, file.Dest)

		dir := filepath.Dir(dest)
		if !madeDirs[dir] {
			err := b.run(ctx, "mkdir", "-p", dir)
			if err != nil {
				return err
			}
			madeDirs[dir] = true
		}

		err := b.run(ctx, "cp", file.Source, dest)
		if err != nil {
			return err
		}

		bar.Add(1)
	}

	return nil
}

// PackSprites builds all sprite sheets and returns the placements of their images.
func (b *Builder) PackSprites(ctx context.Context) (sprites.Placements, error) {
	bar := pkg.NewProgressBar(len(b.Config.Sprites), "Packing sprites", b.Progress)
	defer bar.Finish()

	packer := sprites.Packer{
		Base:   b.Config.Base,
		Target: b.targetPath(),
		OnSheet: func(sheet string) {
			log(ctx).Info().Str("path", sheet).Msgf("Created %s", sheet)
			bar.Add(1)
		},
	}

	return packer.Pack(ctx, b.Config.Sprites)
}

// WriteAnnotations combines the sprite placements with the configured annotation files and
// writes the manifest.
func (b *Builder) WriteAnnotations(ctx context.Context, placements sprites.Placements) error {
	manifest, err := annotations.Combine(b.Config.Base, b.Config.Annotations, annotations.Manifest{
		config.SpritesKey: placements,
	})
	if err != nil {
		return err
	}

	target := b.targetPath()
	err = annotations.Write(target, manifest)
	if err != nil {
		return err
	}

	log(ctx).Info().Str("path", annotations.ManifestPath(target)).Msgf("Wrote %d annotations", len(manifest))
	return nil
}

// PrecompressOutputs writes brotli compressed copies of the script and the manifest.
func (b *Builder) PrecompressOutputs(ctx context.Context) error {
	target := b.targetPath()
	files := []string{
		filepath.Join(target, ScriptFile),
		annotations.ManifestPath(target),
	}

	for _, file := range files {
		log(ctx).Info().Str("path", file).Msgf("Compressing %s", file)
	}
	return compress.Precompress(files...)
}

// RequiresReleaseBuild checks whether all resource files and the manifest exist in the target
// directory. It doesn't check whether any annotations or resource file contents have changed.
func (b *Builder) RequiresReleaseBuild(ctx context.Context) (bool, error) {
	target := b.targetPath()
	paths := []string{}
	for _, file := range b.Config.ResourceFiles() {
		paths = append(paths, filepath.Join(target, file.Dest))
	}
	paths = append(paths, annotations.ManifestPath(target))

	for _, path := range paths {
		_, err := os.Stat(path)
		if err == nil {
			continue
		}

		// a file in place of one of the parent directories means the destination is missing too
		if eris.Is(err, os.ErrNotExist) || eris.Is(err, syscall.ENOTDIR) {
			log(ctx).Debug().Str("path", path).Msgf("%s is missing", path)
			return true, nil
		}
		return false, eris.Wrapf(err, "failed to check %s", path)
	}

	return false, nil
}

func (b *Builder) run(ctx context.Context, args ...string) error {
	_, err := b.Runner.Run(ctx, CommandSpec{Stages: [][]string{args}})
	return err
}
