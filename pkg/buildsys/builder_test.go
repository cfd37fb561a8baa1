package buildsys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haggus/RoyalUr.net/pkg/annotations"
	"github.com/Haggus/RoyalUr.net/pkg/config"
	"github.com/Haggus/RoyalUr.net/pkg/posix"
)

// fakeCollaborator records every command. Builtin helpers run for real so the file system
// reflects the build; other commands write their command line to the output file.
type fakeCollaborator struct {
	dir    string
	specs  []CommandSpec
	failOn string
}

func (f *fakeCollaborator) Run(ctx context.Context, spec CommandSpec) (Output, error) {
	f.specs = append(f.specs, spec)

	if f.failOn != "" && spec.Name() == f.failOn {
		return Output{}, &ProcessError{Command: spec.Name(), Code: 2}
	}

	if len(spec.Stages) == 1 && posix.Has(spec.Name()) {
		return Output{}, posix.Run(f.dir, spec.Stages[0])
	}

	if spec.Output != "" {
		lines := []string{}
		for _, stage := range spec.Stages {
			lines = append(lines, strings.Join(stage, " "))
		}

		err := os.WriteFile(filepath.Join(f.dir, spec.Output), []byte(strings.Join(lines, " | ")), 0o644)
		return Output{}, err
	}
	return Output{}, nil
}

func (f *fakeCollaborator) commands() []string {
	result := make([]string, len(f.specs))
	for idx, spec := range f.specs {
		result[idx] = spec.String()
	}
	return result
}

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeTestPNG(t *testing.T, dir, name string, width, height int) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.SetNRGBA(x, 0, color.NRGBA{G: 200, A: 255})
	}

	buffer := bytes.Buffer{}
	require.NoError(t, png.Encode(&buffer, img))
	writeTestFile(t, dir, name, buffer.String())
}

// newProject creates a small site with two scripts, two resources, one sprite group and one
// annotation file.
func newProject(t *testing.T) config.BuildConfig {
	t.Helper()
	dir := t.TempDir()

	writeTestFile(t, dir, "js/a.js", "var a = 1;\n")
	writeTestFile(t, dir, "js/b.js", "var b = 2;\n")
	writeTestFile(t, dir, "res/logo.svg", "<svg/>")
	writeTestFile(t, dir, "fonts/ur.woff", "font")
	writeTestFile(t, dir, "res/dice.json", `{"sides": 4}`)
	writeTestPNG(t, dir, "a.png", 10, 20)
	writeTestPNG(t, dir, "b.png", 5, 30)

	return config.BuildConfig{
		Javascript:  []string{"js/a.js", "js/b.js"},
		Resources:   map[string]string{"res/logo.svg": "", "fonts/ur.woff": "res/fonts/ur.woff"},
		Sprites:     map[string][]string{"out/sheet.png": {"a.png", "b.png"}},
		Annotations: map[string]string{"dice": "res/dice.json"},
		Bundler:     []string{"cat"},
		Minifier:    []string{"cat"},
		Base:        dir,
	}
}

func newBuilder(cfg config.BuildConfig) (*Builder, *fakeCollaborator) {
	runner := &fakeCollaborator{dir: cfg.Base}
	return &Builder{Config: cfg, Target: "compiled", Runner: runner}, runner
}

func TestBuildRejectsUnknownMode(t *testing.T) {
	builder, runner := newBuilder(newProject(t))
	require.Error(t, builder.Build(context.Background(), Mode("debug")))
	assert.Empty(t, runner.specs)
}

func TestReleaseBuildSequence(t *testing.T) {
	cfg := newProject(t)
	builder, runner := newBuilder(cfg)
	writeTestFile(t, cfg.Base, "compiled/stale.txt", "old")

	require.NoError(t, builder.Build(context.Background(), ModeRelease))

	stages := make([][]string, len(runner.specs))
	for idx, spec := range runner.specs {
		stages[idx] = spec.Stages[0]
	}

	assert.Equal(t, [][]string{
		{"rm", "-rf", "compiled"},
		{"mkdir", "compiled"},
		{"mkdir", "-p", "compiled"},
		{"cat", "js/a.js", "js/b.js"},
		{"mkdir", "-p", filepath.Join("compiled", "res", "fonts")},
		{"cp", "fonts/ur.woff", filepath.Join("compiled", "res", "fonts", "ur.woff")},
		{"mkdir", "-p", filepath.Join("compiled", "res")},
		{"cp", "res/logo.svg", filepath.Join("compiled", "res", "logo.svg")},
	}, stages)

	scripts := runner.specs[3]
	assert.Equal(t, [][]string{{"cat", "js/a.js", "js/b.js"}, {"cat"}}, scripts.Stages)
	assert.Equal(t, filepath.Join("compiled", "index.js"), scripts.Output)

	target := filepath.Join(cfg.Base, "compiled")
	assert.NoFileExists(t, filepath.Join(target, "stale.txt"))
	assert.FileExists(t, filepath.Join(target, "res", "logo.svg"))
	assert.FileExists(t, filepath.Join(target, "res", "fonts", "ur.woff"))
	assert.FileExists(t, filepath.Join(target, "out", "sheet.png"))

	data, err := os.ReadFile(annotations.ManifestPath(target))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"dice": {"sides": 4},
		"sprites": {"out/sheet.png": {
			"a.png": {"width":10,"height":20,"x_offset":0,"y_offset":0},
			"b.png": {"width":5,"height":30,"x_offset":10,"y_offset":0}}}
	}`, string(data))
}

func TestDevBuildSkipsCleanAndMinify(t *testing.T) {
	cfg := newProject(t)
	builder, runner := newBuilder(cfg)
	writeTestFile(t, cfg.Base, "compiled/keep.txt", "keep")

	require.NoError(t, builder.Build(context.Background(), ModeDev))

	for _, spec := range runner.specs {
		assert.NotEqual(t, "rm", spec.Name())
		if spec.Output != "" {
			assert.Len(t, spec.Stages, 1, "dev builds don't minify")
		}
	}

	target := filepath.Join(cfg.Base, "compiled")
	assert.FileExists(t, filepath.Join(target, "keep.txt"))
	assert.FileExists(t, filepath.Join(target, "index.js"))
	assert.FileExists(t, annotations.ManifestPath(target))
}

func TestRequiresReleaseBuild(t *testing.T) {
	cfg := newProject(t)
	builder, _ := newBuilder(cfg)
	ctx := context.Background()

	required, err := builder.RequiresReleaseBuild(ctx)
	require.NoError(t, err)
	assert.True(t, required, "empty target")

	require.NoError(t, builder.Release(ctx))
	required, err = builder.RequiresReleaseBuild(ctx)
	require.NoError(t, err)
	assert.False(t, required)

	// content changes aren't detected
	target := filepath.Join(cfg.Base, "compiled")
	writeTestFile(t, cfg.Base, "res/logo.svg", "<svg>changed</svg>")
	writeTestFile(t, target, "res/logo.svg", "garbage")
	required, err = builder.RequiresReleaseBuild(ctx)
	require.NoError(t, err)
	assert.False(t, required)

	require.NoError(t, os.Remove(filepath.Join(target, "res", "fonts", "ur.woff")))
	required, err = builder.RequiresReleaseBuild(ctx)
	require.NoError(t, err)
	assert.True(t, required, "missing resource")

	require.NoError(t, builder.Release(ctx))
	require.NoError(t, os.Remove(annotations.ManifestPath(target)))
	required, err = builder.RequiresReleaseBuild(ctx)
	require.NoError(t, err)
	assert.True(t, required, "missing manifest")

	require.NoError(t, builder.Release(ctx))
	require.NoError(t, os.RemoveAll(filepath.Join(target, "res", "fonts")))
	writeTestFile(t, target, "res/fonts", "not a directory")
	required, err = builder.RequiresReleaseBuild(ctx)
	require.NoError(t, err)
	assert.True(t, required, "parent directory replaced by a file")
}

func TestScriptsOnlyFallsBackToRelease(t *testing.T) {
	cfg := newProject(t)
	builder, runner := newBuilder(cfg)

	require.NoError(t, builder.Build(context.Background(), ModeScripts))

	names := []string{}
	for _, spec := range runner.specs {
		names = append(names, spec.Name())
	}
	assert.Equal(t, "rm", names[0], "release build runs first")
	assert.Contains(t, names, "cp")

	last := runner.specs[len(runner.specs)-1]
	assert.Len(t, last.Stages, 1, "final combine isn't minified")
	assert.Equal(t, filepath.Join("compiled", "index.js"), last.Output)
}

func TestScriptsOnlyWithCompleteTarget(t *testing.T) {
	cfg := newProject(t)
	builder, runner := newBuilder(cfg)
	ctx := context.Background()

	require.NoError(t, builder.Release(ctx))
	runner.specs = nil

	require.NoError(t, builder.ScriptsOnly(ctx))
	assert.Equal(t, []string{"mkdir -p compiled"}, runner.commands()[:1])
	require.Len(t, runner.specs, 2)
	assert.Equal(t, [][]string{{"cat", "js/a.js", "js/b.js"}}, runner.specs[1].Stages)
}

func TestBuildFailsFast(t *testing.T) {
	cfg := newProject(t)
	builder, runner := newBuilder(cfg)
	runner.failOn = "cat"

	err := builder.Build(context.Background(), ModeRelease)
	require.Error(t, err)

	last := runner.specs[len(runner.specs)-1]
	assert.Equal(t, "cat", last.Name())
	assert.NoFileExists(t, annotations.ManifestPath(filepath.Join(cfg.Base, "compiled")))
}

func TestBuildFailsOnMissingImage(t *testing.T) {
	cfg := newProject(t)
	cfg.Sprites = map[string][]string{"out/sheet.png": {"a.png", "missing.png"}}
	builder, _ := newBuilder(cfg)

	err := builder.Build(context.Background(), ModeDev)
	require.Error(t, err)

	target := filepath.Join(cfg.Base, "compiled")
	assert.NoFileExists(t, filepath.Join(target, "out", "sheet.png"))
	assert.NoFileExists(t, annotations.ManifestPath(target))
}

func TestBuildFailsOnBrokenAnnotation(t *testing.T) {
	cfg := newProject(t)
	writeTestFile(t, cfg.Base, "res/dice.json", `{"sides": `)
	builder, _ := newBuilder(cfg)

	require.Error(t, builder.Build(context.Background(), ModeDev))
	assert.NoFileExists(t, annotations.ManifestPath(filepath.Join(cfg.Base, "compiled")))
}

func TestReleasePrecompress(t *testing.T) {
	cfg := newProject(t)
	builder, _ := newBuilder(cfg)
	builder.Precompress = true

	require.NoError(t, builder.Release(context.Background()))

	target := filepath.Join(cfg.Base, "compiled")
	assert.FileExists(t, filepath.Join(target, "index.js.br"))
	assert.FileExists(t, annotations.ManifestPath(target)+".br")
}

func TestCombineScriptsSetsNodeEnv(t *testing.T) {
	cfg := newProject(t)
	builder, runner := newBuilder(cfg)
	ctx := context.Background()

	require.NoError(t, builder.CombineScripts(ctx, true))
	require.NoError(t, builder.CombineScripts(ctx, false))

	bundles := []CommandSpec{}
	for _, spec := range runner.specs {
		if spec.Output != "" {
			bundles = append(bundles, spec)
		}
	}
	require.Len(t, bundles, 2)
	assert.Equal(t, "production", bundles[0].Env["NODE_ENV"])
	assert.Equal(t, "development", bundles[1].Env["NODE_ENV"])
}

func TestReleaseFailsWhenBundlerFailsBeforeMinifier(t *testing.T) {
	cfg := newProject(t)
	cfg.Bundler = []string{"sh", "-c", "echo 'babel: SyntaxError' >&2; exit 1"}

	builder := &Builder{
		Config: cfg,
		Target: "compiled",
		Runner: &ShellCollaborator{Dir: cfg.Base},
	}
	err := builder.Build(context.Background(), ModeRelease)
	require.Error(t, err)

	var procErr *ProcessError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, "sh", procErr.Command)
	assert.Equal(t, 1, procErr.Code)

	// the build stops before anything else is produced
	assert.NoFileExists(t, annotations.ManifestPath(filepath.Join(cfg.Base, "compiled")))
}

func TestScriptsOnlyMarksNestedReleaseLogs(t *testing.T) {
	cfg := newProject(t)
	builder, _ := newBuilder(cfg)
	logs := bytes.Buffer{}
	logger := zerolog.New(&logs)

	require.NoError(t, builder.Build(WithLogger(context.Background(), &logger), ModeScripts))

	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if strings.Contains(line, `"mode":"release"`) {
			assert.Contains(t, line, `"nested":true`)
		} else {
			assert.NotContains(t, line, `"nested"`)
		}
	}
	assert.Contains(t, logs.String(), `"mode":"jsdev"`)
}

func TestEndToEndWithShell(t *testing.T) {
	cfg := newProject(t)
	logs := bytes.Buffer{}
	logger := zerolog.New(&logs)
	ctx := WithLogger(context.Background(), &logger)

	builder := &Builder{
		Config: cfg,
		Target: "compiled",
		Runner: &ShellCollaborator{Dir: cfg.Base},
	}
	require.NoError(t, builder.Build(ctx, ModeRelease))

	target := filepath.Join(cfg.Base, "compiled")
	script, err := os.ReadFile(filepath.Join(target, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "var a = 1;\nvar b = 2;\n", string(script))

	handle, err := os.Open(filepath.Join(target, "out", "sheet.png"))
	require.NoError(t, err)
	defer handle.Close()
	sheet, err := png.DecodeConfig(handle)
	require.NoError(t, err)
	assert.Equal(t, 15, sheet.Width)
	assert.Equal(t, 30, sheet.Height)

	data, err := os.ReadFile(annotations.ManifestPath(target))
	require.NoError(t, err)

	var manifest map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.JSONEq(t, `{"out/sheet.png": {
		"a.png": {"width":10,"height":20,"x_offset":0,"y_offset":0},
		"b.png": {"width":5,"height":30,"x_offset":10,"y_offset":0}}}`, string(manifest["sprites"]))
	assert.Equal(t, `{"sides":4}`, string(manifest["dice"]))

	assert.Contains(t, logs.String(), `"mode":"release"`)
	assert.Contains(t, logs.String(), "5. Create Annotations File")
}
