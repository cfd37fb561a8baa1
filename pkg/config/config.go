// Package config loads and validates the build configuration (compilation.json and friends).
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultFile is the config file name searched for when none is passed.
const DefaultFile = "compilation.json"

// SpritesKey is reserved in the annotation manifest for the sprite placements.
const SpritesKey = "sprites"

var (
	defaultBundler  = []string{"npx", "babel", "--presets=@babel/env"}
	defaultMinifier = []string{"uglifyjs", "--compress", "--mangle"}
)

// BuildConfig describes everything a build needs. It's loaded once and passed by value to
// every build step; nothing modifies it after Load returns.
type BuildConfig struct {
	Javascript  []string            `json:"javascript" yaml:"javascript" hcl:"javascript,optional"`
	Resources   map[string]string   `json:"resources" yaml:"resources" hcl:"resources,optional"`
	Sprites     map[string][]string `json:"sprites" yaml:"sprites" hcl:"sprites,optional"`
	Annotations map[string]string   `json:"annotations" yaml:"annotations" hcl:"annotations,optional"`
	Bundler     []string            `json:"bundler,omitempty" yaml:"bundler,omitempty" hcl:"bundler,optional"`
	Minifier    []string            `json:"minifier,omitempty" yaml:"minifier,omitempty" hcl:"minifier,optional"`

	// Base is the directory containing the config file. Relative paths resolve against it.
	Base string `json:"-" yaml:"-"`
}

// ResourceFile is a single entry of the resource map with the destination resolved.
type ResourceFile struct {
	Source string
	Dest   string
}

// ValidationError collects every problem found in a config file.
type ValidationError struct {
	File     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.File, strings.Join(e.Problems, "; "))
}

// ResourceFiles returns the resource map sorted by source path. An empty destination means
// the file keeps its source path inside the target directory.
func (c BuildConfig) ResourceFiles() []ResourceFile {
	result := make([]ResourceFile, 0, len(c.Resources))
	for src, dest := range c.Resources {
		if dest == "" {
			dest = src
		}
		result = append(result, ResourceFile{Source: src, Dest: dest})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Source < result[j].Source
	})
	return result
}

// BundlerCommand returns the argv of the script concatenation step including all script files.
func (c BuildConfig) BundlerCommand() []string {
	bundler := c.Bundler
	if len(bundler) == 0 {
		bundler = defaultBundler
	}

	cmd := make([]string, 0, len(bundler)+len(c.Javascript))
	cmd = append(cmd, bundler...)
	return append(cmd, c.Javascript...)
}

// MinifierCommand returns the argv of the minifier.
func (c BuildConfig) MinifierCommand() []string {
	if len(c.Minifier) == 0 {
		return append([]string{}, defaultMinifier...)
	}
	return append([]string{}, c.Minifier...)
}

// Path resolves a config-relative path against Base.
func (c BuildConfig) Path(path string) string {
	if filepath.IsAbs(path) || c.Base == "" {
		return path
	}
	return filepath.Join(c.Base, path)
}

// SpriteGroupNames returns the sprite sheet paths in sorted order.
func (c BuildConfig) SpriteGroupNames() []string {
	names := make([]string, 0, len(c.Sprites))
	for name := range c.Sprites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the required fields and rejects empty or reserved entries.
func (c BuildConfig) Validate(file string) error {
	problems := []string{}

	if c.Javascript == nil {
		problems = append(problems, "missing field javascript")
	} else if len(c.Javascript) == 0 {
		problems = append(problems, "javascript must list at least one file")
	}
	for idx, item := range c.Javascript {
		if item == "" {
			problems = append(problems, fmt.Sprintf("javascript[%d] is empty", idx))
		}
	}

	if c.Resources == nil {
		problems = append(problems, "missing field resources")
	}
	for src := range c.Resources {
		if src == "" {
			problems = append(problems, "resources contains an empty source path")
		}
	}

	if c.Sprites == nil {
		problems = append(problems, "missing field sprites")
	}
	for _, name := range c.SpriteGroupNames() {
		if name == "" {
			problems = append(problems, "sprites contains an empty output path")
			continue
		}

		group := c.Sprites[name]
		if len(group) == 0 {
			problems = append(problems, fmt.Sprintf("sprite group %s has no images", name))
		}
		for idx, item := range group {
			if item == "" {
				problems = append(problems, fmt.Sprintf("sprites[%s][%d] is empty", name, idx))
			}
		}
	}

	if c.Annotations == nil {
		problems = append(problems, "missing field annotations")
	}
	for key, path := range c.Annotations {
		if key == SpritesKey {
			problems = append(problems, fmt.Sprintf("annotation key %q is reserved", SpritesKey))
		}
		if path == "" {
			problems = append(problems, fmt.Sprintf("annotation %s has no file", key))
		}
	}

	for idx, item := range c.Bundler {
		if item == "" {
			problems = append(problems, fmt.Sprintf("bundler[%d] is empty", idx))
		}
	}
	for idx, item := range c.Minifier {
		if item == "" {
			problems = append(problems, fmt.Sprintf("minifier[%d] is empty", idx))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &ValidationError{File: file, Problems: problems}
	}
	return nil
}
