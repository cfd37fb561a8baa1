package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Load reads the config file at path, decodes it based on its extension and validates the
// result. Relative paths inside the config are resolved against the file's directory.
func Load(path string) (BuildConfig, error) {
	var cfg BuildConfig

	absPath, err := filepath.Abs(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "failed to resolve %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = loadJSON(absPath, &cfg)
	case ".yml", ".yaml":
		err = loadYAML(absPath, &cfg)
	case ".star":
		err = loadStarlark(absPath, &cfg)
	case ".hcl":
		err = loadHCL(absPath, &cfg)
	default:
		return cfg, eris.Errorf("unsupported config format %s", path)
	}
	if err != nil {
		return cfg, err
	}

	cfg.Base = filepath.Dir(absPath)

	err = cfg.Validate(path)
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadJSON(path string, cfg *BuildConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "could not open file %s", path)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	err = decoder.Decode(cfg)
	if err != nil {
		return eris.Wrapf(err, "failed to parse %s", path)
	}

	if decoder.More() {
		return eris.Errorf("failed to parse %s: trailing data after the config object", path)
	}
	return nil
}

func loadYAML(path string, cfg *BuildConfig) error {
	handle, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "could not open file %s", path)
	}
	defer handle.Close()

	decoder := yaml.NewDecoder(handle)
	decoder.KnownFields(true)
	err = decoder.Decode(cfg)
	if err != nil {
		if err == io.EOF {
			return eris.Errorf("failed to parse %s: file is empty", path)
		}
		return eris.Wrapf(err, "failed to parse %s", path)
	}
	return nil
}

// Find looks for name in dir and all of its parents and returns the first match.
func Find(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}

	path := dir
	for {
		candidate := filepath.Join(path, name)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", candidate)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no %s file found", name)
		}
		path = parent
	}
}
