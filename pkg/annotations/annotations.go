// Package annotations combines resource metadata into the manifest read by the site at runtime.
package annotations

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the location of the manifest relative to the build target.
const ManifestFile = "res/annotations.json"

// Manifest maps annotation keys to arbitrary JSON data.
type Manifest map[string]interface{}

// ManifestPath returns the location of the manifest inside target.
func ManifestPath(target string) string {
	return filepath.Join(target, filepath.FromSlash(ManifestFile))
}

// Combine loads every annotation file and merges them with extra. Paths are resolved against
// base. A single file that fails to load fails the whole combination.
func Combine(base string, files map[string]string, extra Manifest) (Manifest, error) {
	result := make(Manifest, len(extra)+len(files))
	for key, value := range extra {
		result[key] = value
	}

	keys := make([]string, 0, len(files))
	for key := range files {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, present := extra[key]; present {
			return nil, eris.Errorf("annotation %s conflicts with a generated annotation", key)
		}

		path := files[key]
		if !filepath.IsAbs(path) && base != "" {
			path = filepath.Join(base, path)
		}

		value, err := loadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to load annotation %s", key)
		}
		result[key] = value
	}

	return result, nil
}

func loadFile(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "could not open file %s", path)
	}

	if !utf8.Valid(data) {
		return nil, eris.Errorf("failed to parse %s: invalid UTF-8", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		var value interface{}
		err = yaml.Unmarshal(data, &value)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse %s", path)
		}

		// make sure the document can be represented as JSON before accepting it
		_, err = encode(value)
		if err != nil {
			return nil, eris.Wrapf(err, "%s can't be converted to JSON", path)
		}
		return value, nil
	default:
		buffer := bytes.Buffer{}
		err = json.Compact(&buffer, data)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse %s", path)
		}
		return json.RawMessage(buffer.Bytes()), nil
	}
}

func encode(value interface{}) ([]byte, error) {
	buffer := bytes.Buffer{}
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)

	err := encoder.Encode(value)
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}

// Encode returns the compact JSON encoding of the manifest.
func (m Manifest) Encode() ([]byte, error) {
	data, err := encode(map[string]interface{}(m))
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode manifest")
	}
	return data, nil
}

// Write stores the manifest at its fixed location inside target, replacing any previous one.
func Write(target string, m Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}

	path := ManifestPath(target)
	err = os.MkdirAll(filepath.Dir(path), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	tmpPath := path + "." + nanoid.New() + ".tmp"
	err = os.WriteFile(tmpPath, data, 0o660)
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to write %s", tmpPath)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to move %s into place", path)
	}
	return nil
}
