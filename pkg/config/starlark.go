package config

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

var starlarkFields = map[string]bool{
	"javascript":  true,
	"resources":   true,
	"sprites":     true,
	"annotations": true,
	"bundler":     true,
	"minifier":    true,
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var fallback string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &fallback)
	if err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(key)
	if !ok {
		value = fallback
	}
	return starlark.String(value), nil
}

// loadStarlark executes a config script. The script defines the config fields as globals;
// any other global must start with an underscore.
func loadStarlark(path string, cfg *BuildConfig) error {
	thread := &starlark.Thread{Name: "config"}
	predeclared := starlark.StringDict{
		"getenv": starlark.NewBuiltin("getenv", getenv),
	}

	globals, err := starlark.ExecFile(thread, path, nil, predeclared)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return eris.Errorf("failed to evaluate %s: %s", path, evalErr.Backtrace())
		}
		return eris.Wrapf(err, "failed to parse %s", path)
	}

	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name[0] == '_' {
			continue
		}
		if !starlarkFields[name] {
			if _, ok := globals[name].(*starlark.Function); ok {
				continue
			}
			return eris.Errorf("%s: unknown config field %s", path, name)
		}
	}

	if value, ok := globals["javascript"]; ok {
		cfg.Javascript, err = starlarkStringList(value, "javascript")
		if err != nil {
			return eris.Wrapf(err, "%s", path)
		}
	}
	if value, ok := globals["bundler"]; ok {
		cfg.Bundler, err = starlarkStringList(value, "bundler")
		if err != nil {
			return eris.Wrapf(err, "%s", path)
		}
	}
	if value, ok := globals["minifier"]; ok {
		cfg.Minifier, err = starlarkStringList(value, "minifier")
		if err != nil {
			return eris.Wrapf(err, "%s", path)
		}
	}
	if value, ok := globals["resources"]; ok {
		cfg.Resources, err = starlarkStringMap(value, "resources")
		if err != nil {
			return eris.Wrapf(err, "%s", path)
		}
	}
	if value, ok := globals["annotations"]; ok {
		cfg.Annotations, err = starlarkStringMap(value, "annotations")
		if err != nil {
			return eris.Wrapf(err, "%s", path)
		}
	}
	if value, ok := globals["sprites"]; ok {
		dict, ok := value.(*starlark.Dict)
		if !ok {
			return eris.Errorf("%s: expected sprites to be a dict but found %s", path, value.Type())
		}

		cfg.Sprites = make(map[string][]string, dict.Len())
		for _, item := range dict.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return eris.Errorf("%s: expected all keys in sprites to be strings but found %s", path, item[0].Type())
			}

			cfg.Sprites[key.GoString()], err = starlarkStringList(item[1], "sprites["+key.GoString()+"]")
			if err != nil {
				return eris.Wrapf(err, "%s", path)
			}
		}
	}

	return nil
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkStringList(value starlark.Value, field string) ([]string, error) {
	input, ok := value.(starlarkIterable)
	if !ok {
		return nil, eris.Errorf("expected %s to be a list but found %s", field, value.Type())
	}
	if _, isDict := value.(*starlark.Dict); isDict {
		return nil, eris.Errorf("expected %s to be a list but found dict", field)
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func starlarkStringMap(value starlark.Value, field string) (map[string]string, error) {
	dict, ok := value.(*starlark.Dict)
	if !ok {
		return nil, eris.Errorf("expected %s to be a dict but found %s", field, value.Type())
	}

	result := make(map[string]string, dict.Len())
	for _, item := range dict.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("expected all keys in %s to be strings but found %s", field, item[0].Type())
		}

		switch value := item[1].(type) {
		case starlark.String:
			result[key.GoString()] = value.GoString()
		case starlark.NoneType:
			result[key.GoString()] = ""
		default:
			return nil, eris.Errorf("expected %s[%s] to be a string but found %s", field, key.GoString(), item[1].Type())
		}
	}
	return result, nil
}
