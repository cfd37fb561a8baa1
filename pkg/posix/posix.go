// Package posix contains cross-platform implementations of the few POSIX commands the build
// relies on. They're used in-process by the shell runner so builds behave the same everywhere.
package posix

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
)

type command func(dir string, args []string) error

var commands = map[string]command{
	"rm":    rm,
	"mkdir": mkdir,
	"cp":    cp,
}

// Has reports whether name is implemented by this package.
func Has(name string) bool {
	_, ok := commands[name]
	return ok
}

// Run executes args (including the command name) with relative paths resolved against dir.
func Run(dir string, args []string) error {
	if len(args) == 0 {
		return eris.New("no command passed")
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return eris.Errorf("unknown command %s", args[0])
	}

	return cmd(dir, args[1:])
}

func resolve(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}

func expand(dir string, patterns []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		// the shell already expanded globs
		result := make([]string, len(patterns))
		for idx, item := range patterns {
			result[idx] = resolve(dir, item)
		}
		return result, nil
	}

	items := []string{}
	for _, arg := range patterns {
		matches, err := filepath.Glob(resolve(dir, arg))
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}
	return items, nil
}

func rm(dir string, args []string) error {
	flags := pflag.NewFlagSet("rm", pflag.ContinueOnError)
	recursive := flags.BoolP("recursive", "r", false, "recursively delete directories")
	force := flags.BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "rm")
	}

	items, err := expand(dir, flags.Args(), *force)
	if err != nil {
		return err
	}

	for _, item := range items {
		info, err := os.Stat(item)
		if err != nil {
			if *force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "could not stat %s", item)
		}

		if info.IsDir() && !*recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
	}

	for _, item := range items {
		err := os.RemoveAll(item)
		if err != nil && (!*force || !eris.Is(err, os.ErrNotExist)) {
			return eris.Wrapf(err, "could not delete %s", item)
		}
	}

	return nil
}

func mkdir(dir string, args []string) error {
	flags := pflag.NewFlagSet("mkdir", pflag.ContinueOnError)
	makeParents := flags.BoolP("parents", "p", false, "create parent directories as needed")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "mkdir")
	}

	if flags.NArg() == 0 {
		return eris.New("mkdir: missing operand")
	}

	var err error
	for _, item := range flags.Args() {
		item = resolve(dir, item)
		if *makeParents {
			err = os.MkdirAll(item, 0o770)
		} else {
			err = os.Mkdir(item, 0o770)
		}

		if err != nil {
			return eris.Wrapf(err, "failed to create %s", item)
		}
	}

	return nil
}

func cp(dir string, args []string) error {
	flags := pflag.NewFlagSet("cp", pflag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "cp")
	}

	if flags.NArg() < 2 {
		return eris.New("cp: expected a source and a destination")
	}

	dest := resolve(dir, flags.Arg(flags.NArg()-1))
	sources, err := expand(dir, flags.Args()[:flags.NArg()-1], false)
	if err != nil {
		return err
	}

	info, err := os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "failed to retrieve info about destination %s", dest)
	}
	destIsDir := err == nil && info.IsDir()

	if len(sources) > 1 && !destIsDir {
		return eris.Errorf("can't copy multiple items to %s because it is not a directory", dest)
	}

	for _, src := range sources {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(src))
		}

		err = copyFile(src, itemDest)
		if err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return eris.Wrapf(err, "could not stat %s", src)
	}
	if info.IsDir() {
		return eris.Errorf("%s is a directory", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to copy %s to %s", src, dest)
	}

	err = out.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", dest)
	}
	return nil
}
