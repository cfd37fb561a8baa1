// Package compress produces precompressed copies of build outputs and release archives.
package compress

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// BrotliSuffix is appended to the name of precompressed files.
const BrotliSuffix = ".br"

// Precompress writes a brotli compressed copy next to each passed file.
func Precompress(paths ...string) error {
	for _, path := range paths {
		err := brotliFile(path, path+BrotliSuffix)
		if err != nil {
			return err
		}
	}
	return nil
}

func brotliFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	writer := brotli.NewWriterLevel(out, brotli.BestCompression)
	_, err = io.Copy(writer, in)
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to compress %s", src)
	}

	return eris.Wrapf(out.Close(), "failed to write %s", dest)
}

// ArchiveDir packs the contents of dir into a .tar.xz file at dest. Entry names are relative
// to dir and always use forward slashes.
func ArchiveDir(dir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	err = writeArchive(dir, dest, out)
	if err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}

	return eris.Wrapf(out.Close(), "failed to write %s", dest)
}

func writeArchive(dir, dest string, out io.Writer) error {
	xzWriter, err := xz.NewWriter(out)
	if err != nil {
		return eris.Wrap(err, "failed to initialize xz writer")
	}

	tarWriter := tar.NewWriter(xzWriter)
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to resolve %s", dest)
	}

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", path)
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return eris.Wrapf(err, "failed to relativize %s", path)
		}
		if rel == "." {
			return nil
		}

		if absPath, err := filepath.Abs(path); err == nil && absPath == absDest {
			// archive is written into the directory it packs
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return eris.Wrapf(err, "failed to build header for %s", path)
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}

		err = tarWriter.WriteHeader(header)
		if err != nil {
			return eris.Wrapf(err, "failed to write header for %s", path)
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		handle, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "failed to open %s", path)
		}
		defer handle.Close()

		_, err = io.Copy(tarWriter, handle)
		return eris.Wrapf(err, "failed to pack %s", path)
	})
	if err != nil {
		return err
	}

	err = tarWriter.Close()
	if err != nil {
		return eris.Wrap(err, "failed to finish tar stream")
	}

	return eris.Wrap(xzWriter.Close(), "failed to finish xz stream")
}
