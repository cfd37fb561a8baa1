// Package sprites packs groups of images into single-row sprite sheets and records where each
// image ended up.
package sprites

import (
	"context"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	// registers the WebP decoder; sheets can't be written as WebP
	_ "golang.org/x/image/webp"
)

// ImagePlacement is the size and position of a single source image inside its sheet.
type ImagePlacement struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	XOffset int `json:"x_offset"`
	YOffset int `json:"y_offset"`
}

// GroupPlacements maps each source image of a group to its placement.
type GroupPlacements map[string]ImagePlacement

// Placements maps each sheet path to the placements of its images.
type Placements map[string]GroupPlacements

// Packer writes sprite sheets below Target. Source images are resolved against Base.
type Packer struct {
	Base   string
	Target string

	// OnSheet is called after each sheet was written. Optional.
	OnSheet func(sheet string)

	// decoded source images, shared by all groups of one Pack call
	images *cache.Cache
}

// Layout computes the single-row arrangement of the passed image sizes. Images are placed left
// to right in order, all at y = 0.
func Layout(sizes []image.Point) (width, height int, offsets []image.Point) {
	offsets = make([]image.Point, len(sizes))
	for idx, size := range sizes {
		offsets[idx] = image.Pt(width, 0)
		width += size.X
		if size.Y > height {
			height = size.Y
		}
	}
	return width, height, offsets
}

// Pack builds one sheet per group and returns the placements of all images. The first image
// that can't be read aborts the whole operation.
func (p *Packer) Pack(ctx context.Context, groups map[string][]string) (Placements, error) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	p.images = cache.New(cache.NoExpiration, 0)
	defer func() {
		p.images = nil
	}()

	result := make(Placements, len(groups))
	for _, name := range names {
		placements, err := p.PackGroup(ctx, name, groups[name])
		if err != nil {
			return nil, err
		}

		result[name] = placements
		if p.OnSheet != nil {
			p.OnSheet(name)
		}
	}

	return result, nil
}

// PackGroup builds the sheet for a single group and writes it to Target/sheet.
func (p *Packer) PackGroup(ctx context.Context, sheet string, files []string) (GroupPlacements, error) {
	if len(files) == 0 {
		return nil, eris.Errorf("sprite group %s is empty", sheet)
	}

	images := make([]image.Image, len(files))
	sizes := make([]image.Point, len(files))
	for idx, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := p.loadImage(p.resolve(p.Base, file))
		if err != nil {
			return nil, eris.Wrapf(err, "failed to load image %s for sprite %s", file, sheet)
		}

		images[idx] = img
		sizes[idx] = img.Bounds().Size()
	}

	width, height, offsets := Layout(sizes)
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	placements := make(GroupPlacements, len(files))

	for idx, img := range images {
		bounds := img.Bounds()
		dest := image.Rectangle{Min: offsets[idx], Max: offsets[idx].Add(sizes[idx])}
		draw.Draw(canvas, dest, img, bounds.Min, draw.Src)

		placements[files[idx]] = ImagePlacement{
			Width:   sizes[idx].X,
			Height:  sizes[idx].Y,
			XOffset: offsets[idx].X,
			YOffset: offsets[idx].Y,
		}
	}

	err := writeImage(p.resolve(p.Target, sheet), canvas)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to write sprite %s", sheet)
	}
	return placements, nil
}

func (p *Packer) resolve(base, path string) string {
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// loadImage decodes path once per Pack call. Images that appear in several groups are only
// read from disk the first time.
func (p *Packer) loadImage(path string) (image.Image, error) {
	if p.images == nil {
		return decodeImage(path)
	}

	if img, found := p.images.Get(path); found {
		return img.(image.Image), nil
	}

	img, err := decodeImage(path)
	if err != nil {
		return nil, err
	}

	p.images.SetDefault(path, img)
	return img, nil
}

func decodeImage(path string) (image.Image, error) {
	handle, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	img, _, err := image.Decode(handle)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to decode %s", path)
	}
	return img, nil
}

type encoder func(w io.Writer, img image.Image) error

func encoderFor(path string) (encoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode, nil
	case ".jpg", ".jpeg":
		return func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
		}, nil
	case ".gif":
		return func(w io.Writer, img image.Image) error {
			return gif.Encode(w, img, nil)
		}, nil
	case ".bmp":
		return bmp.Encode, nil
	case ".tif", ".tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	}

	return nil, eris.Errorf("unsupported sprite format %s", filepath.Ext(path))
}

// writeImage encodes img into a temporary file next to path and moves it into place once
// it's complete.
func writeImage(path string, img image.Image) error {
	encode, err := encoderFor(path)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(path), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	tmpPath := path + "." + nanoid.New() + ".tmp"
	handle, err := os.Create(tmpPath)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", tmpPath)
	}

	err = encode(handle, img)
	if err == nil {
		err = handle.Close()
	} else {
		handle.Close()
	}

	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to encode %s", path)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to move %s into place", path)
	}
	return nil
}
