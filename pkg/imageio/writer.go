package imageio

import (
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/xerrors"

	"stackdiff/internal/models"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 90

// Format names an output codec.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
	FormatGIF  Format = "gif"
)

// FormatFromExt maps a file extension (with or without the dot) to a format.
func FormatFromExt(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "bmp":
		return FormatBMP, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	case "gif":
		return FormatGIF, nil
	default:
		return "", &UnsupportedFormatError{Ext: ext}
	}
}

// Encoder writes images using a fixed JPEG quality.
type Encoder struct {
	JPEGQuality int
}

// NewEncoder returns an encoder with the given JPEG quality. Values outside
// 1..100 fall back to DefaultJPEGQuality.
func NewEncoder(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Encoder{JPEGQuality: quality}
}

// Encode writes img to w in the given format.
func (e *Encoder) Encode(w io.Writer, img image.Image, format Format) error {
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: e.JPEGQuality})
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case FormatGIF:
		err = gif.Encode(w, toPaletted(img), nil)
	default:
		return &UnsupportedFormatError{Ext: string(format)}
	}
	if err != nil {
		return xerrors.Errorf("failed to encode %s: %w", format, err)
	}
	return nil
}

// SaveImage encodes img into path, choosing the codec from the extension.
func (e *Encoder) SaveImage(path string, img image.Image) error {
	format, err := FormatFromExt(filepath.Ext(path))
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return xerrors.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("failed to create image file: %w", err)
	}

	if err := e.Encode(file, img, format); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return xerrors.Errorf("failed to close image file: %w", err)
	}
	return nil
}

// SaveGrid writes g as an 8-bit grayscale image.
func (e *Encoder) SaveGrid(path string, g *models.Grid) error {
	return e.SaveImage(path, g.Gray())
}

// OutputPath derives an output file name from an input path: the input's
// base name plus suffix, keeping the input extension so the output is
// encoded in the same format family. Inputs without an encoder (for
// example WebP) get a .png extension. An empty outDir keeps the input's
// directory.
func OutputPath(input, suffix, outDir string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(filepath.Base(input), ext)
	if _, err := FormatFromExt(ext); err != nil {
		ext = ".png"
	}
	if outDir == "" {
		outDir = filepath.Dir(input)
	}
	return filepath.Join(outDir, base+suffix+ext)
}

// toPaletted maps grayscale images onto a 256-level gray palette so GIF
// output keeps every intensity. Other images go through the default
// quantizer.
func toPaletted(img image.Image) image.Image {
	gray, ok := img.(*image.Gray)
	if !ok {
		return img
	}
	palette := make(color.Palette, 256)
	for i := range palette {
		palette[i] = color.Gray{Y: uint8(i)}
	}
	p := image.NewPaletted(gray.Bounds(), palette)
	draw.Draw(p, p.Bounds(), gray, gray.Bounds().Min, draw.Src)
	return p
}
