// Package imageio loads grayscale grids from disk or memory, brings image
// pairs to a common shape and encodes results back to files.
package imageio

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/xerrors"

	"stackdiff/internal/models"
)

// SourceKind tells whether a Source refers to a file or an in-memory grid.
type SourceKind int

const (
	// KindPath is a filesystem path to be decoded
	KindPath SourceKind = iota
	// KindBuffer is an already-decoded grid
	KindBuffer
)

// Source is either a path or a decoded grid. Construct it with PathSource or
// BufferSource.
type Source struct {
	kind SourceKind
	path string
	grid *models.Grid
}

// PathSource returns a source that decodes the file at path.
func PathSource(path string) Source {
	return Source{kind: KindPath, path: path}
}

// BufferSource returns a source backed by g. The grid is never modified.
func BufferSource(g *models.Grid) Source {
	return Source{kind: KindBuffer, grid: g}
}

// Kind reports the source variant.
func (s Source) Kind() SourceKind { return s.kind }

// Path returns the file path of a KindPath source, "" otherwise.
func (s Source) Path() string { return s.path }

// Resolve returns the grid behind the source, decoding it if necessary.
func (s Source) Resolve() (*models.Grid, error) {
	switch s.kind {
	case KindPath:
		return LoadGrid(s.path)
	case KindBuffer:
		if s.grid == nil {
			return nil, xerrors.New("buffer source holds no grid")
		}
		return s.grid, nil
	default:
		return nil, xerrors.Errorf("unknown source kind %d", s.kind)
	}
}

// LoadGrid decodes the image at path into a grayscale grid.
func LoadGrid(path string) (*models.Grid, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ImageNotFoundError{Path: path, Err: err}
	}
	defer file.Close()

	g, err := Decode(file)
	if err != nil {
		return nil, &ImageNotFoundError{Path: path, Err: err}
	}
	return g, nil
}

// Decode reads any registered raster format and converts it to grayscale.
func Decode(r io.Reader) (*models.Grid, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode image: %w", err)
	}
	return models.GridFromImage(img), nil
}

// LoadPair resolves both sources and normalizes them to a common shape.
func LoadPair(a, b Source) (*models.Grid, *models.Grid, error) {
	ga, err := a.Resolve()
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to load image A: %w", err)
	}
	gb, err := b.Resolve()
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to load image B: %w", err)
	}
	return Normalize(ga, gb)
}
