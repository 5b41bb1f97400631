package models

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"golang.org/x/xerrors"
)

// Grid is a single-channel image stored as a row-major array of samples.
// Grids decoded from files carry 8-bit intensities in the range [0,255].
type Grid struct {
	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int

	// Pix holds Width*Height samples, row by row
	Pix []float64
}

// NewGrid allocates a zero-filled grid of the given size.
func NewGrid(width, height int) *Grid {
	if width < 0 || height < 0 {
		panic(fmt.Sprintf("models: negative grid size %dx%d", width, height))
	}
	return &Grid{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// NewGridFromData wraps data as a width x height grid. The slice is copied.
func NewGridFromData(width, height int, data []float64) (*Grid, error) {
	if width < 0 || height < 0 {
		return nil, xerrors.Errorf("invalid grid size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, xerrors.Errorf("grid data has %d samples, want %d for %dx%d",
			len(data), width*height, width, height)
	}
	g := NewGrid(width, height)
	copy(g.Pix, data)
	return g, nil
}

// At returns the sample at column x, row y.
func (g *Grid) At(x, y int) float64 {
	return g.Pix[y*g.Width+x]
}

// Set stores v at column x, row y.
func (g *Grid) Set(x, y int, v float64) {
	g.Pix[y*g.Width+x] = v
}

// Row returns the samples of row y. The slice aliases the grid.
func (g *Grid) Row(y int) []float64 {
	return g.Pix[y*g.Width : (y+1)*g.Width]
}

// Bounds returns the grid rectangle anchored at the origin.
func (g *Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width, g.Height)
}

// Size returns the grid dimensions as a point.
func (g *Grid) Size() image.Point {
	return image.Pt(g.Width, g.Height)
}

// SameShape reports whether g and o have identical dimensions.
func (g *Grid) SameShape(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Empty reports whether the grid holds no samples.
func (g *Grid) Empty() bool {
	return g.Width == 0 || g.Height == 0
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := NewGrid(g.Width, g.Height)
	copy(c.Pix, g.Pix)
	return c
}

// SubGrid copies the samples inside r. r must lie within the grid bounds.
func (g *Grid) SubGrid(r image.Rectangle) (*Grid, error) {
	if !r.In(g.Bounds()) {
		return nil, xerrors.Errorf("rectangle %v outside grid bounds %v", r, g.Bounds())
	}
	out := NewGrid(r.Dx(), r.Dy())
	for y := 0; y < out.Height; y++ {
		src := g.Pix[(r.Min.Y+y)*g.Width+r.Min.X : (r.Min.Y+y)*g.Width+r.Max.X]
		copy(out.Row(y), src)
	}
	return out, nil
}

// Range returns the minimum and maximum sample. An empty grid yields 0, 0.
func (g *Grid) Range() (lo, hi float64) {
	if len(g.Pix) == 0 {
		return 0, 0
	}
	return floats.Min(g.Pix), floats.Max(g.Pix)
}

// Mean returns the average sample value.
func (g *Grid) Mean() float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	return stat.Mean(g.Pix, nil)
}

// Dense returns a gonum matrix view with Height rows and Width columns.
// The matrix shares storage with the grid.
func (g *Grid) Dense() *mat.Dense {
	return mat.NewDense(g.Height, g.Width, g.Pix)
}

// Gray converts the grid to an 8-bit image, rounding and clamping samples
// to [0,255].
func (g *Grid) Gray() *image.Gray {
	img := image.NewGray(g.Bounds())
	for i, v := range g.Pix {
		img.Pix[i] = clampUint8(v)
	}
	return img
}

// GrayScaled converts the grid to an 8-bit image after mapping
// [lo,hi] linearly onto [0,255].
func (g *Grid) GrayScaled(lo, hi float64) *image.Gray {
	img := image.NewGray(g.Bounds())
	span := hi - lo
	for i, v := range g.Pix {
		if span <= 0 {
			img.Pix[i] = 0
			continue
		}
		img.Pix[i] = clampUint8((v - lo) / span * 255)
	}
	return img
}

// GridFromImage converts any image to a grayscale grid using the standard
// luma weights of color.GrayModel.
func GridFromImage(img image.Image) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dx(), b.Dy())

	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < g.Height; y++ {
			off := gray.PixOffset(b.Min.X, b.Min.Y+y)
			row := gray.Pix[off : off+g.Width]
			dst := g.Row(y)
			for x, v := range row {
				dst[x] = float64(v)
			}
		}
		return g
	}

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			g.Pix[y*g.Width+x] = float64(c.Y)
		}
	}
	return g
}

func clampUint8(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
