package imageio

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/xerrors"

	"stackdiff/internal/models"
)

// Normalize brings a and b to the same shape. When the shapes differ both
// grids are resized to (min(wA, wB), min(hA, hB)); otherwise they are
// returned as they are. Inputs are never modified.
func Normalize(a, b *models.Grid) (*models.Grid, *models.Grid, error) {
	if a.SameShape(b) {
		return a, b, nil
	}

	w := min(a.Width, b.Width)
	h := min(a.Height, b.Height)
	if w == 0 || h == 0 {
		return nil, nil, xerrors.Errorf("cannot normalize %dx%d and %dx%d: empty common shape",
			a.Width, a.Height, b.Width, b.Height)
	}

	return Resize(a, w, h), Resize(b, w, h), nil
}

// Resize resamples g to width x height with bilinear interpolation.
// Samples are carried through a 16-bit intermediate scaled to the grid's own
// range, so arbitrary float grids keep roughly 1/65535 of their span as
// precision. A grid already at the requested size is cloned.
func Resize(g *models.Grid, width, height int) *models.Grid {
	if g.Width == width && g.Height == height {
		return g.Clone()
	}

	lo, hi := g.Range()
	if hi <= lo {
		out := models.NewGrid(width, height)
		for i := range out.Pix {
			out.Pix[i] = lo
		}
		return out
	}
	span := hi - lo

	src := image.NewGray16(g.Bounds())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := (g.At(x, y) - lo) / span * 65535
			src.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v))})
		}
	}

	dst := image.NewGray16(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := models.NewGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.Set(x, y, lo+float64(dst.Gray16At(x, y).Y)/65535*span)
		}
	}
	return out
}
