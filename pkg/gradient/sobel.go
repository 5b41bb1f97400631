// Package gradient renders structural differences between two aligned
// images. Each image is reduced to a smoothed horizontal edge-strength map,
// and the maps are compared pixel by pixel, so uniform brightness changes
// between the two exposures do not show up as differences.
package gradient

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"stackdiff/internal/models"
)

// 5-tap Sobel factors. The x-derivative kernel is the outer product of
// sobelSmooth (vertical) and sobelDeriv (horizontal).
var (
	sobelSmooth = []float64{1, 4, 6, 4, 1}
	sobelDeriv  = []float64{-1, -2, 0, 2, 1}
)

// StructureBlur is the box filter size applied to edge maps.
const StructureBlur = 5

// reflect101 maps an out-of-range index back inside [0, n) by mirroring
// around the edge samples without repeating them: -1 -> 1, n -> n-2.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

// separable correlates g with the kernel kx along rows, then ky along
// columns.
func separable(g *models.Grid, kx, ky []float64) *models.Grid {
	rx, ry := len(kx)/2, len(ky)/2
	tmp := models.NewGrid(g.Width, g.Height)

	for y := 0; y < g.Height; y++ {
		src, dst := g.Row(y), tmp.Row(y)
		for x := range dst {
			sum := 0.0
			for k, w := range kx {
				sum += w * src[reflect101(x+k-rx, g.Width)]
			}
			dst[x] = sum
		}
	}

	out := models.NewGrid(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		dst := out.Row(y)
		for k, w := range ky {
			src := tmp.Row(reflect101(y+k-ry, g.Height))
			floats.AddScaled(dst, w, src)
		}
	}
	return out
}

// SobelX returns the first horizontal derivative of g computed with the
// 5x5 Sobel operator. Borders are mirrored.
func SobelX(g *models.Grid) *models.Grid {
	if g.Empty() {
		return models.NewGrid(g.Width, g.Height)
	}
	return separable(g, sobelDeriv, sobelSmooth)
}

// Abs returns the element-wise absolute value of g.
func Abs(g *models.Grid) *models.Grid {
	out := models.NewGrid(g.Width, g.Height)
	for i, v := range g.Pix {
		out.Pix[i] = math.Abs(v)
	}
	return out
}

// flatEpsilon is the relative spread below which a grid counts as constant.
const flatEpsilon = 2.220446049250313e-16

// NormalizeMinMax linearly maps the range of g onto [lo, hi]. A grid whose
// spread is within rounding noise of its magnitude counts as constant and
// maps to lo everywhere.
func NormalizeMinMax(g *models.Grid, lo, hi float64) *models.Grid {
	out := g.Clone()
	if g.Empty() {
		return out
	}

	gmin, gmax := floats.Min(g.Pix), floats.Max(g.Pix)
	magnitude := math.Max(1, math.Max(math.Abs(gmin), math.Abs(gmax)))
	scale := 0.0
	if gmax-gmin > flatEpsilon*magnitude {
		scale = (hi - lo) / (gmax - gmin)
	}
	floats.AddConst(-gmin, out.Pix)
	floats.Scale(scale, out.Pix)
	floats.AddConst(lo, out.Pix)
	return out
}

// BoxBlur averages every pixel over the k x k window centred on it.
func BoxBlur(g *models.Grid, k int) *models.Grid {
	if k <= 1 || g.Empty() {
		return g.Clone()
	}
	kernel := make([]float64, k)
	for i := range kernel {
		kernel[i] = 1 / float64(k)
	}
	return separable(g, kernel, kernel)
}
