package gradient

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"stackdiff/internal/models"
	"stackdiff/pkg/registration"
)

// Structure returns the edge-strength map of g: the magnitude of the
// horizontal Sobel derivative, scaled to [0,1] and box-blurred.
func Structure(g *models.Grid) *models.Grid {
	edges := NormalizeMinMax(Abs(SobelX(g)), 0, 1)
	return BoxBlur(edges, StructureBlur)
}

// Diff compares the structure of two aligned grids of the same shape.
func Diff(a, b *models.Grid) (*models.DifferenceMap, error) {
	if !a.SameShape(b) {
		return nil, &registration.ShapeMismatchError{A: a.Size(), B: b.Size()}
	}
	return DiffStructures(Structure(a), Structure(b))
}

// DiffStructures compares two maps produced by Structure. The absolute
// difference is doubled and rescaled to [0,1]; a constant difference yields
// an all-zero map.
func DiffStructures(sa, sb *models.Grid) (*models.DifferenceMap, error) {
	if !sa.SameShape(sb) {
		return nil, &registration.ShapeMismatchError{A: sa.Size(), B: sb.Size()}
	}

	d := models.NewGrid(sa.Width, sa.Height)
	floats.SubTo(d.Pix, sa.Pix, sb.Pix)
	for i, v := range d.Pix {
		d.Pix[i] = math.Abs(v)
	}
	floats.Scale(2, d.Pix)

	return models.NewDifferenceMap(NormalizeMinMax(d, 0, 1)), nil
}

// EdgeCorrelation returns the Pearson correlation of two structure maps,
// 1 for identical structure. Flat maps yield 0.
func EdgeCorrelation(sa, sb *models.Grid) float64 {
	if !sa.SameShape(sb) || len(sa.Pix) < 2 {
		return 0
	}
	r := stat.Correlation(sa.Pix, sb.Pix, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}
