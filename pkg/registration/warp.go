package registration

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"stackdiff/internal/models"
)

// Warp resamples b into a w x h canvas in A's frame. Pixels of the canvas
// that B does not cover are left at zero.
func Warp(b *models.Grid, t models.Translation, w, h int) *models.Grid {
	out := models.NewGrid(w, h)

	// A pure translation moves every pixel alike, so mapping A's origin
	// into B's frame is enough.
	var origin mat.VecDense
	origin.MulVec(t.Inverse().Matrix(), mat.NewVecDense(3, []float64{0, 0, 1}))
	ox := int(math.Round(origin.AtVec(0)))
	oy := int(math.Round(origin.AtVec(1)))

	for y := 0; y < h; y++ {
		by := y + oy
		if by < 0 || by >= b.Height {
			continue
		}
		x0, x1 := max(0, -ox), min(w, b.Width-ox)
		if x0 >= x1 {
			continue
		}
		copy(out.Row(y)[x0:x1], b.Row(by)[x0+ox:x1+ox])
	}
	return out
}
