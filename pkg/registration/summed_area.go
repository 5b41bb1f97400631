package registration

import "stackdiff/internal/models"

// summedArea holds integral images of a grid and of its squares, padded
// with a leading zero row and column.
type summedArea struct {
	stride int
	sum    []float64
	sqsum  []float64
}

func newSummedArea(g *models.Grid) *summedArea {
	stride := g.Width + 1
	s := &summedArea{
		stride: stride,
		sum:    make([]float64, stride*(g.Height+1)),
		sqsum:  make([]float64, stride*(g.Height+1)),
	}
	for y := 0; y < g.Height; y++ {
		var rowSum, rowSq float64
		for x := 0; x < g.Width; x++ {
			v := g.Pix[y*g.Width+x]
			rowSum += v
			rowSq += v * v
			i := (y+1)*stride + x + 1
			s.sum[i] = s.sum[i-stride] + rowSum
			s.sqsum[i] = s.sqsum[i-stride] + rowSq
		}
	}
	return s
}

// sums returns the sum and the sum of squares over the w x h window whose
// top-left corner is (x, y).
func (s *summedArea) sums(x, y, w, h int) (sum, sqsum float64) {
	a := y*s.stride + x
	b := a + w
	c := (y+h)*s.stride + x
	d := c + w
	sum = s.sum[d] - s.sum[b] - s.sum[c] + s.sum[a]
	sqsum = s.sqsum[d] - s.sqsum[b] - s.sqsum[c] + s.sqsum[a]
	return sum, sqsum
}
