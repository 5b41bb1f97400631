package models

import (
	"image"
	"image/color"
	"math"
)

// DifferenceMap holds per-pixel structural mismatch between two aligned
// images. Values lie in [0,1].
type DifferenceMap struct {
	Grid
}

// NewDifferenceMap wraps g as a difference map. g is not copied.
func NewDifferenceMap(g *Grid) *DifferenceMap {
	return &DifferenceMap{Grid: *g}
}

// Max returns the largest mismatch value.
func (d *DifferenceMap) Max() float64 {
	_, hi := d.Range()
	return hi
}

// Gray16 renders the map as a 16-bit grayscale image, 0 -> black, 1 -> white.
func (d *DifferenceMap) Gray16() *image.Gray16 {
	img := image.NewGray16(d.Bounds())
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			v := d.At(x, y)
			if math.IsNaN(v) || v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	return img
}
