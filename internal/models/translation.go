package models

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/mat"
)

// Translation is an integer shift between two images of the same scene.
// Pixel (x, y) of image B shows the same scene point as pixel
// (x+DX, y+DY) of image A.
type Translation struct {
	DX int `yaml:"dx"`
	DY int `yaml:"dy"`
}

// String formats the translation as "(dx, dy)".
func (t Translation) String() string {
	return fmt.Sprintf("(%d, %d)", t.DX, t.DY)
}

// Apply maps a point of B's frame into A's frame.
func (t Translation) Apply(p image.Point) image.Point {
	return image.Pt(p.X+t.DX, p.Y+t.DY)
}

// Inverse returns the translation mapping A's frame into B's frame.
func (t Translation) Inverse() Translation {
	return Translation{DX: -t.DX, DY: -t.DY}
}

// Within reports whether the translation leaves a non-empty overlap between
// two images of size w x h.
func (t Translation) Within(w, h int) bool {
	return abs(t.DX) < w && abs(t.DY) < h
}

// Matrix returns the 3x3 homogeneous transform mapping B coordinates to
// A coordinates:
//
//	| 1 0 DX |
//	| 0 1 DY |
//	| 0 0 1  |
func (t Translation) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, float64(t.DX),
		0, 1, float64(t.DY),
		0, 0, 1,
	})
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
