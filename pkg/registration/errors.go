package registration

import (
	"fmt"
	"image"
)

// ShapeMismatchError reports two grids that should share a shape but do not.
type ShapeMismatchError struct {
	A, B image.Point
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %dx%d vs %dx%d", e.A.X, e.A.Y, e.B.X, e.B.Y)
}

// DegenerateMatchError reports a best match whose confidence is below the
// configured minimum. The images probably do not overlap enough for the
// translation to be trusted.
type DegenerateMatchError struct {
	Confidence    float64
	MinConfidence float64
}

func (e *DegenerateMatchError) Error() string {
	return fmt.Sprintf("degenerate match: confidence %.4f below minimum %.4f",
		e.Confidence, e.MinConfidence)
}

// TemplateTooSmallError reports images too small to carve a template from.
type TemplateTooSmallError struct {
	Size image.Point
}

func (e *TemplateTooSmallError) Error() string {
	return fmt.Sprintf("image %dx%d too small for template matching (need at least 3x3)",
		e.Size.X, e.Size.Y)
}

// InvalidCropError reports a crop that would produce an empty or negative
// sized image.
type InvalidCropError struct {
	Reason string
}

func (e *InvalidCropError) Error() string {
	return "invalid crop: " + e.Reason
}
