package registration

import (
	"fmt"
	"image"

	"golang.org/x/xerrors"

	"stackdiff/internal/models"
)

// DefaultBottomCut is the height of the strip removed from the bottom of
// both images before matching. Vertical stacks usually carry a tripod head
// or a timestamp there.
const DefaultBottomCut = 50

// CutBottom returns g without its bottom width rows. A width of zero or
// less returns a copy of g.
func CutBottom(g *models.Grid, width int) (*models.Grid, error) {
	if width <= 0 {
		return g.Clone(), nil
	}
	if width >= g.Height {
		return nil, &InvalidCropError{
			Reason: fmt.Sprintf("bottom cut of %d rows leaves nothing of a %d row image", width, g.Height),
		}
	}
	return g.SubGrid(image.Rect(0, 0, g.Width, g.Height-width))
}

// OverlapWindows returns the windows of A and B showing the same part of
// the scene under translation t. Both windows are expressed in their own
// image's coordinates.
func OverlapWindows(shapeA, shapeB image.Point, t models.Translation) (image.Rectangle, image.Rectangle) {
	a0x, a1x, b0x, b1x := overlapAxis(shapeA.X, shapeB.X, t.DX)
	a0y, a1y, b0y, b1y := overlapAxis(shapeA.Y, shapeB.Y, t.DY)
	return image.Rect(a0x, a0y, a1x, a1y), image.Rect(b0x, b0y, b1x, b1y)
}

// overlapAxis handles a single axis. A positive offset means B starts
// inside A, so A loses its leading samples and B its trailing ones.
func overlapAxis(extA, extB, o int) (a0, a1, b0, b1 int) {
	if o >= 0 {
		return o, extA, 0, extB - o
	}
	return 0, extA + o, -o, extB
}

// Crop extracts the regions of a and b that overlap under t. nudge moves
// B's window by a few extra pixels to correct a visibly imperfect match.
// Both windows are clipped to their image while keeping the nudged offset
// between them, so the returned grids always share a shape and pair the
// same scene points.
func Crop(a, b *models.Grid, t models.Translation, nudge image.Point) (ca, cb *models.Grid, ra, rb image.Rectangle, err error) {
	ra, rb = OverlapWindows(a.Size(), b.Size(), t)
	off := rb.Min.Add(nudge).Sub(ra.Min)

	ra = ra.Intersect(a.Bounds()).Intersect(b.Bounds().Sub(off))
	if ra.Empty() {
		return nil, nil, image.Rectangle{}, image.Rectangle{}, &InvalidCropError{
			Reason: fmt.Sprintf("translation %s with nudge %v leaves no overlap", t, nudge),
		}
	}
	rb = ra.Add(off)

	if ca, err = a.SubGrid(ra); err != nil {
		return nil, nil, image.Rectangle{}, image.Rectangle{}, xerrors.Errorf("failed to crop A: %w", err)
	}
	if cb, err = b.SubGrid(rb); err != nil {
		return nil, nil, image.Rectangle{}, image.Rectangle{}, xerrors.Errorf("failed to crop B: %w", err)
	}
	return ca, cb, ra, rb, nil
}
