// Package visualization renders alignment results for inspection: the two
// aligned crops and their difference map, alone or side by side.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/xerrors"

	"stackdiff/internal/models"
	"stackdiff/pkg/imageio"
)

// Panel names accepted by ExtractPanel.
const (
	PanelA    = "a"
	PanelB    = "b"
	PanelDiff = "diff"
)

// Panels lists the panels in montage order.
var Panels = []string{PanelA, PanelB, PanelDiff}

// Gap is the width in pixels of the black separator between montage panels.
const Gap = 8

// Viewer renders the panels of one aligned pair.
type Viewer struct {
	// a and b are the aligned crops, 8-bit intensities
	a *models.Grid
	b *models.Grid

	// diff holds mismatch values in [0,1]
	diff *models.DifferenceMap
}

// NewViewer creates a viewer for two aligned crops and their difference.
func NewViewer(a, b *models.Grid, diff *models.DifferenceMap) *Viewer {
	return &Viewer{
		a:    a,
		b:    b,
		diff: diff,
	}
}

// ExtractPanel renders one panel as a 16-bit grayscale image.
func (v *Viewer) ExtractPanel(name string) (image.Image, error) {
	switch name {
	case PanelA:
		return gridToGray16(v.a, 255), nil
	case PanelB:
		return gridToGray16(v.b, 255), nil
	case PanelDiff:
		if v.diff == nil {
			return nil, xerrors.New("no difference map to render")
		}
		return v.diff.Gray16(), nil
	default:
		return nil, xerrors.Errorf("invalid panel: %s (must be a, b, or diff)", name)
	}
}

// Montage places all panels side by side, separated by Gap black columns.
// Panels of different heights are top-aligned.
func (v *Viewer) Montage() (*image.Gray16, error) {
	var panels []image.Image
	width, height := 0, 0
	for _, name := range Panels {
		img, err := v.ExtractPanel(name)
		if err != nil {
			return nil, err
		}
		panels = append(panels, img)
		width += img.Bounds().Dx()
		height = max(height, img.Bounds().Dy())
	}
	width += Gap * (len(panels) - 1)

	out := image.NewGray16(image.Rect(0, 0, width, height))
	x := 0
	for _, img := range panels {
		b := img.Bounds()
		xdraw.Draw(out, image.Rect(x, 0, x+b.Dx(), b.Dy()), img, b.Min, xdraw.Src)
		x += b.Dx() + Gap
	}
	return out, nil
}

// SavePanel saves an extracted panel, choosing the format from filename.
func (v *Viewer) SavePanel(enc *imageio.Encoder, img image.Image, filename string) error {
	return enc.SaveImage(filename, img)
}

// SavePanels writes every panel plus the montage into outputDir as PNG.
func (v *Viewer) SavePanels(enc *imageio.Encoder, outputDir string) error {
	for _, name := range Panels {
		img, err := v.ExtractPanel(name)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("panel_%s.png", name))
		if err := v.SavePanel(enc, img, filename); err != nil {
			return err
		}
	}

	montage, err := v.Montage()
	if err != nil {
		return err
	}
	return v.SavePanel(enc, montage, filepath.Join(outputDir, "montage.png"))
}

// gridToGray16 maps [0, scale] onto the full 16-bit range.
func gridToGray16(g *models.Grid, scale float64) *image.Gray16 {
	img := image.NewGray16(g.Bounds())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			value := uint16(math.Max(0, math.Min(65535, math.Round(g.At(x, y)/scale*65535))))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}
