package visualization

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"stackdiff/internal/models"
	"stackdiff/pkg/imageio"
)

// createTestViewer builds a viewer over two gradient crops and a diff map
func createTestViewer(width, height int) *Viewer {
	a := models.NewGrid(width, height)
	b := models.NewGrid(width, height)
	d := models.NewGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			a.Set(x, y, float64(x*255/(width-1)))
			b.Set(x, y, 255)
			d.Set(x, y, float64(y)/float64(height-1))
		}
	}
	return NewViewer(a, b, models.NewDifferenceMap(d))
}

// TestExtractPanel verifies that panels keep their size and intensity scale
func TestExtractPanel(t *testing.T) {
	viewer := createTestViewer(10, 6)

	for _, name := range Panels {
		img, err := viewer.ExtractPanel(name)
		if err != nil {
			t.Fatalf("Failed to extract panel %s: %v", name, err)
		}
		if img.Bounds() != image.Rect(0, 0, 10, 6) {
			t.Errorf("Expected panel %s bounds 10x6, got %v", name, img.Bounds())
		}
	}

	img, _ := viewer.ExtractPanel(PanelA)
	gray := img.(*image.Gray16)
	if gray.Gray16At(0, 0).Y != 0 || gray.Gray16At(9, 0).Y != 65535 {
		t.Errorf("Expected panel a to span the full range, got %d..%d",
			gray.Gray16At(0, 0).Y, gray.Gray16At(9, 0).Y)
	}

	img, _ = viewer.ExtractPanel(PanelDiff)
	if img.(*image.Gray16).Gray16At(0, 5).Y != 65535 {
		t.Errorf("Expected bottom row of diff to be white")
	}

	if _, err := viewer.ExtractPanel("c"); err == nil {
		t.Errorf("Expected error for invalid panel")
	}

	noDiff := NewViewer(viewer.a, viewer.b, nil)
	if _, err := noDiff.ExtractPanel(PanelDiff); err == nil {
		t.Errorf("Expected error for missing difference map")
	}
	if _, err := noDiff.Montage(); err == nil {
		t.Errorf("Expected montage to fail without a difference map")
	}
}

// TestMontage verifies panel placement and separators
func TestMontage(t *testing.T) {
	viewer := createTestViewer(10, 6)

	montage, err := viewer.Montage()
	if err != nil {
		t.Fatalf("Failed to build montage: %v", err)
	}
	wantWidth := 3*10 + 2*Gap
	if montage.Bounds() != image.Rect(0, 0, wantWidth, 6) {
		t.Fatalf("Expected montage 0..%dx6, got %v", wantWidth, montage.Bounds())
	}

	// Separator column is black, panel b is white
	if montage.Gray16At(10, 3) != (color.Gray16{}) {
		t.Errorf("Expected black separator, got %v", montage.Gray16At(10, 3))
	}
	if montage.Gray16At(10+Gap, 3).Y != 65535 {
		t.Errorf("Expected panel b to start after the separator")
	}
}

// TestSavePanels verifies that every panel and the montage are written
func TestSavePanels(t *testing.T) {
	viewer := createTestViewer(10, 6)
	dir := filepath.Join(t.TempDir(), "panels")

	if err := viewer.SavePanels(imageio.NewEncoder(0), dir); err != nil {
		t.Fatalf("Failed to save panels: %v", err)
	}

	for _, name := range []string{"panel_a.png", "panel_b.png", "panel_diff.png", "montage.png"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}

	g, err := imageio.LoadGrid(filepath.Join(dir, "panel_b.png"))
	if err != nil {
		t.Fatalf("Failed to reload panel: %v", err)
	}
	if g.At(4, 4) != 255 {
		t.Errorf("Expected reloaded panel b to be white, got %f", g.At(4, 4))
	}
}
