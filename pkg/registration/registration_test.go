package registration

import (
	"context"
	"errors"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"stackdiff/internal/models"
	"stackdiff/pkg/debug"
)

// createScene builds a random 8-bit texture
func createScene(w, h int, seed int64) *models.Grid {
	rng := rand.New(rand.NewSource(seed))
	g := models.NewGrid(w, h)
	for i := range g.Pix {
		g.Pix[i] = float64(rng.Intn(256))
	}
	return g
}

// createShiftedPair cuts two w x h views from a larger scene so that pixel
// (x, y) of B shows pixel (x+t.DX, y+t.DY) of A.
func createShiftedPair(t *testing.T, w, h int, shift models.Translation) (*models.Grid, *models.Grid) {
	const margin = 40
	scene := createScene(w+2*margin, h+2*margin, 7)

	a, err := scene.SubGrid(image.Rect(margin, margin, margin+w, margin+h))
	if err != nil {
		t.Fatalf("Failed to cut A: %v", err)
	}
	origin := image.Pt(margin+shift.DX, margin+shift.DY)
	b, err := scene.SubGrid(image.Rectangle{Min: origin, Max: origin.Add(image.Pt(w, h))})
	if err != nil {
		t.Fatalf("Failed to cut B: %v", err)
	}
	return a, b
}

func newTestEstimator(params Params, sink debug.Sink) *Estimator {
	return NewEstimator(params, logr.Discard(), sink)
}

func TestTemplateWindow(t *testing.T) {
	tests := []struct {
		w, h int
		want image.Rectangle
	}{
		{400, 300, image.Rect(133, 100, 267, 200)},
		{90, 60, image.Rect(30, 20, 60, 40)},
		{3, 3, image.Rect(1, 1, 2, 2)},
		{4, 5, image.Rect(1, 1, 3, 4)},
	}
	for _, tt := range tests {
		if got := TemplateWindow(tt.w, tt.h); got != tt.want {
			t.Errorf("TemplateWindow(%d, %d) = %v, expected %v", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestEstimateIdentical(t *testing.T) {
	a := createScene(60, 45, 1)

	for _, method := range []Method{MethodCCoeffNormed, MethodCCorrNormed} {
		params := DefaultParams()
		params.Method = method
		match, err := newTestEstimator(params, nil).Estimate(context.Background(), a, a.Clone())
		if err != nil {
			t.Fatalf("%v: Estimate failed: %v", method, err)
		}
		if match.Translation != (models.Translation{}) {
			t.Errorf("%v: Expected zero translation, got %v", method, match.Translation)
		}
		if math.Abs(match.Confidence-1) > 1e-9 {
			t.Errorf("%v: Expected confidence 1, got %f", method, match.Confidence)
		}
	}
}

func TestEstimateKnownShift(t *testing.T) {
	shifts := []models.Translation{
		{DX: 7, DY: -5},
		{DX: -12, DY: 9},
		{DX: 25, DY: 0},
		{DX: 0, DY: -18},
		{DX: -30, DY: 20},
	}

	for _, shift := range shifts {
		a, b := createShiftedPair(t, 90, 60, shift)
		for _, strategy := range []Strategy{StrategyDirect, StrategyFFT} {
			params := DefaultParams()
			params.Strategy = strategy
			match, err := newTestEstimator(params, nil).Estimate(context.Background(), a, b)
			if err != nil {
				t.Fatalf("%v %v: Estimate failed: %v", shift, strategy, err)
			}
			if match.Translation != shift {
				t.Errorf("%v: Expected translation %v, got %v", strategy, shift, match.Translation)
			}
		}
	}
}

func TestEstimateVerticalStack(t *testing.T) {
	// B is A shifted left by 10 pixels with its right edge padded black
	a := createScene(400, 300, 3)
	b := models.NewGrid(400, 300)
	for y := 0; y < 300; y++ {
		copy(b.Row(y)[:390], a.Row(y)[10:])
	}

	params := DefaultParams()
	params.Strategy = StrategyFFT
	match, err := newTestEstimator(params, nil).Estimate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if match.Translation != (models.Translation{DX: 10, DY: 0}) {
		t.Fatalf("Expected translation (10, 0), got %v", match.Translation)
	}
	if match.Location != image.Pt(143, 100) {
		t.Errorf("Expected location (143,100), got %v", match.Location)
	}

	ca, cb, ra, rb, err := Crop(a, b, match.Translation, image.Point{})
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if ca.Width != 390 || ca.Height != 300 {
		t.Errorf("Expected 390x300 crops, got %dx%d", ca.Width, ca.Height)
	}
	if ra != image.Rect(10, 0, 400, 300) || rb != image.Rect(0, 0, 390, 300) {
		t.Errorf("Unexpected windows %v %v", ra, rb)
	}
	if diff := cmp.Diff(ca.Pix, cb.Pix); diff != "" {
		t.Errorf("Crops differ (-a +b):\n%s", diff)
	}
}

func TestStrategiesAgree(t *testing.T) {
	a, b := createShiftedPair(t, 75, 50, models.Translation{DX: -4, DY: 6})

	for _, method := range []Method{MethodCCoeffNormed, MethodCCorrNormed} {
		surfaces := make(map[Strategy]*models.Grid)
		for _, strategy := range []Strategy{StrategyDirect, StrategyFFT} {
			sink := debug.NewMemorySink()
			params := Params{Method: method, Strategy: strategy}
			if _, err := newTestEstimator(params, sink).Estimate(context.Background(), a, b); err != nil {
				t.Fatalf("%v %v: Estimate failed: %v", method, strategy, err)
			}
			got, ok := sink.Get("score_surface")
			if !ok {
				t.Fatalf("%v %v: no score surface emitted", method, strategy)
			}
			surfaces[strategy] = got.(*models.Grid)
		}

		direct, fft := surfaces[StrategyDirect], surfaces[StrategyFFT]
		if !direct.SameShape(fft) {
			t.Fatalf("%v: surface shapes differ: %v vs %v", method, direct.Size(), fft.Size())
		}
		for i := range direct.Pix {
			if math.Abs(direct.Pix[i]-fft.Pix[i]) > 1e-6 {
				t.Fatalf("%v: surfaces differ at %d: %f vs %f", method, i, direct.Pix[i], fft.Pix[i])
			}
		}
	}
}

func TestWorkersDoNotChangeResult(t *testing.T) {
	a, b := createShiftedPair(t, 60, 60, models.Translation{DX: 3, DY: 11})

	var reference *models.Grid
	for _, workers := range []int{1, 2, 5, 16} {
		sink := debug.NewMemorySink()
		params := DefaultParams()
		params.Workers = workers
		if _, err := newTestEstimator(params, sink).Estimate(context.Background(), a, b); err != nil {
			t.Fatalf("workers=%d: Estimate failed: %v", workers, err)
		}
		got, _ := sink.Get("score_surface")
		surface := got.(*models.Grid)
		if reference == nil {
			reference = surface
			continue
		}
		if diff := cmp.Diff(reference.Pix, surface.Pix); diff != "" {
			t.Errorf("workers=%d: surface differs (-1 worker +%d workers):\n%s", workers, workers, diff)
		}
	}
}

func TestEstimateFlatImages(t *testing.T) {
	flat := models.NewGrid(30, 30)
	for i := range flat.Pix {
		flat.Pix[i] = 100
	}

	match, err := newTestEstimator(DefaultParams(), nil).Estimate(context.Background(), flat, flat.Clone())
	var degenerate *DegenerateMatchError
	if !errors.As(err, &degenerate) {
		t.Fatalf("Expected DegenerateMatchError, got %v", err)
	}
	if match == nil {
		t.Fatal("Expected the match to be returned with the error")
	}
	if match.Confidence != 0 {
		t.Errorf("Expected zero confidence, got %f", match.Confidence)
	}

	// The check can be disabled
	params := DefaultParams()
	params.MinConfidence = 0
	if _, err := newTestEstimator(params, nil).Estimate(context.Background(), flat, flat.Clone()); err != nil {
		t.Errorf("Expected no error with MinConfidence=0, got %v", err)
	}
}

func TestEstimateErrors(t *testing.T) {
	e := newTestEstimator(DefaultParams(), nil)

	_, err := e.Estimate(context.Background(), models.NewGrid(10, 10), models.NewGrid(10, 11))
	var mismatch *ShapeMismatchError
	if !errors.As(err, &mismatch) {
		t.Errorf("Expected ShapeMismatchError, got %v", err)
	} else if mismatch.B != image.Pt(10, 11) {
		t.Errorf("Unexpected mismatch shape %v", mismatch.B)
	}

	_, err = e.Estimate(context.Background(), models.NewGrid(2, 2), models.NewGrid(2, 2))
	var tooSmall *TemplateTooSmallError
	if !errors.As(err, &tooSmall) {
		t.Errorf("Expected TemplateTooSmallError, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := createScene(30, 30, 2)
	for _, strategy := range []Strategy{StrategyDirect, StrategyFFT} {
		params := DefaultParams()
		params.Strategy = strategy
		_, err = newTestEstimator(params, nil).Estimate(ctx, a, a)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("%v: Expected context.Canceled, got %v", strategy, err)
		}
	}
}

func TestParseMethodAndStrategy(t *testing.T) {
	for _, m := range []Method{MethodCCoeffNormed, MethodCCorrNormed} {
		got, err := ParseMethod(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMethod(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMethod("sqdiff"); err == nil {
		t.Error("Expected error for unknown method")
	}

	for _, s := range []Strategy{StrategyDirect, StrategyFFT} {
		got, err := ParseStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStrategy(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStrategy("gpu"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestFastLen(t *testing.T) {
	tests := map[int]int{0: 1, 1: 1, 7: 8, 13: 15, 97: 100, 300: 300, 401: 405}
	for n, want := range tests {
		if got := fastLen(n); got != want {
			t.Errorf("fastLen(%d) = %d, expected %d", n, got, want)
		}
	}
}

func TestFFT2DRoundTrip(t *testing.T) {
	const rows, cols = 6, 10
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64((i*37)%11) - 5
	}

	f := newFFT2D(rows, cols)
	freq := f.forwardReal(data)

	// DC term is the sum of all samples
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	if math.Abs(real(freq[0])-sum) > 1e-9 || math.Abs(imag(freq[0])) > 1e-9 {
		t.Errorf("Expected DC %f, got %v", sum, freq[0])
	}

	f.inverse(freq)
	for i, v := range data {
		if math.Abs(real(freq[i])-v) > 1e-9 || math.Abs(imag(freq[i])) > 1e-9 {
			t.Fatalf("Round trip differs at %d: expected %f, got %v", i, v, freq[i])
		}
	}
}

func TestOverlapWindows(t *testing.T) {
	tests := []struct {
		name  string
		a, b  image.Point
		t     models.Translation
		wantA image.Rectangle
		wantB image.Rectangle
	}{
		{"zero", image.Pt(400, 300), image.Pt(400, 300), models.Translation{},
			image.Rect(0, 0, 400, 300), image.Rect(0, 0, 400, 300)},
		{"right", image.Pt(400, 300), image.Pt(400, 300), models.Translation{DX: 10},
			image.Rect(10, 0, 400, 300), image.Rect(0, 0, 390, 300)},
		{"left down", image.Pt(400, 300), image.Pt(400, 300), models.Translation{DX: -10, DY: 5},
			image.Rect(0, 5, 390, 300), image.Rect(10, 0, 400, 295)},
		{"up", image.Pt(100, 200), image.Pt(100, 200), models.Translation{DY: -60},
			image.Rect(0, 0, 100, 140), image.Rect(0, 60, 100, 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ra, rb := OverlapWindows(tt.a, tt.b, tt.t)
			if ra != tt.wantA || rb != tt.wantB {
				t.Errorf("Expected %v %v, got %v %v", tt.wantA, tt.wantB, ra, rb)
			}
		})
	}
}

func TestCropAlwaysEqualSize(t *testing.T) {
	a := createScene(50, 40, 4)
	b := createScene(46, 43, 5)

	nudges := []image.Point{{}, {2, 0}, {0, -3}, {-1, 4}}
	for dx := -45; dx <= 45; dx += 5 {
		for dy := -38; dy <= 38; dy += 4 {
			for _, nudge := range nudges {
				tr := models.Translation{DX: dx, DY: dy}
				ca, cb, ra, rb, err := Crop(a, b, tr, nudge)
				if err != nil {
					var invalid *InvalidCropError
					if !errors.As(err, &invalid) {
						t.Fatalf("%v %v: unexpected error type %v", tr, nudge, err)
					}
					continue
				}
				if !ca.SameShape(cb) {
					t.Fatalf("%v %v: crops differ in shape %v vs %v", tr, nudge, ca.Size(), cb.Size())
				}
				if ra.Size() != rb.Size() || !ra.In(a.Bounds()) || !rb.In(b.Bounds()) {
					t.Fatalf("%v %v: bad windows %v %v", tr, nudge, ra, rb)
				}
			}
		}
	}
}

func TestCropNudgeMovesOnlyB(t *testing.T) {
	a, b := createShiftedPair(t, 60, 40, models.Translation{DX: 5, DY: 0})

	_, _, ra, rb, err := Crop(a, b, models.Translation{DX: 5}, image.Pt(0, 2))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if ra.Min != image.Pt(5, 0) {
		t.Errorf("Expected A window to start at (5,0), got %v", ra.Min)
	}
	if rb.Min != image.Pt(0, 2) {
		t.Errorf("Expected B window to start at (0,2), got %v", rb.Min)
	}
	if ra.Size() != image.Pt(55, 38) {
		t.Errorf("Expected 55x38 windows, got %v", ra.Size())
	}
}

// TestCropNegativeNudge verifies that a nudge past B's top or left edge is
// kept: the crops pair the scene points of the true shift t - nudge.
func TestCropNegativeNudge(t *testing.T) {
	tests := []struct {
		tr    models.Translation
		nudge image.Point
		minA  image.Point
		size  image.Point
	}{
		{models.Translation{DX: 5, DY: 1}, image.Pt(-3, -2), image.Pt(8, 3), image.Pt(52, 37)},
		{models.Translation{DX: 0, DY: 0}, image.Pt(-3, 0), image.Pt(3, 0), image.Pt(57, 40)},
		{models.Translation{DX: 0, DY: 0}, image.Pt(0, -2), image.Pt(0, 2), image.Pt(60, 38)},
		{models.Translation{DX: -4, DY: -3}, image.Pt(-2, -1), image.Pt(0, 0), image.Pt(56, 37)},
	}

	for _, test := range tests {
		shift := models.Translation{DX: test.tr.DX - test.nudge.X, DY: test.tr.DY - test.nudge.Y}
		a, b := createShiftedPair(t, 60, 40, shift)

		ca, cb, ra, rb, err := Crop(a, b, test.tr, test.nudge)
		if err != nil {
			t.Fatalf("%v %v: Crop failed: %v", test.tr, test.nudge, err)
		}

		_, wantB := OverlapWindows(a.Size(), b.Size(), test.tr)
		wantOffset := wantB.Min.Add(test.nudge).Sub(image.Pt(max(test.tr.DX, 0), max(test.tr.DY, 0)))
		if got := rb.Min.Sub(ra.Min); got != wantOffset {
			t.Errorf("%v %v: expected window offset %v, got %v", test.tr, test.nudge, wantOffset, got)
		}
		if ra.Min != test.minA || ra.Size() != test.size {
			t.Errorf("%v %v: expected A window at %v size %v, got %v", test.tr, test.nudge, test.minA, test.size, ra)
		}
		if diff := cmp.Diff(ca.Pix, cb.Pix); diff != "" {
			t.Errorf("%v %v: crops show different content", test.tr, test.nudge)
		}
	}
}

func TestCropNoOverlap(t *testing.T) {
	g := createScene(20, 20, 6)
	_, _, _, _, err := Crop(g, g, models.Translation{DX: 20}, image.Point{})
	var invalid *InvalidCropError
	if !errors.As(err, &invalid) {
		t.Errorf("Expected InvalidCropError, got %v", err)
	}
}

func TestCutBottom(t *testing.T) {
	g := createScene(40, 300, 8)

	cut, err := CutBottom(g, DefaultBottomCut)
	if err != nil {
		t.Fatalf("CutBottom failed: %v", err)
	}
	if cut.Width != 40 || cut.Height != 250 {
		t.Errorf("Expected 40x250, got %dx%d", cut.Width, cut.Height)
	}
	if cut.At(3, 249) != g.At(3, 249) {
		t.Errorf("Cut altered the kept rows")
	}

	same, err := CutBottom(g, 0)
	if err != nil || !same.SameShape(g) {
		t.Errorf("Expected zero cut to keep the shape, got %v, %v", same.Size(), err)
	}

	for _, width := range []int{300, 301, 1000} {
		_, err := CutBottom(g, width)
		var invalid *InvalidCropError
		if !errors.As(err, &invalid) {
			t.Errorf("CutBottom(%d): expected InvalidCropError, got %v", width, err)
		}
	}
}

func TestWarp(t *testing.T) {
	shift := models.Translation{DX: 7, DY: -5}
	a, b := createShiftedPair(t, 60, 40, shift)

	warped := Warp(b, shift, a.Width, a.Height)
	ra, _ := OverlapWindows(a.Size(), b.Size(), shift)

	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			p := image.Pt(x, y)
			if p.In(ra) {
				if warped.At(x, y) != a.At(x, y) {
					t.Fatalf("Warped B differs from A at %v", p)
				}
			} else if warped.At(x, y) != 0 {
				t.Fatalf("Expected uncovered pixel %v to be 0, got %f", p, warped.At(x, y))
			}
		}
	}
}
