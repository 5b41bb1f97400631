// Package registration estimates the translation between two views of the
// same scene and crops both views to their common region.
package registration

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"stackdiff/internal/models"
	"stackdiff/pkg/debug"
)

// DefaultMinConfidence is the lowest zero-mean correlation accepted for the
// best match before Estimate reports a DegenerateMatchError.
const DefaultMinConfidence = 0.2

// Method selects the similarity score used for template matching.
type Method int

const (
	// MethodCCoeffNormed correlates the zero-mean template with the zero-mean
	// patch and divides by both energies. Insensitive to brightness offsets.
	MethodCCoeffNormed Method = iota

	// MethodCCorrNormed correlates raw intensities and divides by both
	// energies.
	MethodCCorrNormed
)

func (m Method) String() string {
	switch m {
	case MethodCCoeffNormed:
		return "ccoeff_normed"
	case MethodCCorrNormed:
		return "ccorr_normed"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod converts a method name as printed by String.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "ccoeff_normed", "ccoeff":
		return MethodCCoeffNormed, nil
	case "ccorr_normed", "ccorr":
		return MethodCCorrNormed, nil
	default:
		return 0, xerrors.Errorf("unknown matching method %q", s)
	}
}

// Strategy selects how the correlation surface is computed.
type Strategy int

const (
	// StrategyDirect evaluates every template position explicitly.
	StrategyDirect Strategy = iota

	// StrategyFFT computes all correlations at once in the frequency domain.
	StrategyFFT
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyFFT:
		return "fft"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy converts a strategy name as printed by String.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "direct":
		return StrategyDirect, nil
	case "fft":
		return StrategyFFT, nil
	default:
		return 0, xerrors.Errorf("unknown correlation strategy %q", s)
	}
}

// Params configures an Estimator.
type Params struct {
	// Method is the similarity score
	Method Method

	// Strategy chooses direct or FFT evaluation of the score surface
	Strategy Strategy

	// MinConfidence is the lowest acceptable zero-mean correlation at the
	// best match. Zero or negative disables the check.
	MinConfidence float64

	// Workers bounds the goroutines used by the direct strategy.
	// Zero means GOMAXPROCS.
	Workers int
}

// DefaultParams returns the recommended estimator settings.
func DefaultParams() Params {
	return Params{
		Method:        MethodCCoeffNormed,
		Strategy:      StrategyDirect,
		MinConfidence: DefaultMinConfidence,
	}
}

// Match is the outcome of a template search.
type Match struct {
	// Translation maps B's frame into A's frame
	Translation models.Translation `yaml:"translation"`

	// Location is the top-left corner of the best template position in A
	Location image.Point `yaml:"location"`

	// Template is the window of B used as template
	Template image.Rectangle `yaml:"template"`

	// Score is the value of the selected method at Location
	Score float64 `yaml:"score"`

	// Confidence is the zero-mean normalized correlation at Location,
	// whatever the method, in [-1, 1]
	Confidence float64 `yaml:"confidence"`
}

// Estimator finds the translation between two equally sized grids by
// matching the central third of B against every position in A.
//
// The direct strategy costs O(W*H*tw*th) for a W x H search image and a
// tw x th template, about W²H²/9 multiply-adds since the template spans a
// third of each axis. The FFT strategy costs O(P log P) for the padded
// area P and is the better choice for large images.
type Estimator struct {
	params Params
	log    logr.Logger
	sink   debug.Sink
}

// NewEstimator returns an estimator. sink may be nil.
func NewEstimator(params Params, log logr.Logger, sink debug.Sink) *Estimator {
	return &Estimator{
		params: params,
		log:    log,
		sink:   sink,
	}
}

// TemplateWindow returns the template rectangle carved from a w x h image:
// one third of each dimension is trimmed from every side.
func TemplateWindow(w, h int) image.Rectangle {
	return image.Rect(w/3, h/3, w-w/3, h-h/3)
}

// Estimate searches B's central template inside A and returns the best
// match. When the confidence falls below MinConfidence the match is still
// returned together with a *DegenerateMatchError.
func (e *Estimator) Estimate(ctx context.Context, a, b *models.Grid) (*Match, error) {
	if !a.SameShape(b) {
		return nil, &ShapeMismatchError{A: a.Size(), B: b.Size()}
	}
	if a.Width < 3 || a.Height < 3 {
		return nil, &TemplateTooSmallError{Size: a.Size()}
	}

	window := TemplateWindow(b.Width, b.Height)
	tmpl, err := b.SubGrid(window)
	if err != nil {
		return nil, xerrors.Errorf("failed to extract template: %w", err)
	}
	debug.Emit(e.sink, "template", tmpl)

	e.log.V(1).Info("Matching template",
		"template", window.String(), "method", e.params.Method.String(),
		"strategy", e.params.Strategy.String())

	var surface *models.Grid
	switch e.params.Strategy {
	case StrategyFFT:
		surface, err = e.surfaceFFT(ctx, a, tmpl)
	default:
		surface, err = e.surfaceDirect(ctx, a, tmpl)
	}
	if err != nil {
		return nil, err
	}
	debug.Emit(e.sink, "score_surface", surface)

	loc, score := argmax(surface)
	match := &Match{
		Translation: models.Translation{
			DX: loc.X - window.Min.X,
			DY: loc.Y - window.Min.Y,
		},
		Location:   loc,
		Template:   window,
		Score:      score,
		Confidence: coefficientAt(a, tmpl, loc),
	}

	debug.Emit(e.sink, "match_overlay", debug.Overlay(a, image.Rectangle{
		Min: loc,
		Max: loc.Add(window.Size()),
	}))
	debug.Emit(e.sink, "match", match)

	e.log.Info("Best match found",
		"translation", match.Translation.String(),
		"score", match.Score, "confidence", match.Confidence)

	if e.params.MinConfidence > 0 && !(match.Confidence >= e.params.MinConfidence) {
		return match, &DegenerateMatchError{
			Confidence:    match.Confidence,
			MinConfidence: e.params.MinConfidence,
		}
	}
	return match, nil
}

func (e *Estimator) workers() int {
	if e.params.Workers > 0 {
		return e.params.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// prepareTemplate returns the template samples used as correlation kernel
// (mean-subtracted for MethodCCoeffNormed) and their energy.
func (e *Estimator) prepareTemplate(tmpl *models.Grid) ([]float64, float64) {
	kernel := make([]float64, len(tmpl.Pix))
	copy(kernel, tmpl.Pix)

	if e.params.Method == MethodCCoeffNormed {
		mean := tmpl.Mean()
		for i := range kernel {
			kernel[i] -= mean
		}
	}

	energy := 0.0
	for _, v := range kernel {
		energy += v * v
	}
	return kernel, energy
}

// surfaceDirect evaluates the score at every valid template position. Rows
// are distributed over worker goroutines; each row writes its own slots so
// the result does not depend on scheduling.
func (e *Estimator) surfaceDirect(ctx context.Context, a, tmpl *models.Grid) (*models.Grid, error) {
	tw, th := tmpl.Width, tmpl.Height
	sw, sh := a.Width-tw+1, a.Height-th+1
	kernel, energyT := e.prepareTemplate(tmpl)
	sat := newSummedArea(a)
	surface := models.NewGrid(sw, sh)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())

	for y := 0; y < sh; y++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := surface.Row(y)
			for x := 0; x < sw; x++ {
				num := 0.0
				for v := 0; v < th; v++ {
					aRow := a.Pix[(y+v)*a.Width+x : (y+v)*a.Width+x+tw]
					kRow := kernel[v*tw : (v+1)*tw]
					for u, k := range kRow {
						num += k * aRow[u]
					}
				}
				row[x] = e.normalize(num, energyT, sat, x, y, tw, th)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, xerrors.Errorf("template matching interrupted: %w", err)
	}
	return surface, nil
}

// normalize turns a raw correlation into the method's score using the
// patch statistics from the summed-area tables.
func (e *Estimator) normalize(num, energyT float64, sat *summedArea, x, y, tw, th int) float64 {
	s1, s2 := sat.sums(x, y, tw, th)

	patchEnergy := s2
	if e.params.Method == MethodCCoeffNormed {
		n := float64(tw * th)
		patchEnergy = s2 - s1*s1/n
	}

	// Cancellation in s2 - s1²/n leaves residue of a few ulps of s2
	if energyT <= 0 || patchEnergy <= s2*1e-12 || patchEnergy <= 0 {
		return 0
	}

	score := num / math.Sqrt(energyT*patchEnergy)
	return math.Max(-1, math.Min(1, score))
}

// argmax returns the first position, in row-major order, holding the
// largest score.
func argmax(surface *models.Grid) (image.Point, float64) {
	best := math.Inf(-1)
	var loc image.Point
	for y := 0; y < surface.Height; y++ {
		for x, v := range surface.Row(y) {
			if v > best {
				best = v
				loc = image.Pt(x, y)
			}
		}
	}
	if math.IsInf(best, -1) {
		best = 0
	}
	return loc, best
}

// coefficientAt computes the zero-mean normalized correlation between tmpl
// and the patch of a whose top-left corner is loc.
func coefficientAt(a, tmpl *models.Grid, loc image.Point) float64 {
	n := float64(len(tmpl.Pix))
	if n == 0 {
		return 0
	}

	meanT := tmpl.Mean()
	meanP := 0.0
	for v := 0; v < tmpl.Height; v++ {
		for u := 0; u < tmpl.Width; u++ {
			meanP += a.At(loc.X+u, loc.Y+v)
		}
	}
	meanP /= n

	var num, eT, eP float64
	for v := 0; v < tmpl.Height; v++ {
		for u := 0; u < tmpl.Width; u++ {
			dt := tmpl.At(u, v) - meanT
			dp := a.At(loc.X+u, loc.Y+v) - meanP
			num += dt * dp
			eT += dt * dt
			eP += dp * dp
		}
	}
	if eT <= 0 || eP <= 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, num/math.Sqrt(eT*eP)))
}
