// Package alignment runs the complete registration pipeline on a pair of
// vertically offset photographs: normalization, optional bottom cut,
// translation estimation, overlap cropping and structural difference.
package alignment

import (
	"context"
	"image"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/xerrors"

	"stackdiff/internal/models"
	"stackdiff/pkg/debug"
	"stackdiff/pkg/gradient"
	"stackdiff/pkg/imageio"
	"stackdiff/pkg/registration"
)

// DefaultBottomCut is the strip height removed when a bottom cut is
// requested without an explicit size.
const DefaultBottomCut = registration.DefaultBottomCut

// Options controls a single alignment.
type Options struct {
	// BottomCut removes this many rows from the bottom of both images
	// before matching. Zero keeps the full images.
	BottomCut int

	// Nudge shifts B's crop window by a few extra pixels
	Nudge image.Point

	// Method is the template matching score
	Method registration.Method

	// Strategy selects direct or FFT correlation
	Strategy registration.Strategy

	// MinConfidence is the lowest accepted match confidence.
	// Zero or negative disables the check.
	MinConfidence float64

	// Workers bounds the goroutines used for correlation. Zero means
	// GOMAXPROCS.
	Workers int

	// JPEGQuality is used when results are saved as JPEG
	JPEGQuality int

	// Debug receives intermediate artifacts. May be nil.
	Debug debug.Sink

	// Logger reports pipeline progress. The zero value discards.
	Logger logr.Logger
}

// DefaultOptions returns the recommended settings: no bottom cut,
// zero-mean correlation evaluated directly and a 0.2 confidence floor.
func DefaultOptions() Options {
	return Options{
		Method:        registration.MethodCCoeffNormed,
		Strategy:      registration.StrategyDirect,
		MinConfidence: registration.DefaultMinConfidence,
		JPEGQuality:   imageio.DefaultJPEGQuality,
		Logger:        logr.Discard(),
	}
}

func (o Options) estimatorParams() registration.Params {
	return registration.Params{
		Method:        o.Method,
		Strategy:      o.Strategy,
		MinConfidence: o.MinConfidence,
		Workers:       o.Workers,
	}
}

// Result holds the outcome of an alignment.
type Result struct {
	// CroppedA and CroppedB are the overlapping regions, always the same size
	CroppedA *models.Grid
	CroppedB *models.Grid

	// Diff is the structural difference of the two crops
	Diff *models.DifferenceMap

	// Match describes the estimated translation
	Match *registration.Match

	// WindowA and WindowB locate the crops inside the (cut) inputs
	WindowA image.Rectangle
	WindowB image.Rectangle

	// EdgeCorrelation compares the edge maps of the two crops, 1 when
	// their structure is identical
	EdgeCorrelation float64

	// Elapsed is the wall time spent in Align
	Elapsed time.Duration
}

// Aligner runs the alignment pipeline with fixed options.
//
// The pipeline consists of these steps:
//  1. Loading both sources and normalizing them to a common size
//  2. Cutting the bottom strip
//  3. Estimating the translation by template matching
//  4. Cropping both images to their overlap
//  5. Rendering the structural difference map
type Aligner struct {
	opts      Options
	log       logr.Logger
	estimator *registration.Estimator
}

// NewAligner returns an aligner using opts.
func NewAligner(opts Options) *Aligner {
	return &Aligner{
		opts:      opts,
		log:       opts.Logger,
		estimator: registration.NewEstimator(opts.estimatorParams(), opts.Logger.WithName("registration"), opts.Debug),
	}
}

// Align registers b onto a and renders their difference with opts.
func Align(ctx context.Context, a, b imageio.Source, opts Options) (*Result, error) {
	return NewAligner(opts).Align(ctx, a, b)
}

// Align registers b onto a and renders their difference.
func (al *Aligner) Align(ctx context.Context, a, b imageio.Source) (*Result, error) {
	start := time.Now()
	sink := al.opts.Debug

	// Step 1: Load and normalize
	al.log.V(1).Info("Step 1: Loading input images")
	ga, gb, err := imageio.LoadPair(a, b)
	if err != nil {
		return nil, err
	}
	al.log.V(1).Info("Loaded images", "width", ga.Width, "height", ga.Height)
	debug.Emit(sink, "normalized_a", ga)
	debug.Emit(sink, "normalized_b", gb)

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("alignment interrupted: %w", err)
	}

	// Step 2: Cut the bottom strip
	if al.opts.BottomCut > 0 {
		al.log.V(1).Info("Step 2: Cutting bottom strip", "rows", al.opts.BottomCut)
		if ga, err = registration.CutBottom(ga, al.opts.BottomCut); err != nil {
			return nil, xerrors.Errorf("failed to cut image A: %w", err)
		}
		if gb, err = registration.CutBottom(gb, al.opts.BottomCut); err != nil {
			return nil, xerrors.Errorf("failed to cut image B: %w", err)
		}
		debug.Emit(sink, "cut_a", ga)
		debug.Emit(sink, "cut_b", gb)
	}

	// Step 3: Estimate the translation
	al.log.V(1).Info("Step 3: Estimating translation")
	match, err := al.estimator.Estimate(ctx, ga, gb)
	if err != nil {
		return nil, xerrors.Errorf("failed to estimate translation: %w", err)
	}
	if sink != nil {
		sink.Put("warped_b", registration.Warp(gb, match.Translation, ga.Width, ga.Height))
	}

	// Step 4: Crop to the overlap
	al.log.V(1).Info("Step 4: Cropping overlapping region")
	ca, cb, ra, rb, err := registration.Crop(ga, gb, match.Translation, al.opts.Nudge)
	if err != nil {
		return nil, xerrors.Errorf("failed to crop images: %w", err)
	}
	if sink != nil {
		sink.Put("window_a", debug.Overlay(ga, ra))
		sink.Put("window_b", debug.Overlay(gb, rb))
	}

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("alignment interrupted: %w", err)
	}

	// Step 5: Structural difference
	al.log.V(1).Info("Step 5: Rendering difference map")
	sa, sb := gradient.Structure(ca), gradient.Structure(cb)
	debug.Emit(sink, "structure_a", sa)
	debug.Emit(sink, "structure_b", sb)

	diff, err := gradient.DiffStructures(sa, sb)
	if err != nil {
		return nil, xerrors.Errorf("failed to render difference: %w", err)
	}
	debug.Emit(sink, "diff", diff)

	res := &Result{
		CroppedA:        ca,
		CroppedB:        cb,
		Diff:            diff,
		Match:           match,
		WindowA:         ra,
		WindowB:         rb,
		EdgeCorrelation: gradient.EdgeCorrelation(sa, sb),
		Elapsed:         time.Since(start),
	}

	al.log.Info("Alignment completed",
		"translation", match.Translation.String(),
		"crop", ca.Size().String(),
		"confidence", match.Confidence,
		"edgeCorrelation", res.EdgeCorrelation,
		"elapsed", res.Elapsed.String())

	return res, nil
}

// Save writes both crops and the difference map. The crops are encoded
// according to their path's extension; the map is written as 16-bit PNG
// unless diffPath names another format.
func (r *Result) Save(enc *imageio.Encoder, pathA, pathB, diffPath string) error {
	if err := enc.SaveGrid(pathA, r.CroppedA); err != nil {
		return xerrors.Errorf("failed to save aligned image A: %w", err)
	}
	if err := enc.SaveGrid(pathB, r.CroppedB); err != nil {
		return xerrors.Errorf("failed to save aligned image B: %w", err)
	}
	if diffPath == "" {
		return nil
	}
	if err := enc.SaveImage(diffPath, r.Diff.Gray16()); err != nil {
		return xerrors.Errorf("failed to save difference map: %w", err)
	}
	return nil
}
