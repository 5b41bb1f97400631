package registration

import (
	"context"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"golang.org/x/xerrors"

	"stackdiff/internal/models"
)

// fft2D transforms row-major complex planes of a fixed size.
type fft2D struct {
	rows, cols int

	real   *fourier.FFT
	rowFFT *fourier.CmplxFFT
	colFFT *fourier.CmplxFFT

	rowIn  []float64
	rowOut []complex128
	col    []complex128
}

func newFFT2D(rows, cols int) *fft2D {
	return &fft2D{
		rows:   rows,
		cols:   cols,
		real:   fourier.NewFFT(cols),
		rowFFT: fourier.NewCmplxFFT(cols),
		colFFT: fourier.NewCmplxFFT(rows),
		rowIn:  make([]float64, cols),
		rowOut: make([]complex128, cols/2+1),
		col:    make([]complex128, rows),
	}
}

// forwardReal computes the 2D spectrum of a real plane. Rows go through the
// real transform and are completed with conjugate symmetry, F(n-k) = F*(k),
// before the column pass.
func (f *fft2D) forwardReal(data []float64) []complex128 {
	out := make([]complex128, f.rows*f.cols)

	for i := 0; i < f.rows; i++ {
		copy(f.rowIn, data[i*f.cols:(i+1)*f.cols])
		f.real.Coefficients(f.rowOut, f.rowIn)

		row := out[i*f.cols : (i+1)*f.cols]
		copy(row, f.rowOut)
		for j := len(f.rowOut); j < f.cols; j++ {
			row[j] = cmplx.Conj(f.rowOut[f.cols-j])
		}
	}

	f.columns(out, f.colFFT.Coefficients)
	return out
}

// inverse turns a spectrum back into a plane, normalized by the plane area.
func (f *fft2D) inverse(freq []complex128) {
	for i := 0; i < f.rows; i++ {
		row := freq[i*f.cols : (i+1)*f.cols]
		f.rowFFT.Sequence(row, row)
	}
	f.columns(freq, f.colFFT.Sequence)

	scale := complex(1/float64(f.rows*f.cols), 0)
	for i := range freq {
		freq[i] *= scale
	}
}

func (f *fft2D) columns(data []complex128, transform func(dst, src []complex128) []complex128) {
	for j := 0; j < f.cols; j++ {
		for i := 0; i < f.rows; i++ {
			f.col[i] = data[i*f.cols+j]
		}
		transform(f.col, f.col)
		for i := 0; i < f.rows; i++ {
			data[i*f.cols+j] = f.col[i]
		}
	}
}

// fastLen returns the smallest n' >= n whose only prime factors are 2, 3
// and 5, the sizes the FFT handles efficiently.
func fastLen(n int) int {
	if n <= 1 {
		return 1
	}
	for m := n; ; m++ {
		k := m
		for _, p := range []int{2, 3, 5} {
			for k%p == 0 {
				k /= p
			}
		}
		if k == 1 {
			return m
		}
	}
}

// surfaceFFT computes the same score surface as surfaceDirect. The raw
// correlations come from the cross-power spectrum of A and the template:
// with both planes zero-padded to at least A's size, the circular
// correlation at every valid position never wraps.
func (e *Estimator) surfaceFFT(ctx context.Context, a, tmpl *models.Grid) (*models.Grid, error) {
	tw, th := tmpl.Width, tmpl.Height
	sw, sh := a.Width-tw+1, a.Height-th+1
	rows, cols := fastLen(a.Height), fastLen(a.Width)
	kernel, energyT := e.prepareTemplate(tmpl)

	plane := make([]float64, rows*cols)
	for y := 0; y < a.Height; y++ {
		copy(plane[y*cols:y*cols+a.Width], a.Row(y))
	}
	f := newFFT2D(rows, cols)
	freqA := f.forwardReal(plane)

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("template matching interrupted: %w", err)
	}

	for i := range plane {
		plane[i] = 0
	}
	for v := 0; v < th; v++ {
		copy(plane[v*cols:v*cols+tw], kernel[v*tw:(v+1)*tw])
	}
	freqT := f.forwardReal(plane)

	for i := range freqA {
		freqA[i] *= cmplx.Conj(freqT[i])
	}
	f.inverse(freqA)

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("template matching interrupted: %w", err)
	}

	sat := newSummedArea(a)
	surface := models.NewGrid(sw, sh)
	for y := 0; y < sh; y++ {
		row := surface.Row(y)
		for x := 0; x < sw; x++ {
			row[x] = e.normalize(real(freqA[y*cols+x]), energyT, sat, x, y, tw, th)
		}
	}
	return surface, nil
}
