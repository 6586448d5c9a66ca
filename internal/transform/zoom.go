// SPDX-License-Identifier: MIT
package transform

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"vocalscope/internal/config"
	"vocalscope/internal/dsp"
	"vocalscope/pkg/bitint"
)

// ZoomFFT analyses a narrow band around a centre frequency: the input is
// mixed down to baseband, low-pass filtered and decimated by the zoom
// factor, then transformed with a complex FFT.
type ZoomFFT struct {
	sampleRate float64
	size       int
	factor     int
	centerHz   float64

	taps []float64
	osc  []complex128 // e^{-i 2pi fc n/sr} over the required input span
	cfft *fourier.CmplxFFT

	window   []float64
	timeWin  []float64
	derivWin []float64
	scale    float64

	base               []complex128
	seq                []complex128
	main, timed, deriv []complex128
	reassign           bool
}

// NewZoomFFT returns a zoom transform of size complex points centred on the
// midpoint of [minHz, maxHz].
func NewZoomFFT(sampleRate float64, size, factor int, minHz, maxHz float64, kind config.WindowFunc, reassign bool) (*ZoomFFT, error) {
	if !bitint.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("zoom fft size must be a power of 2, got %d", size)
	}
	if factor < 1 {
		return nil, fmt.Errorf("zoom factor must be positive, got %d", factor)
	}
	z := &ZoomFFT{
		sampleRate: sampleRate,
		size:       size,
		factor:     factor,
		centerHz:   (minHz + maxHz) / 2,
		cfft:       fourier.NewCmplxFFT(size),
		reassign:   reassign,
	}
	z.taps = lowpassTaps(8*factor+1, 0.5/float64(factor))

	z.osc = make([]complex128, z.RequiredInputSize())
	for n := range z.osc {
		z.osc[n] = cmplx.Exp(complex(0, -2*math.Pi*z.centerHz*float64(n)/sampleRate))
	}

	z.window = dsp.Window(kind, size)
	// A real sine keeps half its amplitude after mixing to complex baseband.
	z.scale = 1 / dsp.CoherentGain(z.window)
	z.base = make([]complex128, size)
	z.seq = make([]complex128, size)
	z.main = make([]complex128, size)
	if reassign {
		z.timeWin = make([]float64, size)
		z.derivWin = make([]float64, size)
		dsp.TimeWeighted(z.timeWin, z.window)
		dsp.Derivative(z.derivWin, z.window)
		z.timed = make([]complex128, size)
		z.deriv = make([]complex128, size)
	}
	return z, nil
}

// lowpassTaps returns a Blackman-windowed sinc with unity DC gain. cutoff is
// in cycles per sample.
func lowpassTaps(n int, cutoff float64) []float64 {
	taps := make([]float64, n)
	mid := float64(n-1) / 2
	for i := range taps {
		x := float64(i) - mid
		if x == 0 {
			taps[i] = 2 * cutoff
		} else {
			taps[i] = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
	}
	window.Blackman(taps)
	sum := 0.0
	for _, t := range taps {
		sum += t
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// RequiredInputSize is the number of input samples one transform consumes.
func (z *ZoomFFT) RequiredInputSize() int { return (z.size-1)*z.factor + len(z.taps) }

// OutputBins is the number of bins produced, spanning sampleRate/factor.
func (z *ZoomFFT) OutputBins() int   { return z.size }
func (z *ZoomFFT) Factor() int       { return z.factor }
func (z *ZoomFFT) CenterHz() float64 { return z.centerHz }

// Frequency returns the centre frequency (Hz) of output bin k.
func (z *ZoomFFT) Frequency(k int) float64 {
	binHz := z.sampleRate / float64(z.factor*z.size)
	return z.centerHz + float64(k-z.size/2)*binHz
}

// Process transforms the newest RequiredInputSize samples of history. Bins
// are ordered from lowest to highest frequency. dt is in input samples from
// the window centre and dk in output bins.
func (z *ZoomFFT) Process(history, mags, dt, dk []float64) {
	need := len(z.osc)
	start := len(history) - need
	for j := range z.base {
		var acc complex128
		off := j * z.factor
		for t, h := range z.taps {
			n := off + t
			if i := start + n; i >= 0 {
				acc += complex(history[i]*h, 0) * z.osc[n]
			}
		}
		z.base[j] = acc
	}

	z.transform(z.main, z.window)
	if z.reassign {
		z.transform(z.timed, z.timeWin)
		z.transform(z.deriv, z.derivWin)
	}
	perBin := float64(z.size) / (2 * math.Pi)
	for k := range z.size {
		c := z.cfft.UnshiftIdx(k)
		h := z.main[c]
		mags[k] = cmplx.Abs(h) * z.scale
		if z.reassign {
			t, f := reassignOffsets(h, z.timed[c], z.deriv[c], perBin)
			dt[k] = t * float64(z.factor)
			dk[k] = f
		}
	}
}

func (z *ZoomFFT) transform(dst []complex128, w []float64) {
	for i, v := range z.base {
		z.seq[i] = v * complex(w[i], 0)
	}
	z.cfft.Coefficients(dst, z.seq)
}
