// SPDX-License-Identifier: MIT
package transform

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"vocalscope/internal/config"
	"vocalscope/internal/dsp"
	"vocalscope/pkg/bitint"
)

// fftWorkspace holds pre-allocated buffers for one real transform.
type fftWorkspace struct {
	input  []float64    // ...windowed input samples
	output []complex128 // ...complex coefficients
}

func newFFTWorkspace(size int) fftWorkspace {
	return fftWorkspace{
		input:  make([]float64, size),
		output: make([]complex128, size/2+1),
	}
}

// FFT is the short-time Fourier transform strategy. With reassignment enabled
// it runs two more transforms per hop, with a time-weighted and a derivative
// window.
type FFT struct {
	size       int
	sampleRate float64
	fftObj     *fourier.FFT
	window     []float64
	timeWin    []float64
	derivWin   []float64
	scale      float64 // 1 / coherent gain

	main, timed, deriv fftWorkspace
	reassign           bool
}

// NewFFT returns an FFT strategy for size-point transforms.
func NewFFT(size int, sampleRate float64, kind config.WindowFunc, reassign bool) (*FFT, error) {
	if !bitint.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	w := dsp.Window(kind, size)
	f := &FFT{
		size:       size,
		sampleRate: sampleRate,
		fftObj:     fourier.NewFFT(size),
		window:     w,
		scale:      1 / dsp.CoherentGain(w),
		main:       newFFTWorkspace(size),
		reassign:   reassign,
	}
	if reassign {
		f.timeWin = make([]float64, size)
		f.derivWin = make([]float64, size)
		dsp.TimeWeighted(f.timeWin, w)
		dsp.Derivative(f.derivWin, w)
		f.timed = newFFTWorkspace(size)
		f.deriv = newFFTWorkspace(size)
	}
	return f, nil
}

func (f *FFT) Size() int { return f.size }
func (f *FFT) Bins() int { return f.size/2 + 1 }

// Frequency returns the centre frequency (Hz) of bin i.
func (f *FFT) Frequency(i int) float64 {
	if i < 0 || i >= f.Bins() {
		return 0
	}
	return f.fftObj.Freq(i) * f.sampleRate
}

// Process transforms the newest Size samples of history. mags receives
// sine-calibrated linear magnitudes. When reassignment is enabled, dt
// receives each bin's time offset in samples from the window centre and dk
// its frequency offset in bins; otherwise they are left untouched.
func (f *FFT) Process(history, mags, dt, dk []float64) {
	start := len(history) - f.size
	for i := range f.size {
		var x float64
		if j := start + i; j >= 0 {
			x = history[j]
		}
		f.main.input[i] = x * f.window[i]
		if f.reassign {
			f.timed.input[i] = x * f.timeWin[i]
			f.deriv.input[i] = x * f.derivWin[i]
		}
	}

	f.fftObj.Coefficients(f.main.output, f.main.input)
	for i, c := range f.main.output {
		mags[i] = cmplx.Abs(c) * f.scale
	}
	if !f.reassign {
		return
	}

	f.fftObj.Coefficients(f.timed.output, f.timed.input)
	f.fftObj.Coefficients(f.deriv.output, f.deriv.input)
	perBin := float64(f.size) / (2 * math.Pi)
	for i, h := range f.main.output {
		dt[i], dk[i] = reassignOffsets(h, f.timed.output[i], f.deriv.output[i], perBin)
	}
}

// reassignOffsets returns the time offset (samples) and frequency offset
// (bins, given perBin bins per radian/sample) of a bin from its plain,
// time-weighted and derivative-window coefficients.
func reassignOffsets(h, th, dh complex128, perBin float64) (dt, dk float64) {
	power := real(h)*real(h) + imag(h)*imag(h)
	if power < 1e-20 {
		return 0, 0
	}
	hc := cmplx.Conj(h)
	dt = real(th*hc) / power
	dk = -imag(dh*hc) / power * perBin
	return dt, dk
}
