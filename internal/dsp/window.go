// SPDX-License-Identifier: MIT
package dsp

import (
	"gonum.org/v1/gonum/dsp/window"

	"vocalscope/internal/config"
)

// Window returns n coefficients of the selected window function.
func Window(kind config.WindowFunc, n int) []float64 {
	coeffs := make([]float64, n)
	FillWindow(coeffs, kind)
	return coeffs
}

// FillWindow overwrites coeffs with the selected window function.
func FillWindow(coeffs []float64, kind config.WindowFunc) {
	// The window funcs multiply in place.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	if len(coeffs) < 2 {
		return
	}
	switch kind {
	case config.WindowHamming:
		window.Hamming(coeffs)
	case config.WindowBlackman:
		window.Blackman(coeffs)
	case config.WindowBlackmanHarris:
		window.BlackmanHarris(coeffs)
	case config.WindowBlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case config.WindowNuttall:
		window.Nuttall(coeffs)
	case config.WindowBartlettHann:
		window.BartlettHann(coeffs)
	case config.WindowFlatTop:
		window.FlatTop(coeffs)
	case config.WindowGaussian:
		window.Gaussian{Sigma: 0.4}.Transform(coeffs)
	case config.WindowTukey:
		window.Tukey{Alpha: 0.5}.Transform(coeffs)
	case config.WindowLanczos:
		window.Lanczos(coeffs)
	case config.WindowRectangular:
		window.Rectangular(coeffs)
	default:
		window.Hann(coeffs)
	}
}

// GaussianWindow returns a Gaussian window with the given sigma (relative to
// half the window length).
func GaussianWindow(n int, sigma float64) []float64 {
	return window.NewValues(window.Gaussian{Sigma: sigma}.Transform, n)
}

// CoherentGain returns sum(w)/2, the amplitude a full-scale sine of a
// bin-centred frequency produces in a one-sided magnitude spectrum.
func CoherentGain(w []float64) float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum / 2
}

// TimeWeighted fills dst with (n - (N-1)/2) * w[n], the window used for the
// time-reassignment transform.
func TimeWeighted(dst, w []float64) {
	center := float64(len(w)-1) / 2
	for i, v := range w {
		dst[i] = (float64(i) - center) * v
	}
}

// Derivative fills dst with the central-difference derivative of w (per
// sample), the window used for the frequency-reassignment transform.
func Derivative(dst, w []float64) {
	n := len(w)
	for i := range w {
		var prev, next float64
		if i > 0 {
			prev = w[i-1]
		}
		if i < n-1 {
			next = w[i+1]
		}
		dst[i] = (next - prev) / 2
	}
}
