// SPDX-License-Identifier: MIT

// Package pitch implements the fundamental-frequency detectors used by the
// extraction engine. A Detector owns every buffer it needs; Detect does not
// allocate.
package pitch

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"vocalscope/internal/config"
	"vocalscope/pkg/bitint"
)

// Result is one pitch estimate. Hz is 0 when no pitch was found.
type Result struct {
	Hz         float64
	Confidence float64
}

// Voiced reports whether a pitch was found.
func (r Result) Voiced() bool { return r.Hz > 0 }

// Default search range for voice.
const (
	DefaultMinHz = 50.0
	DefaultMaxHz = 1000.0
)

// Effective returns the algorithm that actually runs under transform.
// SWIPE scores FFT-bin harmonics and is not available under Constant-Q.
func Effective(algo config.PitchAlgorithm, transform config.TransformType) config.PitchAlgorithm {
	if algo == config.PitchSwipe && transform == config.TransformConstantQ {
		return config.PitchYin
	}
	return algo
}

// Detector runs one pitch algorithm on fixed-size frames.
type Detector struct {
	algo       config.PitchAlgorithm
	sampleRate float64
	frameSize  int
	minHz      float64
	maxHz      float64
	tauMin     int
	tauMax     int

	yin   yinState
	pyin  pyinState
	spec  spectrumState
	swipe swipeState
}

// NewDetector returns a detector for frames of frameSize samples at
// sampleRate searching [minHz, maxHz].
func NewDetector(algo config.PitchAlgorithm, sampleRate float64, frameSize int, minHz, maxHz float64) *Detector {
	if minHz <= 0 {
		minHz = DefaultMinHz
	}
	if maxHz <= minHz {
		maxHz = math.Max(DefaultMaxHz, minHz*2)
	}
	d := &Detector{
		algo:       algo,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		minHz:      minHz,
		maxHz:      maxHz,
	}
	d.tauMin = max(1, int(sampleRate/maxHz))
	d.tauMax = min(int(sampleRate/minHz), frameSize-1)

	switch algo {
	case config.PitchPYin:
		d.yin = newYinState(d.tauMax)
		d.pyin = newPyinState(d.tauMax)
	case config.PitchAutocorrelation, config.PitchCepstral:
		d.spec = newSpectrumState(frameSize, 2)
	case config.PitchSwipe:
		d.spec = newSpectrumState(frameSize, 1)
		d.swipe = newSwipeState(minHz, maxHz)
		d.swipe.loudness = make([]float64, len(d.spec.coeffs))
	default:
		d.algo = config.PitchYin
		d.yin = newYinState(d.tauMax)
	}
	return d
}

func (d *Detector) Algorithm() config.PitchAlgorithm { return d.algo }
func (d *Detector) FrameSize() int                   { return d.frameSize }
func (d *Detector) SampleRate() float64              { return d.sampleRate }

// Detect estimates the pitch of frame, which must hold FrameSize samples.
func (d *Detector) Detect(frame []float64) Result {
	if len(frame) < d.frameSize || d.tauMax <= d.tauMin {
		return Result{}
	}
	frame = frame[:d.frameSize]
	if silent(frame) {
		d.pyin.prevHz = 0
		return Result{}
	}

	var r Result
	switch d.algo {
	case config.PitchPYin:
		r = d.detectPYin(frame)
	case config.PitchAutocorrelation:
		r = d.detectACF(frame)
	case config.PitchCepstral:
		r = d.detectCepstral(frame)
	case config.PitchSwipe:
		r = d.detectSwipe(frame)
	default:
		r = d.detectYin(frame)
	}
	if r.Hz < d.minHz || r.Hz > d.maxHz || math.IsNaN(r.Hz) {
		return Result{}
	}
	r.Confidence = clamp01(r.Confidence)
	return r
}

// Reset drops tracking state carried between frames.
func (d *Detector) Reset() {
	d.pyin.prevHz = 0
}

func silent(frame []float64) bool {
	for _, v := range frame {
		if math.Abs(v) > 1e-7 {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// parabolic refines the extremum at i of y by fitting a parabola through its
// neighbours and returns the fractional index.
func parabolic(y []float64, i int) float64 {
	if i <= 0 || i >= len(y)-1 {
		return float64(i)
	}
	s0, s1, s2 := y[i-1], y[i], y[i+1]
	denom := 2 * (2*s1 - s2 - s0)
	if denom == 0 {
		return float64(i)
	}
	return float64(i) + (s2-s0)/denom
}

// spectrumState is the FFT workspace shared by the spectral detectors.
// pad is the zero-padding factor relative to the frame size.
type spectrumState struct {
	fft    *fourier.FFT
	input  []float64
	coeffs []complex128
	seq    []float64
	window []float64
}

func newSpectrumState(frameSize, pad int) spectrumState {
	n := bitint.NextPowerOfTwo(frameSize * pad)
	w := make([]float64, frameSize)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(frameSize-1)))
	}
	return spectrumState{
		fft:    fourier.NewFFT(n),
		input:  make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		seq:    make([]float64, n),
		window: w,
	}
}

// forward loads frame (optionally windowed) into the zero-padded input and
// transforms it.
func (s *spectrumState) forward(frame []float64, windowed bool) {
	for i := range s.input {
		s.input[i] = 0
	}
	for i, v := range frame {
		if windowed {
			v *= s.window[i]
		}
		s.input[i] = v
	}
	s.fft.Coefficients(s.coeffs, s.input)
}

// NormalizedAutocorrelation returns the normalized correlation of frame with
// itself shifted by lag samples (fractional lags interpolate linearly).
func NormalizedAutocorrelation(frame []float64, lag float64) float64 {
	n := len(frame)
	l0 := int(lag)
	if lag <= 0 || l0+1 >= n {
		return 0
	}
	frac := lag - float64(l0)
	var num, e0, e1 float64
	for i := 0; i+l0+1 < n; i++ {
		x := frame[i]
		y := frame[i+l0]*(1-frac) + frame[i+l0+1]*frac
		num += x * y
		e0 += x * x
		e1 += y * y
	}
	if e0 <= 0 || e1 <= 0 {
		return 0
	}
	return num / math.Sqrt(e0*e1)
}

// HarmonicToNoiseDb converts a normalized autocorrelation peak into a
// harmonics-to-noise ratio, 10*log10(r/(1-r)).
func HarmonicToNoiseDb(r float64) float64 {
	const eps = 1e-6
	r = math.Min(math.Max(r, eps), 1-eps)
	return 10 * math.Log10(r/(1-r))
}
