// SPDX-License-Identifier: MIT

// Package formant estimates vocal-tract resonances from short voiced frames:
// decimation toward twice the formant ceiling, pre-emphasis, a Gaussian
// window, Burg LPC, pole-to-candidate conversion and beam-search tracking.
package formant

import (
	"math"

	"vocalscope/internal/config"
	"vocalscope/internal/dsp"
)

const (
	preEmphasisCoef = 0.97
	gaussianSigma   = 0.4
	minFormantHz    = 90.0
	maxLPCOrder     = 16
)

// Order returns the LPC order used for a formant ceiling.
func Order(ceilingHz float64) int {
	return min(maxLPCOrder, int(2+ceilingHz/1000*2))
}

// Extractor turns analysis windows at the input rate into formant tracks.
type Extractor struct {
	sampleRate float64
	ceiling    float64
	rate       float64 // after decimation
	stages     []*dsp.Decimator
	emphasis   float64

	window  []float64
	scratch [2][]float64
	burg    *dsp.BurgWorkspace
	cands   []dsp.Candidate
	tracker *Tracker
}

// NewExtractor returns an extractor for windows of windowLen input samples.
func NewExtractor(sampleRate float64, windowLen int, profile config.FormantProfile) *Extractor {
	ceiling := profile.CeilingHz()
	e := &Extractor{
		sampleRate: sampleRate,
		ceiling:    ceiling,
		rate:       sampleRate,
		emphasis:   preEmphasisCoef,
		tracker:    NewTracker(ceiling),
		cands:      make([]dsp.Candidate, 0, maxLPCOrder),
	}
	for _, f := range dsp.DecimationPlan(sampleRate, 2*ceiling) {
		e.stages = append(e.stages, dsp.NewDecimator(e.rate, f))
		e.rate /= float64(f)
	}

	n := int(math.Ceil(float64(windowLen) * e.rate / sampleRate))
	e.scratch[0] = make([]float64, windowLen)
	e.scratch[1] = make([]float64, windowLen)
	e.window = dsp.GaussianWindow(n, gaussianSigma)
	e.burg = dsp.NewBurg(n, Order(ceiling))
	return e
}

// Rate is the sample rate the LPC analysis runs at.
func (e *Extractor) Rate() float64   { return e.rate }
func (e *Extractor) Ceiling() float64 { return e.ceiling }

// SetPreEmphasis turns the first-difference tilt correction on or off.
func (e *Extractor) SetPreEmphasis(on bool) {
	e.emphasis = 0
	if on {
		e.emphasis = preEmphasisCoef
	}
}

// Process analyses one window (oldest sample first) and returns the tracked
// formants.
func (e *Extractor) Process(frame []float64) Track {
	if len(frame) > len(e.scratch[0]) {
		frame = frame[len(frame)-len(e.scratch[0]):]
	}
	buf := e.scratch[0][:copy(e.scratch[0], frame)]
	for i, d := range e.stages {
		d.Reset()
		out := e.scratch[(i+1)%2]
		n := d.Process(buf, out)
		buf = out[:n]
	}
	if len(buf) > len(e.window) {
		buf = buf[len(buf)-len(e.window):]
	}

	if e.emphasis > 0 {
		dsp.PreEmphasis(buf, e.emphasis)
	}
	w := e.window[len(e.window)-len(buf):]
	for i := range buf {
		buf[i] *= w[i]
	}

	coeffs := e.burg.Coefficients(buf)
	e.cands = dsp.AppendFormantCandidates(e.cands[:0], coeffs, e.rate, minFormantHz, e.ceiling)
	return e.tracker.Update(e.cands)
}

// Reset clears tracking history.
func (e *Extractor) Reset() {
	e.tracker.Reset()
	for _, d := range e.stages {
		d.Reset()
	}
}
