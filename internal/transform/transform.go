// SPDX-License-Identifier: MIT

/*
Package transform produces the magnitude spectrum of each hop and its
display-shaped version.

Three strategies are available and exactly one is active:

  - FFT: power-of-two short-time transform with a configurable window
  - ConstantQ: log-spaced bins with per-bin kernel lengths
  - ZoomFFT: a narrow band around the centre of the frequency range

With reassignment enabled the active strategy also reports, per bin, a time
offset in hops and a frequency offset in analysis bins.
*/
package transform

import (
	"fmt"
	"math"

	"vocalscope/internal/config"
)

// Descriptor maps bins to frequencies for the active transform.
type Descriptor struct {
	Transform  config.TransformType
	Scale      config.FrequencyScale
	SampleRate float64
	FFTSize    int
	HopSize    int
	MinHz      float64
	MaxHz      float64

	AnalysisFrequencies []float64
	DisplayFrequencies  []float64
}

func (d Descriptor) AnalysisBins() int { return len(d.AnalysisFrequencies) }
func (d Descriptor) DisplayBins() int  { return len(d.DisplayFrequencies) }

// Clone returns a copy that shares no slices with d.
func (d Descriptor) Clone() Descriptor {
	d.AnalysisFrequencies = append([]float64(nil), d.AnalysisFrequencies...)
	d.DisplayFrequencies = append([]float64(nil), d.DisplayFrequencies...)
	return d
}

// Reassignment holds per-bin offsets for the last processed hop.
type Reassignment struct {
	Frames []float64 // time offset in hops from the frame centre
	Bins   []float64 // frequency offset in analysis bins
}

// Engine runs the configured transform. It is owned by the analysis
// goroutine.
type Engine struct {
	sampleRate float64
	settings   config.Settings
	kind       config.TransformType
	hop        int

	fft  *FFT
	cqt  *ConstantQ
	zoom *ZoomFFT

	freqs    []float64
	mags     []float64
	dt, dk   []float64
	reassign bool
	weights  []float64 // A-weighting per analysis bin

	display *DisplayMap
	desc    Descriptor
}

// New returns an engine configured from s.
func New(sampleRate float64, s config.Settings) (*Engine, error) {
	e := &Engine{sampleRate: sampleRate}
	if err := e.Configure(s); err != nil {
		return nil, err
	}
	return e, nil
}

// Configure rebuilds the active transform and display mapping.
func (e *Engine) Configure(s config.Settings) error {
	if e.sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %f", e.sampleRate)
	}
	e.settings = s
	e.kind = s.Transform
	e.hop = s.HopSize()
	e.reassign = s.Reassign.Enabled()
	e.fft, e.cqt, e.zoom = nil, nil, nil

	maxHz := math.Min(s.MaxFrequency, e.sampleRate/2)
	minHz := math.Min(s.MinFrequency, maxHz/2)

	switch e.kind {
	case config.TransformConstantQ:
		e.cqt = NewConstantQ(e.sampleRate, minHz, maxHz, s.BinsPerOctave, e.hop)
		e.freqs = append(e.freqs[:0], e.cqt.Frequencies()...)
	case config.TransformZoomFFT:
		z, err := NewZoomFFT(e.sampleRate, s.FFTSize, s.ZoomFactor, minHz, maxHz, s.Window, e.reassign)
		if err != nil {
			return err
		}
		e.zoom = z
		e.freqs = e.freqs[:0]
		for k := range z.OutputBins() {
			e.freqs = append(e.freqs, z.Frequency(k))
		}
	default:
		f, err := NewFFT(s.FFTSize, e.sampleRate, s.Window, e.reassign)
		if err != nil {
			return err
		}
		e.fft = f
		e.freqs = e.freqs[:0]
		for k := range f.Bins() {
			e.freqs = append(e.freqs, f.Frequency(k))
		}
	}

	n := len(e.freqs)
	e.mags = make([]float64, n)
	e.dt = make([]float64, n)
	e.dk = make([]float64, n)
	e.weights = make([]float64, n)
	for k, f := range e.freqs {
		e.weights[k] = aWeight(f)
	}

	e.display = NewDisplayMap(s.Scale, minHz, maxHz, s.DisplayBins, e.freqs)
	e.desc = Descriptor{
		Transform:           e.kind,
		Scale:               s.Scale,
		SampleRate:          e.sampleRate,
		FFTSize:             s.FFTSize,
		HopSize:             e.hop,
		MinHz:               minHz,
		MaxHz:               maxHz,
		AnalysisFrequencies: e.freqs,
		DisplayFrequencies:  e.display.Centers(),
	}
	return nil
}

func (e *Engine) Kind() config.TransformType { return e.kind }
func (e *Engine) Bins() int                  { return len(e.freqs) }
func (e *Engine) Frequencies() []float64     { return e.freqs }
func (e *Engine) Display() *DisplayMap       { return e.display }
func (e *Engine) Reassigning() bool          { return e.reassign }

// Descriptor returns a copy of the active bin mapping.
func (e *Engine) Descriptor() Descriptor { return e.desc.Clone() }

// InputSize is the number of newest samples Process reads.
func (e *Engine) InputSize() int {
	switch e.kind {
	case config.TransformConstantQ:
		return e.cqt.MaxWindowLength()
	case config.TransformZoomFFT:
		return e.zoom.RequiredInputSize()
	default:
		return e.fft.Size()
	}
}

// Reset drops state carried between hops.
func (e *Engine) Reset() {
	if e.cqt != nil {
		e.cqt.Reset()
	}
	clear(e.mags)
	clear(e.dt)
	clear(e.dk)
}

// Process transforms the newest InputSize samples of history and returns the
// normalized linear magnitudes. The slice is reused by the next call.
func (e *Engine) Process(history []float64) []float64 {
	switch e.kind {
	case config.TransformConstantQ:
		var dk []float64
		if e.reassign {
			dk = e.dk
		}
		e.cqt.Process(history, e.mags, dk)
	case config.TransformZoomFFT:
		e.zoom.Process(history, e.mags, e.dt, e.dk)
	default:
		e.fft.Process(history, e.mags, e.dt, e.dk)
	}
	if e.reassign && e.kind != config.TransformConstantQ {
		inv := 1 / float64(e.hop)
		for i := range e.dt {
			e.dt[i] *= inv
		}
	}
	e.normalize()
	return e.mags
}

// Reassignment returns the offsets of the last hop, or false when
// reassignment is disabled. Constant-Q reports no time offsets.
func (e *Engine) Reassignment() (Reassignment, bool) {
	if !e.reassign {
		return Reassignment{}, false
	}
	return Reassignment{Frames: e.dt, Bins: e.dk}, true
}

// FrequencyAt returns the frequency of a fractional analysis bin position.
func (e *Engine) FrequencyAt(pos float64) float64 {
	n := len(e.freqs)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return e.freqs[0]
	}
	i := int(math.Floor(pos))
	i = max(0, min(i, n-2))
	return e.freqs[i] + (pos-float64(i))*(e.freqs[i+1]-e.freqs[i])
}

func (e *Engine) normalize() {
	switch e.settings.Normalization {
	case config.NormalizePeak:
		peak := 0.0
		for _, m := range e.mags {
			peak = math.Max(peak, m)
		}
		if peak > 0 {
			scaleAll(e.mags, 1/peak)
		}
	case config.NormalizeRMS:
		sum := 0.0
		for _, m := range e.mags {
			sum += m * m
		}
		if rms := math.Sqrt(sum / float64(len(e.mags))); rms > 0 {
			scaleAll(e.mags, rmsReference/rms)
		}
	case config.NormalizeAWeighted:
		for i, w := range e.weights {
			e.mags[i] *= w
		}
	}
}

// rmsReference is the level RMS normalization maps the spectrum RMS to
// (-20 dBFS).
const rmsReference = 0.1

func scaleAll(x []float64, c float64) {
	for i := range x {
		x[i] *= c
	}
}

// aWeight returns the IEC 61672 A-weighting gain at hz, unity at 1 kHz.
func aWeight(hz float64) float64 {
	ra := func(f float64) float64 {
		f2 := f * f
		num := 12194.0 * 12194.0 * f2 * f2
		den := (f2 + 20.6*20.6) * math.Sqrt((f2+107.7*107.7)*(f2+737.9*737.9)) * (f2 + 12194.0*12194.0)
		return num / den
	}
	if hz <= 0 {
		return 0
	}
	return ra(hz) / ra(1000)
}
