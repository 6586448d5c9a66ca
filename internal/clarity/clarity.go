// SPDX-License-Identifier: MIT

// Package clarity reshapes magnitude spectra before display: voicing-aware
// noise reduction, harmonic/percussive separation, a pitch-locked harmonic
// comb and temporal or bilateral smoothing.
//
// Stages per mode:
//
//	None      passthrough
//	Noise     noise reduction, smoothing
//	Harmonic  noise reduction, HPSS, smoothing
//	Full      noise reduction, HPSS, harmonic comb (with HNR), smoothing
package clarity

import (
	"math"

	"vocalscope/internal/config"
	"vocalscope/internal/signal"
)

const (
	MaxDisplayGain = 4.0

	// Noise floor tracking per hop.
	floorAttackSilent = 0.2
	floorRiseSpeech   = 0.005
	minSpectralGain   = 0.1

	hpssFrames   = 9 // temporal median length
	hpssBins     = 8 // half-width of the frequency median
	combWidth    = 0.08
	bilateralRad = 3
	bilateralDb  = 6.0
)

// Input is the per-hop context clarity needs beyond the spectrum.
type Input struct {
	Freqs   []float64
	PitchHz float64
	Voicing uint8
}

// Processor is owned by the analysis goroutine.
type Processor struct {
	mode      config.ClarityMode
	amount    float64 // noise reduction
	boost     float64 // harmonic emphasis
	smoothing config.SmoothingMode
	smooth    float64

	floor    []float64
	hasFloor bool

	history [hpssFrames][]float64
	histLen int
	histPos int
	medBuf  []float64

	prev    []float64
	hasPrev bool

	out  []float64
	tmp  []float64
	gain []float64

	hnr      float64
	hnrValid bool
}

// New returns a processor for spectra of bins analysis bins.
func New(bins int, s config.Settings) *Processor {
	p := &Processor{}
	p.Configure(bins, s)
	return p
}

// Configure applies s. State is kept when the bin count is unchanged.
func (p *Processor) Configure(bins int, s config.Settings) {
	p.mode = s.Clarity
	p.amount = s.NoiseReduction
	p.boost = s.HarmonicBoost
	p.smoothing = s.Smoothing
	p.smooth = s.SmoothingAmount
	if len(p.out) == bins {
		return
	}
	p.floor = make([]float64, bins)
	for i := range p.history {
		p.history[i] = make([]float64, bins)
	}
	p.medBuf = make([]float64, max(hpssFrames, 2*hpssBins+1))
	p.prev = make([]float64, bins)
	p.out = make([]float64, bins)
	p.tmp = make([]float64, bins)
	p.gain = make([]float64, bins)
	p.Reset()
}

// Reset clears noise, HPSS and smoothing history.
func (p *Processor) Reset() {
	clear(p.floor)
	p.hasFloor = false
	for _, h := range p.history {
		clear(h)
	}
	p.histLen, p.histPos = 0, 0
	clear(p.prev)
	p.hasPrev = false
	for i := range p.gain {
		p.gain[i] = 1
	}
	p.hnr, p.hnrValid = 0, false
}

// Gain returns the per-bin display gain (processed / raw) of the last hop,
// clamped to [0, MaxDisplayGain].
func (p *Processor) Gain() []float64 { return p.gain }

// HnrDb returns the comb-derived harmonic-to-noise estimate of the last hop.
// It is only produced in Full mode with a voiced pitch.
func (p *Processor) HnrDb() (float64, bool) { return p.hnr, p.hnrValid }

// Process shapes mags and returns the result. mags is not modified; the
// returned slice is reused by the next call.
func (p *Processor) Process(mags []float64, in Input) []float64 {
	out := p.out[:len(mags)]
	copy(out, mags)
	p.hnrValid = false
	if p.mode == config.ClarityNone {
		for i := range p.gain {
			p.gain[i] = 1
		}
		return out
	}

	p.reduceNoise(out, in.Voicing)
	if p.mode >= config.ClarityHarmonic {
		p.separate(out)
	}
	if p.mode == config.ClarityFull && in.PitchHz > 0 && in.Voicing == signal.Voiced {
		p.comb(out, in.Freqs, in.PitchHz)
	}
	switch p.smoothing {
	case config.SmoothingEMA:
		p.ema(out)
	case config.SmoothingBilateral:
		p.bilateral(out)
	}

	for i, raw := range mags {
		g := 1.0
		if raw > 0 {
			g = out[i] / raw
		}
		p.gain[i] = math.Max(0, math.Min(MaxDisplayGain, g))
	}
	return out
}

// reduceNoise subtracts a per-bin noise floor. The floor follows the
// spectrum quickly in silence and only creeps upward during speech.
func (p *Processor) reduceNoise(x []float64, voicing uint8) {
	if !p.hasFloor {
		copy(p.floor, x)
		p.hasFloor = true
	}
	for i, m := range x {
		f := p.floor[i]
		switch {
		case voicing == signal.Silence:
			f += floorAttackSilent * (m - f)
		case m < f:
			f = m
		default:
			f += floorRiseSpeech * (m - f)
		}
		p.floor[i] = f
		if m > 0 {
			x[i] = m * math.Max(minSpectralGain, 1-p.amount*f/m)
		}
	}
}

// separate applies a soft harmonic mask from median filtering across time
// (harmonic) and frequency (percussive).
func (p *Processor) separate(x []float64) {
	copy(p.history[p.histPos], x)
	p.histPos = (p.histPos + 1) % hpssFrames
	p.histLen = min(p.histLen+1, hpssFrames)

	n := len(x)
	copy(p.tmp[:n], x)
	for i := range n {
		for j := range p.histLen {
			p.medBuf[j] = p.history[j][i]
		}
		h := median(p.medBuf[:p.histLen])

		lo, hi := max(0, i-hpssBins), min(n, i+hpssBins+1)
		k := copy(p.medBuf, p.tmp[lo:hi])
		v := median(p.medBuf[:k])

		mask := 1.0
		if d := h*h + v*v; d > 0 {
			mask = h * h / d
		}
		x[i] = p.tmp[i] * (1 - p.boost*(1-mask))
	}
}

// comb weights bins by their distance from the nearest harmonic of f0 and
// records the harmonic-to-noise ratio of the result.
func (p *Processor) comb(x, freqs []float64, f0 float64) {
	var harm, noise float64
	for i, m := range x {
		if i >= len(freqs) {
			break
		}
		h := freqs[i] / f0
		w := 0.0
		if h >= 0.5 {
			d := (h - math.Round(h)) / combWidth
			w = math.Exp(-0.5 * d * d)
		}
		e := m * m
		harm += w * e
		noise += (1 - w) * e
		x[i] = m * ((1 - p.boost) + p.boost*w)
	}
	if harm > 0 && noise > 0 {
		p.hnr = 10 * math.Log10(harm/noise)
		p.hnrValid = true
	}
}

func (p *Processor) ema(x []float64) {
	if !p.hasPrev {
		copy(p.prev, x)
		p.hasPrev = true
		return
	}
	a := p.smooth
	for i, v := range x {
		s := a*p.prev[i] + (1-a)*v
		x[i] = s
		p.prev[i] = s
	}
}

// bilateral smooths across frequency with an edge-preserving range kernel
// in dB, blended by the smoothing amount.
func (p *Processor) bilateral(x []float64) {
	n := len(x)
	for i, v := range x {
		p.tmp[i] = 20 * math.Log10(v+1e-12)
	}
	for i := range n {
		var sum, wsum float64
		for d := -bilateralRad; d <= bilateralRad; d++ {
			j := i + d
			if j < 0 || j >= n {
				continue
			}
			dr := (p.tmp[j] - p.tmp[i]) / bilateralDb
			ds := float64(d) / (bilateralRad / 2.0)
			w := math.Exp(-0.5 * (dr*dr + ds*ds))
			sum += w * math.Pow(10, p.tmp[j]/20)
			wsum += w
		}
		x[i] = (1-p.smooth)*x[i] + p.smooth*sum/wsum
	}
}

// median sorts buf in place (insertion sort; buf is short) and returns its
// middle value.
func median(buf []float64) float64 {
	if len(buf) == 0 {
		return 0
	}
	for i := 1; i < len(buf); i++ {
		v := buf[i]
		j := i - 1
		for ; j >= 0 && buf[j] > v; j-- {
			buf[j+1] = buf[j]
		}
		buf[j+1] = v
	}
	return buf[len(buf)/2]
}
