// SPDX-License-Identifier: MIT
package transform

import (
	"math"
	"math/cmplx"
)

// maxCQWindow caps the kernel length of the lowest bins.
const maxCQWindow = 8192

// ConstantQ evaluates a log-spaced spectrum directly, one Hann-windowed
// complex exponential per bin. Every kernel ends at the newest sample, so
// high bins react faster than low ones.
type ConstantQ struct {
	sampleRate    float64
	binsPerOctave int
	hop           int
	q             float64

	freqs   []float64
	lengths []int
	step    []complex128 // e^{-i 2pi f/sr}
	winStep []complex128 // e^{i 2pi/N}
	maxLen  int

	phase    []float64
	hasPhase bool
}

// NewConstantQ returns a transform with bins from minHz up to maxHz (capped
// below Nyquist). hop is the spacing between successive Process calls and is
// used for the phase-derivative frequency estimate.
func NewConstantQ(sampleRate, minHz, maxHz float64, binsPerOctave, hop int) *ConstantQ {
	maxHz = math.Min(maxHz, 0.45*sampleRate)
	if minHz <= 0 || maxHz <= minHz {
		minHz, maxHz = 60, math.Min(8000, 0.45*sampleRate)
	}
	bpo := float64(binsPerOctave)
	count := int(math.Floor(bpo*math.Log2(maxHz/minHz))) + 1

	c := &ConstantQ{
		sampleRate:    sampleRate,
		binsPerOctave: binsPerOctave,
		hop:           max(1, hop),
		q:             1 / (math.Exp2(1/bpo) - 1),
		freqs:         make([]float64, count),
		lengths:       make([]int, count),
		step:          make([]complex128, count),
		winStep:       make([]complex128, count),
		phase:         make([]float64, count),
	}
	for k := range count {
		f := minHz * math.Exp2(float64(k)/bpo)
		n := min(maxCQWindow, int(math.Ceil(c.q*sampleRate/f)))
		n = max(n, 16)
		c.freqs[k] = f
		c.lengths[k] = n
		c.step[k] = cmplx.Exp(complex(0, -2*math.Pi*f/sampleRate))
		c.winStep[k] = cmplx.Exp(complex(0, 2*math.Pi/float64(n)))
		c.maxLen = max(c.maxLen, n)
	}
	return c
}

func (c *ConstantQ) BinCount() int          { return len(c.freqs) }
func (c *ConstantQ) MaxWindowLength() int   { return c.maxLen }
func (c *ConstantQ) BinsPerOctave() int     { return c.binsPerOctave }
func (c *ConstantQ) Frequencies() []float64 { return c.freqs }

// Reset forgets the phase history used for instantaneous frequency.
func (c *ConstantQ) Reset() {
	clear(c.phase)
	c.hasPhase = false
}

// Process evaluates every bin over the newest samples of history. mags
// receives sine-calibrated magnitudes. When dk is non-nil it receives each
// bin's instantaneous-frequency offset in bins, derived from the phase
// advance since the previous call.
func (c *ConstantQ) Process(history, mags, dk []float64) {
	end := len(history)
	for k, n := range c.lengths {
		start := end - n
		p := complex(1, 0)
		w := complex(1, 0)
		var acc complex128
		for j := start; j < end; j++ {
			if j >= 0 {
				win := 0.5 - 0.5*real(w)
				acc += complex(history[j]*win, 0) * p
			}
			p *= c.step[k]
			w *= c.winStep[k]
		}
		// Hann sums to n/2; a real sine puts half its amplitude in each sign.
		mags[k] = cmplx.Abs(acc) * 4 / float64(n)

		theta := cmplx.Phase(acc)
		if dk != nil {
			dk[k] = 0
			if c.hasPhase {
				dk[k] = c.binOffset(k, theta)
			}
		}
		c.phase[k] = theta
	}
	c.hasPhase = true
}

// binOffset converts the phase advance of bin k into a fractional bin offset.
func (c *ConstantQ) binOffset(k int, theta float64) float64 {
	f := c.freqs[k]
	expected := 2 * math.Pi * f * float64(c.hop) / c.sampleRate
	dev := wrapPhase(theta - c.phase[k] - expected)
	inst := f + dev*c.sampleRate/(2*math.Pi*float64(c.hop))
	if inst <= 0 {
		return 0
	}
	return float64(c.binsPerOctave) * math.Log2(inst/f)
}

func wrapPhase(p float64) float64 {
	p = math.Mod(p+math.Pi, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	return p - math.Pi
}
