// SPDX-License-Identifier: MIT

// Package dsp holds the small filters, windows and linear-prediction helpers
// shared by the extraction and transform stages. Everything here is
// allocation-free after construction unless documented otherwise.
package dsp

import "math"

// Biquad implements a second-order IIR filter (Direct Form I) on a single
// channel.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 float64
	y1, y2 float64
}

// Reset clears the filter state.
func (b *Biquad) Reset() {
	b.x1, b.x2, b.y1, b.y2 = 0, 0, 0, 0
}

// SetCoefficients sets the filter coefficients, normalizing by a0.
func (b *Biquad) SetCoefficients(b0, b1, b2, a0, a1, a2 float64) {
	inv := 1.0 / a0
	b.b0 = b0 * inv
	b.b1 = b1 * inv
	b.b2 = b2 * inv
	b.a1 = a1 * inv
	b.a2 = a2 * inv
}

// Process filters one sample.
func (b *Biquad) Process(x0 float64) float64 {
	y0 := b.b0*x0 + b.b1*b.x1 + b.b2*b.x2 - b.a1*b.y1 - b.a2*b.y2
	b.x2, b.x1 = b.x1, x0
	b.y2, b.y1 = b.y1, y0
	return y0
}

// ProcessBlock filters buf in place.
func (b *Biquad) ProcessBlock(buf []float64) {
	for i, x := range buf {
		buf[i] = b.Process(x)
	}
}

func rbjParams(sampleRate, frequency, q float64) (cosw, alpha float64) {
	nyq := sampleRate * 0.5
	if frequency >= nyq {
		frequency = nyq * 0.99
	}
	if frequency <= 0 {
		frequency = 1
	}
	omega := 2.0 * math.Pi * frequency / sampleRate
	return math.Cos(omega), math.Sin(omega) / (2.0 * q)
}

// SetLowpass configures as a lowpass filter.
func (b *Biquad) SetLowpass(sampleRate, frequency, q float64) {
	cosw, alpha := rbjParams(sampleRate, frequency, q)
	b.SetCoefficients((1-cosw)/2, 1-cosw, (1-cosw)/2, 1+alpha, -2*cosw, 1-alpha)
}

// SetHighpass configures as a highpass filter.
func (b *Biquad) SetHighpass(sampleRate, frequency, q float64) {
	cosw, alpha := rbjParams(sampleRate, frequency, q)
	b.SetCoefficients((1+cosw)/2, -(1 + cosw), (1+cosw)/2, 1+alpha, -2*cosw, 1-alpha)
}

// SetBandpass configures as a bandpass filter (constant 0 dB peak gain).
func (b *Biquad) SetBandpass(sampleRate, frequency, q float64) {
	cosw, alpha := rbjParams(sampleRate, frequency, q)
	b.SetCoefficients(alpha, 0, -alpha, 1+alpha, -2*cosw, 1-alpha)
}

// ButterworthQ is the Q of a second-order Butterworth section.
const ButterworthQ = 0.7071067811865476

// DCBlocker removes DC with a one-pole high-pass: y = x - x1 + r*y1.
type DCBlocker struct {
	r      float64
	x1, y1 float64
}

// NewDCBlocker returns a blocker with its corner near cutoffHz.
func NewDCBlocker(sampleRate, cutoffHz float64) *DCBlocker {
	r := 1 - 2*math.Pi*cutoffHz/sampleRate
	if r < 0.9 {
		r = 0.9
	}
	return &DCBlocker{r: r}
}

func (d *DCBlocker) Process(x float64) float64 {
	y := x - d.x1 + d.r*d.y1
	d.x1, d.y1 = x, y
	return y
}

func (d *DCBlocker) Reset() { d.x1, d.y1 = 0, 0 }

// Follower is a peak envelope follower with separate attack and release
// time constants.
type Follower struct {
	attackCoef  float64
	releaseCoef float64
	env         float64
}

// NewFollower returns a follower with the given attack and release times in
// seconds.
func NewFollower(sampleRate, attack, release float64) *Follower {
	f := &Follower{}
	f.SetTimes(sampleRate, attack, release)
	return f
}

// SetTimes recomputes the smoothing coefficients.
func (f *Follower) SetTimes(sampleRate, attack, release float64) {
	f.attackCoef = timeCoef(sampleRate, attack)
	f.releaseCoef = timeCoef(sampleRate, release)
}

func timeCoef(sampleRate, seconds float64) float64 {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1.0 / (seconds * sampleRate))
}

// Process feeds one sample and returns the envelope.
func (f *Follower) Process(x float64) float64 {
	in := math.Abs(x)
	coef := f.releaseCoef
	if in > f.env {
		coef = f.attackCoef
	}
	f.env = in + coef*(f.env-in)
	return f.env
}

func (f *Follower) Value() float64 { return f.env }
func (f *Follower) Reset()         { f.env = 0 }

// PreEmphasis applies y[n] = x[n] - coef*x[n-1] in place.
func PreEmphasis(buf []float64, coef float64) {
	prev := 0.0
	for i, x := range buf {
		buf[i] = x - coef*prev
		prev = x
	}
}

// Decimator low-pass filters and keeps every factor-th sample. It keeps its
// filter state between calls so it can run on a stream.
type Decimator struct {
	factor int
	phase  int
	lp     [2]Biquad
}

// NewDecimator returns a decimator by factor (1 passes samples through).
func NewDecimator(sampleRate float64, factor int) *Decimator {
	if factor < 1 {
		factor = 1
	}
	d := &Decimator{factor: factor}
	if factor > 1 {
		cutoff := 0.45 * sampleRate / float64(factor)
		d.lp[0].SetLowpass(sampleRate, cutoff, 0.5412)
		d.lp[1].SetLowpass(sampleRate, cutoff, 1.3066)
	}
	return d
}

func (d *Decimator) Factor() int { return d.factor }

// Process decimates in into out and returns the number of samples written.
// out must hold len(in)/factor+1 samples.
func (d *Decimator) Process(in, out []float64) int {
	if d.factor == 1 {
		return copy(out, in)
	}
	n := 0
	for _, x := range in {
		y := d.lp[1].Process(d.lp[0].Process(x))
		if d.phase == 0 && n < len(out) {
			out[n] = y
			n++
		}
		d.phase++
		if d.phase == d.factor {
			d.phase = 0
		}
	}
	return n
}

func (d *Decimator) Reset() {
	d.phase = 0
	d.lp[0].Reset()
	d.lp[1].Reset()
}

// DecimationPlan splits a total decimation factor for sampleRate toward
// targetRate into at most two integer stages.
func DecimationPlan(sampleRate, targetRate float64) []int {
	total := int(math.Floor(sampleRate / targetRate))
	if total <= 1 {
		return nil
	}
	for first := int(math.Sqrt(float64(total))); first >= 2; first-- {
		if total%first == 0 && total/first > 1 {
			return []int{total / first, first}
		}
	}
	return []int{total}
}
