// SPDX-License-Identifier: MIT
package pitch

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// cepstralFullScale is the cepstral peak height reported as full confidence.
const cepstralFullScale = 0.1

func (d *Detector) detectACF(frame []float64) Result {
	s := &d.spec
	s.forward(frame, false)
	for i, c := range s.coeffs {
		m := cmplx.Abs(c)
		s.coeffs[i] = complex(m*m, 0)
	}
	acf := s.fft.Sequence(s.seq, s.coeffs)
	r0 := acf[0]
	if r0 <= 0 {
		return Result{}
	}

	// Skip the zero-lag lobe before looking for the period peak.
	start := d.tauMin
	for start < d.tauMax && acf[start] > 0 {
		start++
	}
	best := -1
	for tau := max(start, 1); tau <= d.tauMax && tau+1 < len(acf); tau++ {
		if acf[tau] > acf[tau-1] && acf[tau] >= acf[tau+1] && (best < 0 || acf[tau] > acf[best]) {
			best = tau
		}
	}
	if best < 0 || acf[best] <= 0 {
		return Result{}
	}
	period := parabolic(acf[:d.tauMax+2], best)
	return Result{
		Hz:         d.sampleRate / period,
		Confidence: acf[best] / r0,
	}
}

func (d *Detector) detectCepstral(frame []float64) Result {
	s := &d.spec
	s.forward(frame, true)
	for i, c := range s.coeffs {
		s.coeffs[i] = complex(math.Log(cmplx.Abs(c)+1e-10), 0)
	}
	ceps := s.fft.Sequence(s.seq, s.coeffs)
	scale := 1 / float64(len(ceps))

	hi := min(d.tauMax, len(ceps)/2-1)
	best := -1
	for q := max(d.tauMin, 2); q <= hi; q++ {
		if best < 0 || ceps[q] > ceps[best] {
			best = q
		}
	}
	if best < 0 {
		return Result{}
	}
	quefrency := parabolic(ceps[:hi+1], best)
	return Result{
		Hz:         d.sampleRate / quefrency,
		Confidence: ceps[best] * scale / cepstralFullScale,
	}
}

// Cepstrum computes cepstral peak prominence from magnitude spectra of a
// fixed FFT size.
type Cepstrum struct {
	fft    *fourier.FFT
	coeffs []complex128
	seq    []float64
}

// NewCepstrum returns a workspace for spectra of an fftSize transform.
func NewCepstrum(fftSize int) *Cepstrum {
	return &Cepstrum{
		fft:    fourier.NewFFT(fftSize),
		coeffs: make([]complex128, fftSize/2+1),
		seq:    make([]float64, fftSize),
	}
}

// PeakProminence returns the height in dB of the cepstral peak in the
// quefrency range of [minHz, maxHz] above the regression line through that
// range. spectrum holds fftSize/2+1 linear magnitudes.
func (c *Cepstrum) PeakProminence(spectrum []float64, sampleRate, minHz, maxHz float64) float64 {
	if len(spectrum) < len(c.coeffs) || minHz <= 0 || maxHz <= minHz {
		return 0
	}
	for i := range c.coeffs {
		c.coeffs[i] = complex(20*math.Log10(spectrum[i]+1e-12), 0)
	}
	ceps := c.fft.Sequence(c.seq, c.coeffs)
	n := len(ceps)
	scale := 1 / float64(n)

	lo := max(2, int(sampleRate/maxHz))
	hi := min(int(sampleRate/minHz), n/2-1)
	if hi <= lo+2 {
		return 0
	}

	// Least-squares line through the searched range.
	var sx, sy, sxx, sxy float64
	peak, peakQ := math.Inf(-1), lo
	for q := lo; q <= hi; q++ {
		x, y := float64(q), ceps[q]*scale
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
		if y > peak {
			peak, peakQ = y, q
		}
	}
	cnt := float64(hi - lo + 1)
	den := cnt*sxx - sx*sx
	if den == 0 {
		return 0
	}
	slope := (cnt*sxy - sx*sy) / den
	icept := (sy - slope*sx) / cnt
	return math.Max(0, peak-(icept+slope*float64(peakQ)))
}
