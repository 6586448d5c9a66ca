// SPDX-License-Identifier: MIT
package pitch

import "math"

// YinThreshold is the absolute CMND threshold of canonical YIN.
const YinThreshold = 0.15

type yinState struct {
	diff []float64
	cmnd []float64
}

func newYinState(tauMax int) yinState {
	if tauMax < 1 {
		tauMax = 1
	}
	return yinState{
		diff: make([]float64, tauMax+1),
		cmnd: make([]float64, tauMax+1),
	}
}

// difference fills the cumulative mean normalized difference function for
// lags 0..tauMax.
func (y *yinState) difference(frame []float64, tauMax int) {
	n := len(frame)
	for tau := 1; tau <= tauMax; tau++ {
		sum := 0.0
		for j := 0; j < n-tau; j++ {
			delta := frame[j] - frame[j+tau]
			sum += delta * delta
		}
		y.diff[tau] = sum
	}

	y.cmnd[0] = 1
	running := 0.0
	for tau := 1; tau <= tauMax; tau++ {
		running += y.diff[tau]
		if running > 0 {
			y.cmnd[tau] = y.diff[tau] * float64(tau) / running
		} else {
			y.cmnd[tau] = 1
		}
	}
}

// firstDip returns the first lag whose CMND falls below threshold, walked
// down to its local minimum, or -1.
func (y *yinState) firstDip(tauMin, tauMax int, threshold float64) int {
	for t := tauMin; t <= tauMax; t++ {
		if y.cmnd[t] < threshold {
			for t+1 <= tauMax && y.cmnd[t+1] < y.cmnd[t] {
				t++
			}
			return t
		}
	}
	return -1
}

func (y *yinState) refine(tau, tauMax int) float64 {
	if tau > 1 && tau < tauMax {
		return parabolic(y.cmnd[:tauMax+1], tau)
	}
	return float64(tau)
}

func (d *Detector) detectYin(frame []float64) Result {
	y := &d.yin
	y.difference(frame, d.tauMax)
	tau := y.firstDip(d.tauMin, d.tauMax, YinThreshold)
	if tau < 0 {
		return Result{}
	}
	period := y.refine(tau, d.tauMax)
	if period <= 0 {
		return Result{}
	}
	return Result{
		Hz:         d.sampleRate / period,
		Confidence: 1 - y.cmnd[tau],
	}
}

// pYIN replaces the single threshold with a prior over thresholds and picks
// among the resulting lag candidates with a pitch-continuity bias.

const (
	pyinThresholds     = 100
	pyinAbsentWeight   = 0.01
	pyinContinuityOcts = 0.25
)

type pyinState struct {
	weights []float64
	probs   []float64
	prevHz  float64
}

func newPyinState(tauMax int) pyinState {
	// Beta(2, 18) prior, mean 0.1.
	w := make([]float64, pyinThresholds)
	sum := 0.0
	for i := range w {
		x := float64(i+1) / pyinThresholds
		w[i] = x * math.Pow(1-x, 17)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return pyinState{
		weights: w,
		probs:   make([]float64, max(tauMax, 1)+1),
	}
}

func (d *Detector) detectPYin(frame []float64) Result {
	y := &d.yin
	p := &d.pyin
	y.difference(frame, d.tauMax)

	probs := p.probs[:d.tauMax+1]
	for i := range probs {
		probs[i] = 0
	}

	globalMin := d.tauMin
	for t := d.tauMin; t <= d.tauMax; t++ {
		if y.cmnd[t] < y.cmnd[globalMin] {
			globalMin = t
		}
	}

	for i, w := range p.weights {
		threshold := float64(i+1) / pyinThresholds
		if tau := y.firstDip(d.tauMin, d.tauMax, threshold); tau >= 0 {
			probs[tau] += w
		} else {
			probs[globalMin] += w * pyinAbsentWeight
		}
	}

	best, bestScore := -1, 0.0
	for tau := d.tauMin; tau <= d.tauMax; tau++ {
		if probs[tau] == 0 {
			continue
		}
		score := probs[tau]
		if p.prevHz > 0 {
			octs := math.Abs(math.Log2(d.sampleRate / float64(tau) / p.prevHz))
			score *= 0.3 + 0.7*math.Exp(-octs/pyinContinuityOcts)
		}
		if score > bestScore {
			best, bestScore = tau, score
		}
	}
	if best < 0 {
		p.prevHz = 0
		return Result{}
	}

	r := Result{
		Hz:         d.sampleRate / y.refine(best, d.tauMax),
		Confidence: probs[best],
	}
	if r.Confidence >= 0.3 {
		p.prevHz = r.Hz
	} else {
		p.prevHz = 0
	}
	return r
}
