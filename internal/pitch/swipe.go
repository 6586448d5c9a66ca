// SPDX-License-Identifier: MIT
package pitch

import (
	"math"
	"math/cmplx"
)

// SWIPE-style estimator: every candidate f0 on a log grid is scored by a
// kernel that rewards square-root magnitude at the first and prime
// harmonics and penalises the troughs half-way between them.

const swipeStepsPerOctave = 48

var swipeHarmonics = [...]float64{1, 2, 3, 5, 7, 11, 13}

type swipeState struct {
	minHz      float64
	candidates []float64
	scores     []float64
	weights    [len(swipeHarmonics)]float64
	loudness   []float64
}

func newSwipeState(minHz, maxHz float64) swipeState {
	octaves := math.Log2(maxHz / minHz)
	n := int(math.Ceil(octaves*swipeStepsPerOctave)) + 1
	cands := make([]float64, n)
	for i := range cands {
		cands[i] = minHz * math.Exp2(float64(i)/swipeStepsPerOctave)
	}
	s := swipeState{
		minHz:      minHz,
		candidates: cands,
		scores:     make([]float64, n),
	}
	for i, k := range swipeHarmonics {
		s.weights[i] = 1 / math.Sqrt(k)
	}
	return s
}

func (d *Detector) detectSwipe(frame []float64) Result {
	sp := &d.spec
	sw := &d.swipe
	sp.forward(frame, true)

	peak := 0.0
	for i, c := range sp.coeffs {
		v := math.Sqrt(cmplx.Abs(c))
		sw.loudness[i] = v
		peak = math.Max(peak, v)
	}
	if peak <= 0 {
		return Result{}
	}
	inv := 1 / peak
	for i := range sw.loudness {
		sw.loudness[i] *= inv
	}

	binHz := d.sampleRate / float64(len(sp.input))
	nyquist := d.sampleRate / 2
	at := func(hz float64) float64 {
		pos := hz / binHz
		i := int(pos)
		if i < 0 || i+1 >= len(sw.loudness) {
			return 0
		}
		frac := pos - float64(i)
		return sw.loudness[i]*(1-frac) + sw.loudness[i+1]*frac
	}

	best, bestScore, bestPresent := -1, 0.0, 0.0
	for c, f0 := range sw.candidates {
		score, present := 0.0, 0.0
		for i, k := range swipeHarmonics {
			hz := k * f0
			if hz >= nyquist {
				break
			}
			peakVal := at(hz)
			trough := 0.5 * (at(hz-0.5*f0) + at(hz+0.5*f0))
			score += sw.weights[i] * (peakVal - trough)
			if peakVal > 0.1 {
				present += sw.weights[i]
			}
		}
		sw.scores[c] = score
		if score > bestScore {
			best, bestScore, bestPresent = c, score, present
		}
	}
	if best < 0 || bestPresent == 0 {
		return Result{}
	}
	pos := parabolic(sw.scores, best)
	return Result{
		Hz:         sw.minHz * math.Exp2(pos/swipeStepsPerOctave),
		Confidence: bestScore / bestPresent,
	}
}
