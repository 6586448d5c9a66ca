// SPDX-License-Identifier: MIT
package transform

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// MaxHarmonics is the number of harmonic slots tracked per frame.
const MaxHarmonics = 24

// harmonicTolerance is the relative search half-width around k*f0.
const harmonicTolerance = 0.03

// Harmonics holds the peaks found near integer multiples of the pitch.
// Unfilled slots are zero.
type Harmonics struct {
	Freq      [MaxHarmonics]float32
	Magnitude [MaxHarmonics]float32
	Count     int
}

// FindHarmonics searches mags (bins at ascending freqs) for the local peak
// closest to each multiple of f0.
func FindHarmonics(mags, freqs []float64, f0 float64, out *Harmonics) {
	*out = Harmonics{}
	if f0 <= 0 || len(freqs) < 3 {
		return
	}
	top := freqs[len(freqs)-1]
	for h := 1; h <= MaxHarmonics; h++ {
		target := f0 * float64(h)
		if target > top {
			break
		}
		tol := math.Max(harmonicTolerance*target, f0/4)
		lo := sort.SearchFloat64s(freqs, target-tol)
		hi := sort.SearchFloat64s(freqs, target+tol)
		lo = max(lo, 1)
		hi = min(hi, len(freqs)-1)

		best, bestDist := -1, math.Inf(1)
		for i := lo; i < hi; i++ {
			if mags[i] < mags[i-1] || mags[i] < mags[i+1] || mags[i] == 0 {
				continue
			}
			if d := math.Abs(freqs[i] - target); d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 {
			continue
		}
		out.Freq[h-1] = float32(freqs[best])
		out.Magnitude[h-1] = float32(mags[best])
		out.Count++
	}
}

// Features are per-frame spectral descriptors.
type Features struct {
	CentroidHz float64
	SlopeDbKHz float64 // regression slope of dB over kHz
	Flatness   float64 // geometric / arithmetic mean
	Flux       float64 // positive half-wave spectral difference
	HnrDb      float64
	CppDb      float64
}

// FeatureTracker computes Features over an analysis spectrum and keeps the
// previous spectrum for flux.
type FeatureTracker struct {
	prev    []float64
	hasPrev bool
	dbs     []float64
	khz     []float64
}

func NewFeatureTracker(bins int) *FeatureTracker {
	return &FeatureTracker{
		prev: make([]float64, bins),
		dbs:  make([]float64, bins),
		khz:  make([]float64, bins),
	}
}

func (t *FeatureTracker) Reset() {
	clear(t.prev)
	t.hasPrev = false
}

// Compute fills centroid, slope, flatness and flux. HnrDb and CppDb are
// left for the caller.
func (t *FeatureTracker) Compute(mags, freqs []float64) Features {
	var f Features
	n := min(len(mags), len(freqs), len(t.prev))
	if n == 0 {
		return f
	}
	mags, freqs = mags[:n], freqs[:n]

	sum := floats.Sum(mags)
	if sum > 0 {
		f.CentroidHz = floats.Dot(mags, freqs) / sum
	}

	logSum := 0.0
	for i, m := range mags {
		logSum += math.Log(m + 1e-12)
		t.dbs[i] = 20 * math.Log10(m+1e-12)
		t.khz[i] = freqs[i] / 1000
	}
	if mean := sum / float64(n); mean > 0 {
		f.Flatness = math.Min(1, math.Exp(logSum/float64(n))/mean)
	}
	f.SlopeDbKHz = regressionSlope(t.khz[:n], t.dbs[:n])

	if t.hasPrev {
		for i, m := range mags {
			if d := m - t.prev[i]; d > 0 {
				f.Flux += d
			}
		}
	}
	copy(t.prev, mags)
	t.hasPrev = true
	return f
}

func regressionSlope(x, y []float64) float64 {
	n := float64(len(x))
	if n < 2 {
		return 0
	}
	mx, my := floats.Sum(x)/n, floats.Sum(y)/n
	var num, den float64
	for i := range x {
		dx := x[i] - mx
		num += dx * (y[i] - my)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}
