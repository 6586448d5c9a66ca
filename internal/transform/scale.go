// SPDX-License-Identifier: MIT
package transform

import (
	"math"
	"sort"

	"vocalscope/internal/config"
)

// Display levels are clamped to this range before any clarity gain.
const (
	FloorDb   = -120.0
	CeilingDb = 0.0
)

// toScale maps hz onto the axis of sc, where display bins are evenly spaced.
func toScale(sc config.FrequencyScale, hz float64) float64 {
	switch sc {
	case config.ScaleLinear:
		return hz
	case config.ScaleMel:
		return 2595 * math.Log10(1+hz/700)
	case config.ScaleERB:
		return 21.4 * math.Log10(1+0.00437*hz)
	case config.ScaleBark:
		return 26.81*hz/(1960+hz) - 0.53
	default:
		return math.Log2(math.Max(hz, 1e-3))
	}
}

func fromScale(sc config.FrequencyScale, v float64) float64 {
	switch sc {
	case config.ScaleLinear:
		return v
	case config.ScaleMel:
		return 700 * (math.Pow(10, v/2595) - 1)
	case config.ScaleERB:
		return (math.Pow(10, v/21.4) - 1) / 0.00437
	case config.ScaleBark:
		return 1960 * (v + 0.53) / (26.28 - v)
	default:
		return math.Exp2(v)
	}
}

// DisplayMap resamples an analysis spectrum onto display bins spaced evenly
// on a frequency scale. A display bin that covers one or more analysis bins
// takes their maximum; a narrower one interpolates at its centre.
type DisplayMap struct {
	scale      config.FrequencyScale
	sMin, sMax float64

	centers []float64
	lo, hi  []int     // analysis bin range, lo > hi when interpolating
	idx     []int     // left neighbour for interpolation
	frac    []float64 // weight of the right neighbour
}

// NewDisplayMap builds the mapping from analysis bins at freqs (ascending)
// to bins display bins between minHz and maxHz.
func NewDisplayMap(sc config.FrequencyScale, minHz, maxHz float64, bins int, freqs []float64) *DisplayMap {
	d := &DisplayMap{
		scale:   sc,
		sMin:    toScale(sc, minHz),
		sMax:    toScale(sc, maxHz),
		centers: make([]float64, bins),
		lo:      make([]int, bins),
		hi:      make([]int, bins),
		idx:     make([]int, bins),
		frac:    make([]float64, bins),
	}
	step := (d.sMax - d.sMin) / float64(bins)
	for i := range bins {
		edgeLo := fromScale(sc, d.sMin+step*float64(i))
		edgeHi := fromScale(sc, d.sMin+step*float64(i+1))
		center := fromScale(sc, d.sMin+step*(float64(i)+0.5))
		d.centers[i] = center

		d.lo[i] = sort.SearchFloat64s(freqs, edgeLo)
		d.hi[i] = sort.SearchFloat64s(freqs, edgeHi) - 1

		j := sort.SearchFloat64s(freqs, center)
		switch {
		case len(freqs) == 0:
		case j <= 0:
			d.idx[i], d.frac[i] = 0, 0
		case j >= len(freqs):
			d.idx[i], d.frac[i] = len(freqs)-1, 0
		default:
			d.idx[i] = j - 1
			d.frac[i] = (center - freqs[j-1]) / (freqs[j] - freqs[j-1])
		}
	}
	return d
}

func (d *DisplayMap) Bins() int                    { return len(d.centers) }
func (d *DisplayMap) Centers() []float64           { return d.centers }
func (d *DisplayMap) Scale() config.FrequencyScale { return d.scale }

// Position returns the fractional display bin of hz; bin i is centred at i.
func (d *DisplayMap) Position(hz float64) float64 {
	if hz <= 0 {
		hz = 1e-3
	}
	return (toScale(d.scale, hz)-d.sMin)/(d.sMax-d.sMin)*float64(len(d.centers)) - 0.5
}

// Map writes the display-resolution version of src (linear magnitudes) to
// dst.
func (d *DisplayMap) Map(src, dst []float64) {
	for i := range d.centers {
		if lo, hi := d.lo[i], d.hi[i]; lo <= hi && hi < len(src) {
			m := src[lo]
			for _, v := range src[lo+1 : hi+1] {
				m = math.Max(m, v)
			}
			dst[i] = m
			continue
		}
		j := d.idx[i]
		if j+1 >= len(src) {
			if j < len(src) {
				dst[i] = src[j]
			} else {
				dst[i] = 0
			}
			continue
		}
		dst[i] = src[j] + d.frac[i]*(src[j+1]-src[j])
	}
}

// ToDb converts linear magnitudes to dB clamped to [FloorDb, CeilingDb].
func ToDb(dst []float32, lin []float64) {
	for i, v := range lin {
		db := FloorDb
		if v > 0 {
			db = math.Max(FloorDb, math.Min(CeilingDb, 20*math.Log10(v)))
		}
		if math.IsNaN(db) {
			db = FloorDb
		}
		dst[i] = float32(db)
	}
}
