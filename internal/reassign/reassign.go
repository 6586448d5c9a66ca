// SPDX-License-Identifier: MIT

// Package reassign builds sharpened spectrogram columns by moving each
// bin's energy to its reassigned time and frequency.
//
// Contributions are splatted into a small ring of display columns with
// max compositing. A column is final LatencyFrames hops after its own frame,
// once every later hop that could reach it has been added.
package reassign

import (
	"math"

	"vocalscope/internal/config"
	"vocalscope/internal/transform"
)

// LatencyFrames is the delay between a hop and the emission of its display
// column. It covers the largest time shift, 0.5 * MaxReassignSpread frames.
const LatencyFrames = 2

const ringSize = 2*LatencyFrames + 1

// Axis converts fractional analysis-bin positions to frequencies.
type Axis interface {
	FrequencyAt(pos float64) float64
}

// Splatter is owned by the analysis goroutine.
type Splatter struct {
	mode      config.ReassignMode
	threshold float64 // linear
	spread    float64

	cols  [ringSize][]float64
	head  int // column of the current hop
	added int
	out   []float64
}

// New returns a splatter for displayBins-wide columns.
func New(displayBins int, s config.Settings) *Splatter {
	sp := &Splatter{}
	sp.Configure(displayBins, s)
	return sp
}

// Configure applies s. Columns are cleared when the width changes.
func (s *Splatter) Configure(displayBins int, cfg config.Settings) {
	s.mode = cfg.Reassign
	s.threshold = math.Pow(10, cfg.ReassignThresholdDb/20)
	s.spread = cfg.ReassignSpread
	if len(s.out) == displayBins {
		return
	}
	for i := range s.cols {
		s.cols[i] = make([]float64, displayBins)
	}
	s.out = make([]float64, displayBins)
	s.Reset()
}

// Reset drops all pending columns.
func (s *Splatter) Reset() {
	for _, c := range s.cols {
		clear(c)
	}
	s.head = 0
	s.added = 0
}

// Ready reports whether Add has seen enough hops for its result to be a
// complete column.
func (s *Splatter) Ready() bool { return s.added > LatencyFrames }

func (s *Splatter) col(offset int) []float64 {
	return s.cols[((s.head+offset)%ringSize+ringSize)%ringSize]
}

// Add splats one hop and returns the finished column for the hop
// LatencyFrames earlier. mags are analysis magnitudes, gain the clarity
// display gain (nil for unity) and r the reassignment offsets. The returned
// slice is reused by the next call.
func (s *Splatter) Add(mags, gain []float64, r transform.Reassignment, axis Axis, display *transform.DisplayMap) []float64 {
	s.head = (s.head + 1) % ringSize
	clear(s.col(LatencyFrames)) // newest future column

	limit := 0.5 * s.spread
	bins := display.Bins()
	for k, m := range mags {
		if gain != nil {
			m *= gain[k]
		}
		if m <= 0 {
			continue
		}
		var dt, dk float64
		if m >= s.threshold {
			if s.mode&config.ReassignTime != 0 && k < len(r.Frames) {
				dt = clampAbs(r.Frames[k], limit)
			}
			if s.mode&config.ReassignFrequency != 0 && k < len(r.Bins) {
				dk = clampAbs(r.Bins[k], limit)
			}
		}

		pos := float64(k) + dk
		pLo := display.Position(axis.FrequencyAt(pos - 0.5))
		pHi := display.Position(axis.FrequencyAt(pos + 0.5))
		if pHi < -0.5 || pLo > float64(bins)-0.5 {
			continue
		}

		t0 := math.Floor(dt)
		wt := dt - t0
		s.splat(int(t0), (1-wt)*m, pLo, pHi, display, axis, pos)
		if wt > 0 {
			s.splat(int(t0)+1, wt*m, pLo, pHi, display, axis, pos)
		}
	}
	s.added++

	done := s.col(-LatencyFrames)
	copy(s.out, done)
	clear(done)
	return s.out
}

// splat composites v into column offset over the display bins centred
// inside [pLo, pHi]. A source narrower than one display bin is split bilinearly
// between the two bins around its centre.
func (s *Splatter) splat(offset int, v, pLo, pHi float64, display *transform.DisplayMap, axis Axis, pos float64) {
	if offset < -LatencyFrames || offset > LatencyFrames || v <= 0 {
		return
	}
	c := s.col(offset)
	last := len(c) - 1

	if pHi-pLo < 1 {
		p := display.Position(axis.FrequencyAt(pos))
		i := int(math.Floor(p))
		w := p - float64(i)
		if i >= 0 && i <= last {
			c[i] = math.Max(c[i], (1-w)*v)
		}
		if i+1 >= 0 && i+1 <= last {
			c[i+1] = math.Max(c[i+1], w*v)
		}
		return
	}
	lo := max(0, int(math.Ceil(pLo)))
	hi := min(last, int(math.Floor(pHi)))
	for i := lo; i <= hi; i++ {
		c[i] = math.Max(c[i], v)
	}
}

func clampAbs(v, limit float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-limit, math.Min(limit, v))
}
