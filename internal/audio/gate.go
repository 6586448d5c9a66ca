// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate silences blocks whose peak stays below a threshold so room noise does
// not reach the analysis. Settings may change from any goroutine while Apply
// runs on the audio thread.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Uint32 // float32 bits, 0..1
}

// NewGate returns a gate at threshold, enabled when threshold > 0.
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.SetThreshold(threshold)
	g.enabled.Store(threshold > 0)
	return g
}

func (g *Gate) Enable()       { g.enabled.Store(true) }
func (g *Gate) Disable()      { g.enabled.Store(false) }
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// SetThreshold adjusts the gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	threshold = math.Max(0, math.Min(1, threshold))
	g.threshold.Store(math.Float32bits(float32(threshold)))
}

// Threshold returns the current threshold as a value in 0.0-1.0.
func (g *Gate) Threshold() float64 {
	return float64(math.Float32frombits(g.threshold.Load()))
}

// Apply zeroes buffer when the gate is closed and reports whether it was
// open. A threshold of 1 keeps the gate closed for full-scale input.
func (g *Gate) Apply(buffer []float32) bool {
	if !g.enabled.Load() {
		return true
	}
	if peak(buffer) > math.Float32frombits(g.threshold.Load()) {
		return true
	}
	clear(buffer)
	return false
}

// peak returns the largest absolute sample.
func peak(buffer []float32) float32 {
	var p float32
	for _, v := range buffer {
		// Clear the sign bit instead of branching.
		a := math.Float32frombits(math.Float32bits(v) &^ (1 << 31))
		p = max(p, a)
	}
	return p
}
