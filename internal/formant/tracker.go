// SPDX-License-Identifier: MIT
package formant

import (
	"math"

	"vocalscope/internal/dsp"
)

// MaxFormants is the number of tracked formant slots (F1..F5).
const MaxFormants = 5

const (
	beamWidth      = 8
	maxCandidates  = 8 // order 16 gives at most 8 conjugate pole pairs
	emptySlotCost  = 1.5
	continuityTol  = 0.15 // relative jump that costs 1
	nominalTol     = 0.5  // relative distance from the nominal position that costs 1
	bandwidthScale = 800.0
	historyBlend   = 0.6
)

// Track is the tracker output for one frame.
type Track struct {
	Freq       [MaxFormants]float64 // 0 when the slot is empty
	Bandwidth  [MaxFormants]float64
	Confidence float64
}

type hypothesis struct {
	assign [MaxFormants]int8
	last   int8
	cost   float64
}

// Tracker resolves per-frame LPC pole candidates into a stable F1..F5 track.
// Candidates are assigned to slots in frequency order by a beam search whose
// cost combines continuity with the previous frame, distance from each
// slot's nominal position, and bandwidth. Confidence reflects how well the
// chosen track continues the previous one.
type Tracker struct {
	nominal [MaxFormants]float64
	prev    [MaxFormants]float64
	conf    float64
	frames  int

	beam [beamWidth]hypothesis
	next [beamWidth * (maxCandidates + 1)]hypothesis
}

// NewTracker returns a tracker whose nominal formant positions scale with
// ceilingHz (F_k = (2k-1) * ceiling / 11).
func NewTracker(ceilingHz float64) *Tracker {
	t := &Tracker{}
	for k := range t.nominal {
		t.nominal[k] = float64(2*k+1) * ceilingHz / 11
	}
	return t
}

func (t *Tracker) Reset() {
	t.prev = [MaxFormants]float64{}
	t.conf = 0
	t.frames = 0
}

func (t *Tracker) slotCost(k int, c dsp.Candidate) float64 {
	cost := math.Abs(c.Freq-t.nominal[k]) / (t.nominal[k] * nominalTol)
	if p := t.prev[k]; p > 0 {
		cost += math.Abs(c.Freq-p) / (p * continuityTol)
	}
	return cost + c.Bandwidth/bandwidthScale
}

// Update assigns cands (sorted by frequency) to formant slots.
func (t *Tracker) Update(cands []dsp.Candidate) Track {
	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}

	n := 1
	t.beam[0] = hypothesis{last: -1}
	for k := range t.beam[0].assign {
		t.beam[0].assign[k] = -1
	}

	for k := 0; k < MaxFormants; k++ {
		m := 0
		for _, h := range t.beam[:n] {
			skip := h
			skip.cost += emptySlotCost
			t.next[m] = skip
			m++
			for ci := int(h.last) + 1; ci < len(cands); ci++ {
				e := h
				e.assign[k] = int8(ci)
				e.last = int8(ci)
				e.cost += t.slotCost(k, cands[ci])
				t.next[m] = e
				m++
			}
		}
		n = t.selectBest(m)
	}

	best := t.beam[0]
	var out Track
	var cont float64
	var filled int
	for k, ci := range best.assign {
		if ci < 0 {
			continue
		}
		c := cands[ci]
		out.Freq[k] = c.Freq
		out.Bandwidth[k] = c.Bandwidth
		if k < 3 {
			filled++
			if p := t.prev[k]; p > 0 {
				cont += math.Exp(-math.Abs(c.Freq-p) / (p * continuityTol))
			} else {
				cont += 0.5
			}
		}
	}

	frameConf := cont / 3
	if t.frames == 0 {
		t.conf = frameConf
	} else {
		t.conf = historyBlend*t.conf + (1-historyBlend)*frameConf
	}
	t.frames++
	out.Confidence = t.conf

	for k := range t.prev {
		if out.Freq[k] > 0 {
			t.prev[k] = out.Freq[k]
		}
	}
	if filled == 0 {
		t.prev = [MaxFormants]float64{}
	}
	return out
}

// selectBest moves the beamWidth cheapest of next[:m] into beam, cheapest
// first, and returns how many were kept.
func (t *Tracker) selectBest(m int) int {
	keep := min(m, beamWidth)
	for i := 0; i < keep; i++ {
		best := i
		for j := i + 1; j < m; j++ {
			if t.next[j].cost < t.next[best].cost {
				best = j
			}
		}
		t.next[i], t.next[best] = t.next[best], t.next[i]
		t.beam[i] = t.next[i]
	}
	return keep
}
