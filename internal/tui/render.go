// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"

	"vocalscope/internal/signal"
	"vocalscope/internal/store"
	"vocalscope/internal/synchub"
)

var (
	bars      = []rune("▁▂▃▄▅▆▇█")
	noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
)

// noteName returns the nearest equal-tempered note and the offset in cents,
// for example "A4 +0c". Non-positive frequencies give "-".
func noteName(hz float64) string {
	if hz <= 0 {
		return "-"
	}
	midi := 69 + 12*math.Log2(hz/440)
	n := int(math.Round(midi))
	cents := int(math.Round((midi - float64(n)) * 100))
	octave := n/12 - 1
	return fmt.Sprintf("%s%d %+dc", noteNames[((n%12)+12)%12], octave, cents)
}

func voicingName(v uint8) string {
	switch v {
	case signal.Voiced:
		return "voiced"
	case signal.Unvoiced:
		return "unvoiced"
	default:
		return "silence"
	}
}

// sparkline maps each value in [lo, hi] to a bar. NaN renders as a space.
func sparkline(values []float32, lo, hi float32) string {
	out := make([]rune, len(values))
	span := hi - lo
	for i, v := range values {
		if v != v {
			out[i] = ' '
			continue
		}
		x := float32(0)
		if span > 0 {
			x = (v - lo) / span
		}
		idx := int(x * float32(len(bars)-1))
		out[i] = bars[max(0, min(len(bars)-1, idx))]
	}
	return string(out)
}

// downsample fills dst with the maximum of the src values falling in each
// column.
func downsample(dst, src []float32) {
	if len(src) == 0 {
		for i := range dst {
			dst[i] = float32(math.NaN())
		}
		return
	}
	for i := range dst {
		a := i * len(src) / len(dst)
		b := max((i+1)*len(src)/len(dst), a+1)
		m := src[a]
		for _, v := range src[a:min(b, len(src))] {
			m = max(m, v)
		}
		dst[i] = m
	}
}

// pitchHistory samples the voiced pitch of the frames in view into dst, one
// column per slot. frames hold ids first..first+len(frames)-1. Columns with
// no frame or no voiced pitch are NaN.
func pitchHistory(dst []float32, frames []store.PitchFrame, first int64, view synchub.View) {
	width := view.Width()
	nan := float32(math.NaN())
	for i := range dst {
		dst[i] = nan
		if width <= 0 {
			continue
		}
		id := view.StartFrame + int64(i)*width/int64(len(dst))
		j := id - first
		if j < 0 || j >= int64(len(frames)) {
			continue
		}
		if f := frames[j]; f.Voicing == signal.Voiced && f.Hz > 0 {
			dst[i] = f.Hz
		}
	}
}

// pitchRange returns the bounds of the finite values in v, widened to at
// least an octave around their middle, or the typical voice range.
func pitchRange(v []float32) (lo, hi float32) {
	lo, hi = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, x := range v {
		if x == x {
			lo, hi = min(lo, x), max(hi, x)
		}
	}
	if lo > hi {
		return 60, 500
	}
	if hi < 2*lo {
		mid := float32(math.Sqrt(float64(lo * hi)))
		lo, hi = mid/float32(math.Sqrt2), mid*float32(math.Sqrt2)
	}
	return lo, hi
}
