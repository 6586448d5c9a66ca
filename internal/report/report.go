// SPDX-License-Identifier: MIT

// Package report collects every frame an analysis run writes and reduces
// them to a summary of the recording.
package report

import (
	"math"
	"slices"
	"time"

	"vocalscope/internal/analysis"
	"vocalscope/internal/signal"
	"vocalscope/internal/speech"
	"vocalscope/internal/store"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Capabilities are the results a Collector reads.
const Capabilities = analysis.Pitch | analysis.VoicingState | analysis.Formants | analysis.SpeechMetrics

// minFormantConfidence keeps poorly fitted formant frames out of the means.
const minFormantConfidence = 0.3

// Collector copies new frames out of the store on every Poll, so it must be
// polled faster than the store's history wraps. Frames it could not read in
// time are counted as missed.
type Collector struct {
	st *store.Store

	lastPitch, lastFormant, lastSpeech int64

	pitchBuf   []store.PitchFrame
	formantBuf []store.FormantFrame
	speechBuf  []store.SpeechFrame

	pitches  []store.PitchFrame
	formants []store.FormantFrame
	speech   store.SpeechFrame
	clarity  []float64
	missed   int64
}

func NewCollector(st *store.Store) *Collector {
	return &Collector{st: st, lastPitch: -1, lastFormant: -1, lastSpeech: -1}
}

// Poll reads the frames written since the previous call. It returns false
// when a read raced the writer; the frames are picked up next time.
func (c *Collector) Poll() bool {
	n := max(c.st.Capacity(), 1)
	if len(c.pitchBuf) < n {
		c.pitchBuf = make([]store.PitchFrame, n)
		c.formantBuf = make([]store.FormantFrame, n)
		c.speechBuf = make([]store.SpeechFrame, n)
	}

	ok := true
	if r, read := c.st.TryGetPitchRange(c.lastPitch, c.pitchBuf); read {
		c.pitches = append(c.pitches, c.pitchBuf[:r.Count]...)
		c.advance(&c.lastPitch, r, true)
	} else {
		ok = false
	}
	if r, read := c.st.TryGetFormantRange(c.lastFormant, c.formantBuf); read {
		c.formants = append(c.formants, c.formantBuf[:r.Count]...)
		c.advance(&c.lastFormant, r, false)
	} else {
		ok = false
	}
	if r, read := c.st.TryGetSpeechRange(c.lastSpeech, c.speechBuf); read {
		for _, f := range c.speechBuf[:r.Count] {
			if f.State != speech.Silent {
				c.clarity = append(c.clarity, float64(f.Clarity))
			}
		}
		if r.Count > 0 {
			c.speech = c.speechBuf[r.Count-1]
		}
		c.advance(&c.lastSpeech, r, false)
	} else {
		ok = false
	}
	return ok
}

// advance moves *last to the newest copied frame. A copy that does not
// continue from *last skipped frames; the pitch track counts them.
func (c *Collector) advance(last *int64, r store.Range, count bool) {
	if r.Count == 0 {
		return
	}
	if count && r.FullCopy && *last >= 0 {
		c.missed += max(r.FirstFrameID()-(*last+1), 0)
	}
	*last = r.LatestFrameID
}

// Frames returns the number of pitch frames collected.
func (c *Collector) Frames() int { return len(c.pitches) }

// Summary describes a whole recording. Pitch statistics cover voiced frames
// only.
type Summary struct {
	File     string  `yaml:"file" json:"file"`
	Duration float64 `yaml:"duration_sec" json:"duration_sec"`
	Frames   int     `yaml:"frames" json:"frames"`
	Missed   int64   `yaml:"missed_frames" json:"missed_frames"`

	VoicedRatio float64 `yaml:"voiced_ratio" json:"voiced_ratio"`
	Pitch       Stats   `yaml:"pitch_hz" json:"pitch_hz"`
	RangeSemi   float64 `yaml:"pitch_range_semitones" json:"pitch_range_semitones"`

	Formants [store.NumFormants]float64 `yaml:"formants_hz" json:"formants_hz"`

	SyllableRate     float64 `yaml:"syllable_rate" json:"syllable_rate"`
	ArticulationRate float64 `yaml:"articulation_rate" json:"articulation_rate"`
	Pauses           int     `yaml:"pauses" json:"pauses"`
	PauseRatio       float64 `yaml:"pause_ratio" json:"pause_ratio"`
	Monotone         float64 `yaml:"monotone" json:"monotone"`
	Clarity          float64 `yaml:"clarity" json:"clarity"`
	Intelligibility  float64 `yaml:"intelligibility" json:"intelligibility"`
}

type Stats struct {
	Mean   float64 `yaml:"mean" json:"mean"`
	StdDev float64 `yaml:"stddev" json:"stddev"`
	Min    float64 `yaml:"min" json:"min"`
	P10    float64 `yaml:"p10" json:"p10"`
	Median float64 `yaml:"median" json:"median"`
	P90    float64 `yaml:"p90" json:"p90"`
	Max    float64 `yaml:"max" json:"max"`
}

// Summarize reduces the collected frames.
func (c *Collector) Summarize(file string, duration time.Duration) Summary {
	s := Summary{
		File:     file,
		Duration: duration.Seconds(),
		Frames:   len(c.pitches),
		Missed:   c.missed,
	}

	voiced := make([]float64, 0, len(c.pitches))
	for _, p := range c.pitches {
		if p.Voicing == signal.Voiced && p.Hz > 0 {
			voiced = append(voiced, float64(p.Hz))
		}
	}
	if len(c.pitches) > 0 {
		s.VoicedRatio = float64(len(voiced)) / float64(len(c.pitches))
	}
	s.Pitch = describe(voiced)
	if s.Pitch.P10 > 0 {
		s.RangeSemi = 12 * math.Log2(s.Pitch.P90/s.Pitch.P10)
	}

	for i := range s.Formants {
		var sum float64
		var n int
		for _, f := range c.formants {
			if f.Confidence >= minFormantConfidence && f.Freq[i] > 0 {
				sum += float64(f.Freq[i])
				n++
			}
		}
		if n > 0 {
			s.Formants[i] = sum / float64(n)
		}
	}

	sp := c.speech
	s.SyllableRate = float64(sp.SyllableRate)
	s.ArticulationRate = float64(sp.ArticulationRate)
	s.Pauses = int(sp.PauseCount)
	s.PauseRatio = float64(sp.PauseRatio)
	s.Monotone = float64(sp.Monotone)
	s.Intelligibility = float64(sp.Intelligibility)
	if len(c.clarity) > 0 {
		s.Clarity = stat.Mean(c.clarity, nil)
	}
	return s
}

// describe returns order and moment statistics of x, or zeros when x is
// empty. x is sorted in place.
func describe(x []float64) Stats {
	if len(x) == 0 {
		return Stats{}
	}
	slices.Sort(x)
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		std = 0
	}
	return Stats{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(x),
		P10:    stat.Quantile(0.1, stat.Empirical, x, nil),
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, x, nil),
		Max:    floats.Max(x),
	}
}
