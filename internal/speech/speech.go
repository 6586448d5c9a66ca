// SPDX-License-Identifier: MIT

// Package speech aggregates per-hop energy, band balance, pitch and voicing
// into speaking-rate and delivery metrics over a rolling window.
package speech

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"vocalscope/internal/signal"
)

const (
	WindowSec   = 4.0
	MinPauseSec = 0.15
	// A pause longer than this ends the speaking turn.
	MaxPauseSec = 1.0

	monotoneSemitones = 4.0
	minVoicedHops     = 10
	minSpeakingSec    = 0.25
)

// SpeakingState classifies the current delivery.
type SpeakingState uint8

const (
	Silent SpeakingState = iota
	Speaking
	Pausing
)

func (s SpeakingState) String() string {
	switch s {
	case Speaking:
		return "speaking"
	case Pausing:
		return "pausing"
	default:
		return "silent"
	}
}

// Input is one hop of aggregator input.
type Input struct {
	EnergyDb float64
	// Analysis spectrum and bin frequencies for the band ratios; may be nil.
	Mags  []float64
	Freqs []float64

	PitchHz  float64
	Voicing  uint8
	Flatness float64
	HnrDb    float64
	HnrValid bool
}

// Metrics is the aggregator output for one hop.
type Metrics struct {
	SyllableRate     float64 // syllables per second of window
	ArticulationRate float64 // syllables per second of speaking time
	PauseCount       int
	MeanPauseSec     float64
	PauseRatio       float64 // share of the window spent in pauses
	Monotone         float64 // 1 for a flat pitch contour
	Clarity          float64
	Intelligibility  float64
	State            SpeakingState
	Syllable         bool
	Emphasis         bool
	Bands            [NumBands]float64
}

type hopRecord struct {
	speaking bool
	syllable bool
	semis    float64 // NaN when unvoiced
	clarity  float64
}

// Aggregator is owned by the analysis goroutine.
type Aggregator struct {
	hopSec       float64
	minPauseHops int
	maxPauseHops int

	bands     *BandRatios
	syllables *SyllableDetector

	ring   []hopRecord
	head   int
	filled int
	semis  []float64
}

// NewAggregator returns an aggregator for hops of hopSec seconds.
func NewAggregator(hopSec float64) *Aggregator {
	a := &Aggregator{}
	a.Configure(hopSec)
	return a
}

// Configure resizes the window for a new hop duration. State is kept when the
// duration is unchanged.
func (a *Aggregator) Configure(hopSec float64) {
	if hopSec == a.hopSec && a.ring != nil {
		return
	}
	a.hopSec = hopSec
	n := max(1, int(math.Ceil(WindowSec/hopSec)))
	a.minPauseHops = max(1, int(math.Ceil(MinPauseSec/hopSec)))
	a.maxPauseHops = max(a.minPauseHops, int(math.Ceil(MaxPauseSec/hopSec)))
	a.bands = NewBandRatios()
	a.syllables = NewSyllableDetector(hopSec)
	a.ring = make([]hopRecord, n)
	a.semis = make([]float64, 0, n)
	a.Reset()
}

// Reset empties the window.
func (a *Aggregator) Reset() {
	a.bands.Reset()
	a.syllables.Reset()
	clear(a.ring)
	a.head, a.filled = 0, 0
}

// at returns the i-th record of the window, oldest first.
func (a *Aggregator) at(i int) *hopRecord {
	start := a.head - a.filled
	if start < 0 {
		start += len(a.ring)
	}
	return &a.ring[(start+i)%len(a.ring)]
}

// Process adds one hop and returns the metrics over the window ending at it.
func (a *Aggregator) Process(in Input) Metrics {
	var m Metrics
	if in.Mags != nil {
		m.Bands = a.bands.Process(in.Mags, in.Freqs)
	} else {
		for i, b := range a.bands.Bands() {
			m.Bands[i] = b.Ratio
		}
	}

	voiced := in.Voicing == signal.Voiced
	m.Syllable, m.Emphasis = a.syllables.Process(in.EnergyDb, voiced)

	rec := hopRecord{
		speaking: in.Voicing != signal.Silence,
		syllable: m.Syllable,
		semis:    math.NaN(),
	}
	if voiced && in.PitchHz > 0 {
		rec.semis = 12 * math.Log2(in.PitchHz/55)
	}
	if rec.speaking {
		rec.clarity = hopClarity(in)
	}
	a.ring[a.head] = rec
	a.head = (a.head + 1) % len(a.ring)
	a.filled = min(a.filled+1, len(a.ring))

	a.summarize(&m)
	return m
}

// hopClarity scores one speaking hop from its harmonicity and spectral
// flatness.
func hopClarity(in Input) float64 {
	tonal := clamp01(1 - in.Flatness)
	if !in.HnrValid {
		return tonal
	}
	return 0.6*clamp01(in.HnrDb/20) + 0.4*tonal
}

func (a *Aggregator) summarize(m *Metrics) {
	var syllables, speakingHops, pauseHops, pauses int
	var claritySum float64
	a.semis = a.semis[:0]

	run, seenSpeech := 0, false
	for i := range a.filled {
		r := a.at(i)
		if r.syllable {
			syllables++
		}
		if !math.IsNaN(r.semis) {
			a.semis = append(a.semis, r.semis)
		}
		if r.speaking {
			if seenSpeech && run >= a.minPauseHops {
				pauses++
				pauseHops += run
			}
			run = 0
			seenSpeech = true
			speakingHops++
			claritySum += r.clarity
			continue
		}
		run++
	}
	// trailing gap still in progress
	if seenSpeech && run >= a.minPauseHops && run <= a.maxPauseHops {
		pauses++
		pauseHops += run
	}

	windowSec := float64(a.filled) * a.hopSec
	speakingSec := float64(speakingHops) * a.hopSec
	m.SyllableRate = float64(syllables) / windowSec
	if speakingSec >= minSpeakingSec {
		m.ArticulationRate = float64(syllables) / speakingSec
	}
	m.PauseCount = pauses
	if pauses > 0 {
		m.MeanPauseSec = float64(pauseHops) * a.hopSec / float64(pauses)
	}
	m.PauseRatio = float64(pauseHops) / float64(a.filled)

	if len(a.semis) >= minVoicedHops {
		_, std := stat.MeanStdDev(a.semis, nil)
		m.Monotone = clamp01(1 - std/monotoneSemitones)
	}
	if speakingHops > 0 {
		m.Clarity = claritySum / float64(speakingHops)
	}
	m.Intelligibility = clamp01(0.5*m.Clarity +
		0.3*rateScore(m.ArticulationRate) +
		0.2*clamp01(m.Bands[BandPresence]/0.3))

	switch {
	case run == 0 && seenSpeech:
		m.State = Speaking
	case !seenSpeech || run > a.maxPauseHops:
		m.State = Silent
	case run < a.minPauseHops:
		m.State = Speaking
	default:
		m.State = Pausing
	}
}

// rateScore is 1 inside the comfortable articulation range of 3-6
// syllables per second and falls off linearly to 0 at 0 and 10.
func rateScore(rate float64) float64 {
	switch {
	case rate <= 0:
		return 0
	case rate < 3:
		return rate / 3
	case rate <= 6:
		return 1
	default:
		return clamp01((10 - rate) / 4)
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
