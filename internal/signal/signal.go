// SPDX-License-Identifier: MIT

// Package signal defines the named analysis signals, the demand masks used to
// request them and the dependency closure between them.
package signal

import (
	"math"
	"math/bits"
	"strings"
)

// ID identifies one independently computable analysis signal.
type ID uint8

const (
	SpeechPresence ID = iota
	VoicingScore
	VoicingState
	FricativeActivity
	SibilanceEnergy
	OnsetFluxHigh
	PitchHz
	PitchConfidence
	SpectralFlux
	HnrDb
	FormantF1Hz
	FormantF2Hz
	FormantF3Hz
	FormantConfidence
	VowelRatio
	SpectralCentroid

	Count
)

var names = [Count]string{
	"SpeechPresence", "VoicingScore", "VoicingState", "FricativeActivity",
	"SibilanceEnergy", "OnsetFluxHigh", "PitchHz", "PitchConfidence",
	"SpectralFlux", "HnrDb", "FormantF1Hz", "FormantF2Hz", "FormantF3Hz",
	"FormantConfidence", "VowelRatio", "SpectralCentroid",
}

func (id ID) String() string {
	if id >= Count {
		return "Unknown"
	}
	return names[id]
}

// Voicing states published through the VoicingState signal.
const (
	Silence  = 0
	Unvoiced = 1
	Voiced   = 2
)

// Mask is a set of signal IDs.
type Mask uint32

// All contains every signal.
const All Mask = 1<<Count - 1

// MaskOf builds a mask from ids.
func MaskOf(ids ...ID) Mask {
	var m Mask
	for _, id := range ids {
		m |= 1 << id
	}
	return m
}

func (m Mask) Has(id ID) bool       { return m&(1<<id) != 0 }
func (m Mask) With(id ID) Mask      { return m | 1<<id }
func (m Mask) Contains(o Mask) bool { return m&o == o }
func (m Mask) Len() int             { return bits.OnesCount32(uint32(m & All)) }

func (m Mask) String() string {
	if m == 0 {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	for id := ID(0); id < Count; id++ {
		if !m.Has(id) {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		sb.WriteString(id.String())
		first = false
	}
	sb.WriteByte('}')
	return sb.String()
}

// dependencies lists, for each signal, the signals it needs computed in the
// same hop. The table may be cyclic; Expand iterates to a fixed point.
var dependencies = [Count]Mask{
	PitchHz:           MaskOf(PitchConfidence),
	PitchConfidence:   MaskOf(PitchHz),
	VoicingScore:      MaskOf(PitchConfidence),
	VoicingState:      MaskOf(VoicingScore, PitchConfidence, SpeechPresence),
	HnrDb:             MaskOf(PitchHz),
	OnsetFluxHigh:     MaskOf(SpectralFlux),
	FormantF1Hz:       MaskOf(FormantF2Hz, FormantF3Hz, FormantConfidence, VoicingState, VowelRatio),
	FormantF2Hz:       MaskOf(FormantF1Hz),
	FormantF3Hz:       MaskOf(FormantF1Hz),
	FormantConfidence: MaskOf(FormantF1Hz),
}

// Expand returns the transitive closure of m over the dependency table.
func Expand(m Mask) Mask {
	m &= All
	for {
		next := m
		for id := ID(0); id < Count; id++ {
			if m.Has(id) {
				next |= dependencies[id]
			}
		}
		if next == m {
			return m
		}
		m = next
	}
}

// frameSignals need a windowed transform of the analysis window.
var frameSignals = MaskOf(
	VoicingScore, VoicingState, PitchHz, PitchConfidence, SpectralFlux,
	HnrDb, FormantF1Hz, FormantF2Hz, FormantF3Hz, FormantConfidence,
	VowelRatio, SpectralCentroid, OnsetFluxHigh,
)

// StreamingSignals are computed sample by sample without a transform.
var StreamingSignals = MaskOf(SpeechPresence, FricativeActivity, SibilanceEnergy)

// NeedsFrameSignals reports whether m requires the per-hop transform.
func NeedsFrameSignals(m Mask) bool {
	return m&frameSignals != 0
}

type valueRange struct{ lo, hi float64 }

var ranges = [Count]valueRange{
	SpeechPresence:    {0, 1},
	VoicingScore:      {0, 1},
	VoicingState:      {Silence, Voiced},
	FricativeActivity: {0, 1},
	SibilanceEnergy:   {0, 1},
	OnsetFluxHigh:     {0, 1},
	PitchHz:           {0, 24000},
	PitchConfidence:   {0, 1},
	SpectralFlux:      {0, 1e6},
	HnrDb:             {-20, 60},
	FormantF1Hz:       {0, 24000},
	FormantF2Hz:       {0, 24000},
	FormantF3Hz:       {0, 24000},
	FormantConfidence: {0, 1},
	VowelRatio:        {0, 1},
	SpectralCentroid:  {0, 24000},
}

// Sanitize clamps v into the documented range of id. Non-finite values
// become 0. VoicingState is rounded to a valid state.
func Sanitize(id ID, v float32) float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) || id >= Count {
		return 0
	}
	r := ranges[id]
	if f < r.lo {
		f = r.lo
	} else if f > r.hi {
		f = r.hi
	}
	if id == VoicingState {
		f = math.Round(f)
	}
	return float32(f)
}

// Source is a time-indexed sample source for one signal.
type Source interface {
	ValueAt(sampleTime int64) float32
}

// Bus supplies externally computed signals, typically produced by plugins
// earlier in the processing chain. Source returns nil when the bus does not
// carry id.
type Bus interface {
	Source(id ID) Source
}

// NoProducer marks a signal no upstream producer has written.
const NoProducer int32 = -1

// Producers maps each signal to the index of the plugin that most recently
// produced it.
type Producers [Count]int32

// EmptyProducers returns a table with every entry set to NoProducer.
func EmptyProducers() Producers {
	var p Producers
	for i := range p {
		p[i] = NoProducer
	}
	return p
}
