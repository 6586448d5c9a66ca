// SPDX-License-Identifier: MIT
package analysis

import (
	"strings"
	"sync"

	"vocalscope/internal/config"
	"vocalscope/internal/signal"
)

// Capability is a set of outputs a consumer needs.
type Capability uint16

const (
	Spectrogram Capability = 1 << iota
	Pitch
	Formants
	Harmonics
	Waveform
	SpeechMetrics
	VoicingState
	SpectralFeatures

	AllCapabilities = Spectrogram | Pitch | Formants | Harmonics | Waveform |
		SpeechMetrics | VoicingState | SpectralFeatures
)

var capabilityNames = []string{
	"spectrogram", "pitch", "formants", "harmonics", "waveform",
	"speech", "voicing", "features",
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for i, name := range capabilityNames {
		if c&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Mask returns the analysis signals c needs, before dependency expansion.
func (c Capability) Mask() signal.Mask {
	var m signal.Mask
	if c&Pitch != 0 {
		m |= signal.MaskOf(signal.PitchHz)
	}
	if c&VoicingState != 0 {
		m |= signal.MaskOf(signal.VoicingState)
	}
	if c&Formants != 0 {
		m |= signal.MaskOf(signal.FormantF1Hz, signal.FormantF2Hz, signal.FormantF3Hz, signal.FormantConfidence)
	}
	if c&SpeechMetrics != 0 {
		m |= signal.MaskOf(signal.SpeechPresence, signal.VoicingState, signal.PitchHz,
			signal.SpectralFlux, signal.HnrDb, signal.OnsetFluxHigh)
	}
	if c&SpectralFeatures != 0 {
		m |= signal.MaskOf(signal.SpectralFlux, signal.HnrDb, signal.SpectralCentroid)
	}
	if c&Harmonics != 0 {
		m |= signal.MaskOf(signal.PitchHz)
	}
	return m
}

// maskWith is Mask plus the previous-hop signals clarity reads while it
// shapes the spectrogram: voicing for noise tracking and, in Full mode, the
// pitch that places the harmonic comb.
func (c Capability) maskWith(clarityMode config.ClarityMode) signal.Mask {
	m := c.Mask()
	if c&Spectrogram == 0 {
		return m
	}
	switch clarityMode {
	case config.ClarityNone:
	case config.ClarityFull:
		m |= signal.MaskOf(signal.VoicingState, signal.PitchHz)
	default:
		m |= signal.MaskOf(signal.VoicingState)
	}
	return m
}

// needsTransform reports whether c needs the spectral transform.
func (c Capability) needsTransform() bool {
	return c&(Spectrogram|Harmonics|SpectralFeatures|SpeechMetrics) != 0
}

// Subscription is a consumer handle. Close releases it; the analysis
// goroutine stops when the last subscription is closed.
type Subscription struct {
	o    *Orchestrator
	id   uint64
	caps Capability
	once sync.Once
}

// Capabilities returns what this subscription asked for.
func (s *Subscription) Capabilities() Capability { return s.caps }

// Close unsubscribes. Calling it more than once is harmless.
func (s *Subscription) Close() error {
	s.once.Do(func() { s.o.unsubscribe(s.id) })
	return nil
}
