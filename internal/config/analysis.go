// SPDX-License-Identifier: MIT
package config

import (
	"math"
	"sync"
	"sync/atomic"
)

// Supported transform sizes and overlap fractions. OverlapIndex selects into
// Overlaps.
var (
	FFTSizes        = []int{1024, 2048, 4096, 8192}
	Overlaps        = []float64{0.5, 0.75, 0.875, 0.9375, 0.96875}
	CQBinsPerOctave = []int{12, 24, 48, 96}
)

// Boundaries applied by Settings.Clamp.
const (
	MinFrequencyHz    = 20.0
	MaxFrequencyHz    = 24000.0
	MinTimeWindow     = 1.0
	MaxTimeWindow     = 60.0
	MinDisplayBins    = 64
	MaxDisplayBins    = 4096
	MinReassignSpread = 0.5
	MaxReassignSpread = 4.0
	MinZoomFactor     = 2
	MaxZoomFactor     = 64

	DefaultSpeechPresenceDb    = -50.0
	DefaultVowelRatioThreshold = 0.15
)

// Settings is a plain-value snapshot of the analysis configuration. Values
// obtained from Analysis.Snapshot are always clamped.
type Settings struct {
	FFTSize      int
	OverlapIndex int
	TimeWindow   float64 // seconds of history retained by the result store
	MinFrequency float64
	MaxFrequency float64
	DisplayBins  int
	MinDb        float64
	MaxDb        float64

	Window          WindowFunc
	Scale           FrequencyScale
	Transform       TransformType
	BinsPerOctave   int
	ZoomFactor      int
	Normalization   NormalizationMode
	Pitch           PitchAlgorithm
	Formant         FormantProfile
	Clarity         ClarityMode
	NoiseReduction  float64 // 0..1
	HarmonicBoost   float64 // 0..1
	Smoothing       SmoothingMode
	SmoothingAmount float64 // 0..1

	PreEmphasis    bool
	HighPass       bool
	HighPassCutoff float64

	Reassign            ReassignMode
	ReassignThresholdDb float64
	ReassignSpread      float64

	SpeechPresenceDb    float64
	VowelRatioThreshold float64
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		FFTSize:             2048,
		OverlapIndex:        2,
		TimeWindow:          5,
		MinFrequency:        60,
		MaxFrequency:        8000,
		DisplayBins:         512,
		MinDb:               -100,
		MaxDb:               0,
		Window:              WindowHann,
		Scale:               ScaleLog,
		Transform:           TransformFFT,
		BinsPerOctave:       48,
		ZoomFactor:          8,
		Normalization:       NormalizeNone,
		Pitch:               PitchYin,
		Formant:             FormantAuto,
		Clarity:             ClarityNone,
		NoiseReduction:      0.5,
		HarmonicBoost:       0.5,
		Smoothing:           SmoothingEMA,
		SmoothingAmount:     0.3,
		PreEmphasis:         true,
		HighPass:            true,
		HighPassCutoff:      60,
		Reassign:            ReassignOff,
		ReassignThresholdDb: -60,
		ReassignSpread:      1,
		SpeechPresenceDb:    DefaultSpeechPresenceDb,
		VowelRatioThreshold: DefaultVowelRatioThreshold,
	}
}

// Overlap returns the overlap fraction selected by OverlapIndex.
func (s Settings) Overlap() float64 {
	return Overlaps[clampInt(s.OverlapIndex, 0, len(Overlaps)-1)]
}

// HopSize returns the hop for the current FFT size and overlap.
func (s Settings) HopSize() int {
	return HopSize(s.FFTSize, s.Overlap())
}

// FrameCapacity returns the number of frames covering TimeWindow.
func (s Settings) FrameCapacity(sampleRate float64) int {
	return FrameCapacity(s.TimeWindow, sampleRate, s.HopSize())
}

// Clamp snaps every field into its supported range.
func (s *Settings) Clamp() {
	s.FFTSize = NearestFFTSize(s.FFTSize)
	s.OverlapIndex = clampInt(s.OverlapIndex, 0, len(Overlaps)-1)
	s.TimeWindow = clampFloat(s.TimeWindow, MinTimeWindow, MaxTimeWindow, 5)
	s.MinFrequency = clampFloat(s.MinFrequency, MinFrequencyHz, MaxFrequencyHz, 60)
	s.MaxFrequency = clampFloat(s.MaxFrequency, MinFrequencyHz, MaxFrequencyHz, 8000)
	if s.MaxFrequency <= s.MinFrequency {
		s.MaxFrequency = math.Min(MaxFrequencyHz, s.MinFrequency*2)
		if s.MaxFrequency <= s.MinFrequency {
			s.MinFrequency = s.MaxFrequency / 2
		}
	}
	s.DisplayBins = clampInt(s.DisplayBins, MinDisplayBins, MaxDisplayBins)
	s.MaxDb = clampFloat(s.MaxDb, -60, 20, 0)
	s.MinDb = clampFloat(s.MinDb, -160, s.MaxDb-10, -100)
	s.Window = WindowFunc(clampInt(int(s.Window), 0, len(windowNames)-1))
	s.Scale = FrequencyScale(clampInt(int(s.Scale), 0, len(scaleNames)-1))
	s.Transform = TransformType(clampInt(int(s.Transform), 0, len(transformNames)-1))
	s.BinsPerOctave = nearestInt(CQBinsPerOctave, s.BinsPerOctave)
	s.ZoomFactor = clampInt(s.ZoomFactor, MinZoomFactor, MaxZoomFactor)
	s.Normalization = NormalizationMode(clampInt(int(s.Normalization), 0, len(normalizationNames)-1))
	s.Pitch = PitchAlgorithm(clampInt(int(s.Pitch), 0, len(pitchNames)-1))
	s.Formant = FormantProfile(clampInt(int(s.Formant), 0, len(formantNames)-1))
	s.Clarity = ClarityMode(clampInt(int(s.Clarity), 0, len(clarityNames)-1))
	s.NoiseReduction = clampFloat(s.NoiseReduction, 0, 1, 0.5)
	s.HarmonicBoost = clampFloat(s.HarmonicBoost, 0, 1, 0.5)
	s.Smoothing = SmoothingMode(clampInt(int(s.Smoothing), 0, len(smoothingNames)-1))
	s.SmoothingAmount = clampFloat(s.SmoothingAmount, 0, 1, 0.3)
	s.HighPassCutoff = clampFloat(s.HighPassCutoff, 20, 400, 60)
	s.Reassign &= ReassignBoth
	s.ReassignThresholdDb = clampFloat(s.ReassignThresholdDb, -120, 0, -60)
	s.ReassignSpread = clampFloat(s.ReassignSpread, MinReassignSpread, MaxReassignSpread, 1)
	s.SpeechPresenceDb = clampFloat(s.SpeechPresenceDb, -120, 0, DefaultSpeechPresenceDb)
	s.VowelRatioThreshold = clampFloat(s.VowelRatioThreshold, 0, 1, DefaultVowelRatioThreshold)
}

// Analysis is the live, mutable analysis configuration shared by UI code and
// the orchestrator. Setters clamp on write and bump Version; the orchestrator
// works from Snapshot/Clone copies and never holds the live instance across a
// pass.
type Analysis struct {
	mu       sync.RWMutex
	settings Settings
	version  atomic.Uint64
}

// NewAnalysis returns a live configuration seeded with s (clamped).
func NewAnalysis(s Settings) *Analysis {
	s.Clamp()
	return &Analysis{settings: s}
}

// Version increases on every mutation.
func (a *Analysis) Version() uint64 {
	return a.version.Load()
}

// Snapshot returns a consistent copy of the current settings.
func (a *Analysis) Snapshot() Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// Clone returns an independent Analysis holding the same settings and
// version. Later edits to either instance do not affect the other.
func (a *Analysis) Clone() *Analysis {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := &Analysis{settings: a.settings}
	c.version.Store(a.version.Load())
	return c
}

// Update applies fn to a copy of the settings, clamps the result and
// publishes it. It reports whether anything changed.
func (a *Analysis) Update(fn func(*Settings)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.settings
	fn(&next)
	next.Clamp()
	if next == a.settings {
		return false
	}
	a.settings = next
	a.version.Add(1)
	return true
}

func (a *Analysis) SetFFTSize(n int) bool {
	return a.Update(func(s *Settings) { s.FFTSize = n })
}

func (a *Analysis) SetOverlapIndex(i int) bool {
	return a.Update(func(s *Settings) { s.OverlapIndex = i })
}

func (a *Analysis) SetTimeWindow(seconds float64) bool {
	return a.Update(func(s *Settings) { s.TimeWindow = seconds })
}

func (a *Analysis) SetFrequencyRange(minHz, maxHz float64) bool {
	return a.Update(func(s *Settings) { s.MinFrequency, s.MaxFrequency = minHz, maxHz })
}

func (a *Analysis) SetTransform(t TransformType) bool {
	return a.Update(func(s *Settings) { s.Transform = t })
}

func (a *Analysis) SetWindow(w WindowFunc) bool {
	return a.Update(func(s *Settings) { s.Window = w })
}

func (a *Analysis) SetScale(sc FrequencyScale) bool {
	return a.Update(func(s *Settings) { s.Scale = sc })
}

func (a *Analysis) SetPitchAlgorithm(p PitchAlgorithm) bool {
	return a.Update(func(s *Settings) { s.Pitch = p })
}

func (a *Analysis) SetClarity(mode ClarityMode) bool {
	return a.Update(func(s *Settings) { s.Clarity = mode })
}

func (a *Analysis) SetReassign(mode ReassignMode, thresholdDb, spread float64) bool {
	return a.Update(func(s *Settings) {
		s.Reassign, s.ReassignThresholdDb, s.ReassignSpread = mode, thresholdDb, spread
	})
}

func (a *Analysis) SetDisplayBins(n int) bool {
	return a.Update(func(s *Settings) { s.DisplayBins = n })
}

// HopSize returns max(1, round(fftSize*(1-overlap))).
func HopSize(fftSize int, overlap float64) int {
	hop := int(math.Round(float64(fftSize) * (1 - overlap)))
	if hop < 1 {
		return 1
	}
	return hop
}

// FrameCapacity returns ceil(timeWindow*sampleRate/hop), at least 1.
func FrameCapacity(timeWindow, sampleRate float64, hop int) int {
	if hop <= 0 || sampleRate <= 0 || timeWindow <= 0 {
		return 1
	}
	c := int(math.Ceil(timeWindow * sampleRate / float64(hop)))
	if c < 1 {
		return 1
	}
	return c
}

// NearestFFTSize snaps n to the closest supported FFT size.
func NearestFFTSize(n int) int {
	return nearestInt(FFTSizes, n)
}

func nearestInt(choices []int, n int) int {
	best := choices[0]
	bestDist := math.MaxInt
	for _, c := range choices {
		d := c - n
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return math.Max(lo, math.Min(hi, v))
}
