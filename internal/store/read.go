// SPDX-License-Identifier: MIT
package store

import (
	"math"
	"runtime"
	"sync/atomic"

	"vocalscope/internal/signal"
	"vocalscope/internal/speech"
)

const readAttempts = 2

// Range describes a copy. The copied frames are the Count newest frames up to
// and including LatestFrameID, oldest first. FullCopy is set when the
// destination does not continue from the requested frame: the reader was
// too far behind, asked from scratch, or the destination was too small.
type Range struct {
	LatestFrameID   int64
	AvailableFrames int
	FullCopy        bool
	Count           int
}

// FirstFrameID is the id of the first copied frame.
func (r Range) FirstFrameID() int64 { return r.LatestFrameID - int64(r.Count) + 1 }

type PitchFrame struct {
	Hz         float32
	Confidence float32
	Voicing    uint8
}

type FormantFrame struct {
	Freq       [NumFormants]float32
	Confidence float32
}

type HarmonicFrame struct {
	Freq      [MaxHarmonics]float32
	Magnitude [MaxHarmonics]float32
	Count     uint8
}

type WaveformFrame struct {
	Min, Max float32
}

type FeatureFrame struct {
	CentroidHz float32
	SlopeDbKHz float32
	Flatness   float32
	Flux       float32
	HnrDb      float32
	CppDb      float32
}

type SpeechFrame struct {
	SyllableRate     float32
	ArticulationRate float32
	PauseCount       uint16
	MeanPauseSec     float32
	PauseRatio       float32
	Monotone         float32
	Clarity          float32
	Intelligibility  float32
	State            speech.SpeakingState
	Syllable         bool
	Emphasis         bool
	Bands            [speech.NumBands]float32
}

// Strides returns the per-frame value counts of the spectrogram and
// magnitude tracks, for sizing destinations.
func (s *Store) Strides() (displayBins, analysisBins int) {
	b := s.buf.Load()
	if b == nil {
		return 0, 0
	}
	return b.spectrogram.stride, b.magnitudes.stride
}

// read runs copyFn under the version protocol. since is the newest frame the
// reader already holds, or -1; fit reports how many frames the destination
// holds for the buffers of this attempt. It fails when the store is
// unconfigured or a write overlapped both attempts.
func (s *Store) read(since int64, fit func(*buffers) int, magnitudes bool, copyFn func(b *buffers, start int64, n int)) (Range, bool) {
	for attempt := range readAttempts {
		if attempt > 0 {
			runtime.Gosched()
		}
		v := s.version.Load()
		if v&1 != 0 {
			continue
		}
		b := s.buf.Load()
		if b == nil {
			return Range{LatestFrameID: -1}, false
		}
		latest := s.latest.Load()
		oldest := latest - s.available.Load() + 1
		if magnitudes {
			oldest = max(oldest, b.magnitudeBase)
		}

		r := Range{LatestFrameID: latest, AvailableFrames: int(max(latest-oldest+1, 0))}
		start := since + 1
		if since < 0 || start < oldest || since > latest {
			r.FullCopy = true
			start = oldest
		}
		n := int(max(latest-start+1, 0))
		if maxFrames := fit(b); n > maxFrames {
			r.FullCopy = true
			n = maxFrames
			start = latest - int64(n) + 1
		}
		r.Count = n
		copyFn(b, start, n)

		if s.version.Load() == v {
			return r, true
		}
	}
	return Range{}, false
}

func readBins(s *Store, since int64, dst []float32, magnitudes bool) (Range, bool) {
	pick := func(b *buffers) *track {
		if magnitudes {
			return b.magnitudes
		}
		return b.spectrogram
	}
	fit := func(b *buffers) int {
		if stride := pick(b).stride; stride > 0 {
			return len(dst) / stride
		}
		return 0
	}
	return s.read(since, fit, magnitudes, func(b *buffers, start int64, n int) {
		t := pick(b)
		for i := range n {
			loadInto(dst[i*t.stride:(i+1)*t.stride], t.frame(b.slot(start+int64(i))))
		}
	})
}

func fitLen[T any](dst []T) func(*buffers) int {
	return func(*buffers) int { return len(dst) }
}

func readFrames[T any](s *Store, since int64, dst []T, pick func(*buffers) *track, decode func(w []atomic.Uint32, out *T)) (Range, bool) {
	return s.read(since, fitLen(dst), false, func(b *buffers, start int64, n int) {
		t := pick(b)
		for i := range n {
			decode(t.frame(b.slot(start+int64(i))), &dst[i])
		}
	})
}

func loadInto(dst []float32, w []atomic.Uint32) {
	for j := range dst {
		dst[j] = math.Float32frombits(w[j].Load())
	}
}

func load(w []atomic.Uint32, j int) float32 { return math.Float32frombits(w[j].Load()) }

// TryGetSpectrogramRange copies display columns in dB, DisplayBins values
// per frame.
func (s *Store) TryGetSpectrogramRange(since int64, dst []float32) (Range, bool) {
	return readBins(s, since, dst, false)
}

// TryGetMagnitudeRange copies linear magnitudes, AnalysisBins values per
// frame. Frames from before the last analysis resize are not available.
func (s *Store) TryGetMagnitudeRange(since int64, dst []float32) (Range, bool) {
	return readBins(s, since, dst, true)
}

func (s *Store) TryGetPitchRange(since int64, dst []PitchFrame) (Range, bool) {
	return readFrames(s, since, dst, func(b *buffers) *track { return b.pitch },
		func(w []atomic.Uint32, out *PitchFrame) {
			out.Hz = load(w, 0)
			out.Confidence = load(w, 1)
			out.Voicing = uint8(load(w, 2))
		})
}

func (s *Store) TryGetFormantRange(since int64, dst []FormantFrame) (Range, bool) {
	return readFrames(s, since, dst, func(b *buffers) *track { return b.formants },
		func(w []atomic.Uint32, out *FormantFrame) {
			loadInto(out.Freq[:], w)
			out.Confidence = load(w, NumFormants)
		})
}

func (s *Store) TryGetHarmonicRange(since int64, dst []HarmonicFrame) (Range, bool) {
	return readFrames(s, since, dst, func(b *buffers) *track { return b.harmonics },
		func(w []atomic.Uint32, out *HarmonicFrame) {
			loadInto(out.Freq[:], w)
			loadInto(out.Magnitude[:], w[MaxHarmonics:])
			out.Count = uint8(load(w, 2*MaxHarmonics))
		})
}

func (s *Store) TryGetWaveformRange(since int64, dst []WaveformFrame) (Range, bool) {
	return readFrames(s, since, dst, func(b *buffers) *track { return b.waveform },
		func(w []atomic.Uint32, out *WaveformFrame) {
			out.Min, out.Max = load(w, 0), load(w, 1)
		})
}

func (s *Store) TryGetFeatureRange(since int64, dst []FeatureFrame) (Range, bool) {
	return readFrames(s, since, dst, func(b *buffers) *track { return b.features },
		func(w []atomic.Uint32, out *FeatureFrame) {
			*out = FeatureFrame{load(w, 0), load(w, 1), load(w, 2), load(w, 3), load(w, 4), load(w, 5)}
		})
}

// TryGetSignalRange copies one analysis signal track.
func (s *Store) TryGetSignalRange(id signal.ID, since int64, dst []float32) (Range, bool) {
	if id >= signal.Count {
		return Range{LatestFrameID: -1}, false
	}
	return s.read(since, fitLen(dst), false, func(b *buffers, start int64, n int) {
		t := b.signals[id]
		for i := range n {
			dst[i] = t.get(b.slot(start+int64(i)), 0)
		}
	})
}

func (s *Store) TryGetSpeechRange(since int64, dst []SpeechFrame) (Range, bool) {
	return readFrames(s, since, dst, func(b *buffers) *track { return b.speech },
		func(w []atomic.Uint32, out *SpeechFrame) {
			out.SyllableRate = load(w, 0)
			out.ArticulationRate = load(w, 1)
			out.PauseCount = uint16(load(w, 2))
			out.MeanPauseSec = load(w, 3)
			out.PauseRatio = load(w, 4)
			out.Monotone = load(w, 5)
			out.Clarity = load(w, 6)
			out.Intelligibility = load(w, 7)
			out.State = speech.SpeakingState(load(w, 8))
			out.Syllable = load(w, 9) != 0
			out.Emphasis = load(w, 10) != 0
			loadInto(out.Bands[:], w[11:])
		})
}
