// SPDX-License-Identifier: MIT

/*
Package store holds the analysis results of the most recent frames in
parallel ring buffers and serves them to readers without locks.

One goroutine writes. Every frame write is bracketed by BeginWriteFrame and
EndWriteFrame, each of which bumps a version counter, so the counter is odd
while a write is in progress and even otherwise. Readers record the version,
copy what they need, and accept the copy only if the version is unchanged and
even. All slots are stored as atomic words so a reader racing a writer sees
stale or fresh values but never a data race; the version check decides
whether the copy is kept.

Frame id F lives at slot F mod FrameCapacity in every track.
*/
package store

import (
	"math"
	"sync"
	"sync/atomic"

	"vocalscope/internal/config"
	"vocalscope/internal/signal"
	"vocalscope/internal/speech"
	"vocalscope/internal/transform"
)

const (
	MaxDiscontinuities = 32
	MaxHarmonics       = transform.MaxHarmonics
	NumFormants        = 3
)

// Field strides of the multi-value tracks.
const (
	pitchStride    = 3 // hz, confidence, voicing
	formantStride  = NumFormants + 1
	harmonicStride = 2*MaxHarmonics + 1
	waveformStride = 2
	featureStride  = 6
	speechStride   = 11 + speech.NumBands
)

// Layout describes the buffers Configure allocates.
type Layout struct {
	FrameCapacity int
	Descriptor    transform.Descriptor
	Settings      config.Settings
	// NextFrameID is the id of the next frame to be written; magnitudes
	// start there after an analysis resize.
	NextFrameID int64
}

// Discontinuity marks the first frame written after a change that makes it
// incomparable with the frames before it.
type Discontinuity struct {
	FrameID int64
	Reason  string
}

// track is a ring of frames with stride values each.
type track struct {
	stride int
	words  []atomic.Uint32
}

func newTrack(capacity, stride int) *track {
	return &track{stride: stride, words: make([]atomic.Uint32, capacity*stride)}
}

func (t *track) frame(slot int) []atomic.Uint32 {
	return t.words[slot*t.stride : (slot+1)*t.stride]
}

func (t *track) set(slot, j int, v float32) {
	t.words[slot*t.stride+j].Store(math.Float32bits(v))
}

func (t *track) get(slot, j int) float32 {
	return math.Float32frombits(t.words[slot*t.stride+j].Load())
}

func (t *track) clear() {
	for i := range t.words {
		t.words[i].Store(0)
	}
}

// buffers is replaced as a whole on reallocation.
type buffers struct {
	capacity    int
	spectrogram *track
	magnitudes  *track
	pitch       *track
	formants    *track
	harmonics   *track
	waveform    *track
	features    *track
	speech      *track
	signals     [signal.Count]*track

	// first frame id with magnitudes at the current analysis resolution
	magnitudeBase int64
}

func (b *buffers) all() []*track {
	t := []*track{b.spectrogram, b.magnitudes, b.pitch, b.formants, b.harmonics,
		b.waveform, b.features, b.speech}
	return append(t, b.signals[:]...)
}

// Store is written by the analysis goroutine and read from anywhere.
type Store struct {
	version   atomic.Uint64
	buf       atomic.Pointer[buffers]
	latest    atomic.Int64
	available atomic.Int64
	base      atomic.Int64 // first frame id of the current run

	mu       sync.RWMutex
	desc     transform.Descriptor
	settings config.Settings

	discMu sync.Mutex
	discs  []Discontinuity
}

// New returns an empty store. Configure must be called before writing.
func New() *Store {
	s := &Store{discs: make([]Discontinuity, 0, MaxDiscontinuities)}
	s.latest.Store(-1)
	return s
}

// Configure applies l. Tracks are reallocated, and frame ids restart at 0,
// only when the frame capacity or the display bin count change; a new
// analysis bin count replaces the magnitude track alone. It reports whether a
// reallocation happened.
func (s *Store) Configure(l Layout) bool {
	s.mu.Lock()
	s.desc = l.Descriptor.Clone()
	s.settings = l.Settings
	s.mu.Unlock()

	analysisBins := l.Descriptor.AnalysisBins()
	displayBins := l.Descriptor.DisplayBins()
	old := s.buf.Load()
	s.version.Add(1)
	defer s.version.Add(1)

	if old != nil && old.capacity == l.FrameCapacity && old.spectrogram.stride == displayBins {
		if old.magnitudes.stride == analysisBins {
			return false
		}
		next := *old
		next.magnitudes = newTrack(l.FrameCapacity, analysisBins)
		next.magnitudeBase = l.NextFrameID
		s.buf.Store(&next)
		return false
	}

	c := l.FrameCapacity
	b := &buffers{
		capacity:    c,
		spectrogram: newTrack(c, displayBins),
		magnitudes:  newTrack(c, analysisBins),
		pitch:       newTrack(c, pitchStride),
		formants:    newTrack(c, formantStride),
		harmonics:   newTrack(c, harmonicStride),
		waveform:    newTrack(c, waveformStride),
		features:    newTrack(c, featureStride),
		speech:      newTrack(c, speechStride),
	}
	for i := range b.signals {
		b.signals[i] = newTrack(c, 1)
	}
	s.buf.Store(b)
	s.latest.Store(-1)
	s.available.Store(0)
	s.base.Store(0)

	s.discMu.Lock()
	s.discs = s.discs[:0]
	s.discMu.Unlock()
	return true
}

// Reset clears every track. Frame ids continue from nextFrameID so readers
// holding older ids take a full copy.
func (s *Store) Reset(nextFrameID int64) {
	b := s.buf.Load()
	if b == nil {
		return
	}
	s.version.Add(1)
	for _, t := range b.all() {
		t.clear()
	}
	s.latest.Store(nextFrameID - 1)
	s.available.Store(0)
	s.base.Store(nextFrameID)
	s.version.Add(1)
}

// Version returns the write version. It is even when no write is in
// progress.
func (s *Store) Version() uint64 { return s.version.Load() }

// Capacity is the number of frames each track holds.
func (s *Store) Capacity() int {
	if b := s.buf.Load(); b != nil {
		return b.capacity
	}
	return 0
}

// LatestFrameID is the newest complete frame, or -1.
func (s *Store) LatestFrameID() int64 { return s.latest.Load() }

// AnalysisDescriptor returns a copy of the descriptor of the last Configure.
func (s *Store) AnalysisDescriptor() transform.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc.Clone()
}

// Settings returns the configuration snapshot published with the last
// Configure.
func (s *Store) Settings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// RecordDiscontinuity appends an event, dropping the oldest beyond
// MaxDiscontinuities.
func (s *Store) RecordDiscontinuity(frameID int64, reason string) {
	s.discMu.Lock()
	defer s.discMu.Unlock()
	if len(s.discs) == MaxDiscontinuities {
		copy(s.discs, s.discs[1:])
		s.discs = s.discs[:MaxDiscontinuities-1]
	}
	s.discs = append(s.discs, Discontinuity{FrameID: frameID, Reason: reason})
}

// Discontinuities returns the recorded events at or after oldestFrameID,
// oldest first.
func (s *Store) Discontinuities(oldestFrameID int64) []Discontinuity {
	s.discMu.Lock()
	defer s.discMu.Unlock()
	var out []Discontinuity
	for _, d := range s.discs {
		if d.FrameID >= oldestFrameID {
			out = append(out, d)
		}
	}
	return out
}
