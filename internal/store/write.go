// SPDX-License-Identifier: MIT
package store

import (
	"vocalscope/internal/signal"
	"vocalscope/internal/speech"
	"vocalscope/internal/transform"
)

// Writes with a negative frame id are ignored; the spectrogram of the first
// hops under reassignment has no frame yet.

func (b *buffers) slot(id int64) int { return int(id % int64(b.capacity)) }

// BeginWriteFrame opens the write of frame id.
func (s *Store) BeginWriteFrame(id int64) {
	s.version.Add(1)
}

// EndWriteFrame closes the write of frame id. With latency > 0 the
// spectrogram lags the other tracks, so the newest complete frame is
// id - latency. The published latest frame id never decreases.
func (s *Store) EndWriteFrame(id int64, latency int) {
	latest := max(id-int64(latency), s.latest.Load())
	s.latest.Store(latest)
	if b := s.buf.Load(); b != nil {
		avail := min(max(latest-s.base.Load()+1, 0), int64(b.capacity))
		s.available.Store(avail)
	}
	s.version.Add(1)
}

// WriteSpectrogram stores one display column in dB.
func (s *Store) WriteSpectrogram(id int64, db []float32) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	t, slot := b.spectrogram, b.slot(id)
	for j := range min(len(db), t.stride) {
		t.set(slot, j, db[j])
	}
}

// WriteMagnitudes stores linear magnitudes at analysis resolution.
func (s *Store) WriteMagnitudes(id int64, mags []float64) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	t, slot := b.magnitudes, b.slot(id)
	for j := range min(len(mags), t.stride) {
		t.set(slot, j, float32(mags[j]))
	}
}

func (s *Store) WritePitch(id int64, p PitchFrame) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	slot := b.slot(id)
	b.pitch.set(slot, 0, p.Hz)
	b.pitch.set(slot, 1, p.Confidence)
	b.pitch.set(slot, 2, float32(p.Voicing))
}

func (s *Store) WriteFormants(id int64, f FormantFrame) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	slot := b.slot(id)
	for j, hz := range f.Freq {
		b.formants.set(slot, j, hz)
	}
	b.formants.set(slot, NumFormants, f.Confidence)
}

func (s *Store) WriteHarmonics(id int64, h *transform.Harmonics) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	t, slot := b.harmonics, b.slot(id)
	for j := range MaxHarmonics {
		t.set(slot, j, h.Freq[j])
		t.set(slot, MaxHarmonics+j, h.Magnitude[j])
	}
	t.set(slot, 2*MaxHarmonics, float32(h.Count))
}

func (s *Store) WriteWaveform(id int64, lo, hi float32) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	slot := b.slot(id)
	b.waveform.set(slot, 0, lo)
	b.waveform.set(slot, 1, hi)
}

func (s *Store) WriteFeatures(id int64, f transform.Features) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	t, slot := b.features, b.slot(id)
	for j, v := range [featureStride]float64{f.CentroidHz, f.SlopeDbKHz, f.Flatness, f.Flux, f.HnrDb, f.CppDb} {
		t.set(slot, j, float32(v))
	}
}

// WriteSignals stores one value per analysis signal.
func (s *Store) WriteSignals(id int64, values *[signal.Count]float32) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	slot := b.slot(id)
	for i, v := range values {
		b.signals[i].set(slot, 0, v)
	}
}

func (s *Store) WriteSpeech(id int64, m *speech.Metrics) {
	b := s.buf.Load()
	if b == nil || id < 0 {
		return
	}
	t, slot := b.speech, b.slot(id)
	fields := [11]float64{
		m.SyllableRate, m.ArticulationRate, float64(m.PauseCount), m.MeanPauseSec,
		m.PauseRatio, m.Monotone, m.Clarity, m.Intelligibility, float64(m.State),
		boolValue(m.Syllable), boolValue(m.Emphasis),
	}
	for j, v := range fields {
		t.set(slot, j, float32(v))
	}
	for j, v := range m.Bands {
		t.set(slot, len(fields)+j, float32(v))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
