// SPDX-License-Identifier: MIT
package store

import (
	"sync"
	"sync/atomic"
	"testing"

	"vocalscope/internal/config"
	"vocalscope/internal/signal"
	"vocalscope/internal/speech"
	"vocalscope/internal/transform"
)

func layout(capacity, display, analysis int) Layout {
	return Layout{
		FrameCapacity: capacity,
		Descriptor: transform.Descriptor{
			AnalysisFrequencies: make([]float64, analysis),
			DisplayFrequencies:  make([]float64, display),
		},
		Settings: config.DefaultSettings(),
	}
}

func newStore(t testing.TB, capacity, display, analysis int) *Store {
	t.Helper()
	s := New()
	if !s.Configure(layout(capacity, display, analysis)) {
		t.Fatal("first Configure did not allocate")
	}
	return s
}

// writeFrame fills every track of frame id with values derived from id.
func writeFrame(s *Store, id int64, latency int) {
	display, analysis := s.Strides()
	v := float32(id)
	col := make([]float32, display)
	for i := range col {
		col[i] = v
	}
	mags := make([]float64, analysis)
	for i := range mags {
		mags[i] = float64(v)
	}
	var values [signal.Count]float32
	values[signal.PitchHz] = v

	s.BeginWriteFrame(id)
	s.WriteSpectrogram(id-int64(latency), col)
	s.WriteMagnitudes(id, mags)
	s.WritePitch(id, PitchFrame{Hz: v, Confidence: 0.5, Voicing: signal.Voiced})
	s.WriteWaveform(id, -v, v)
	s.WriteSignals(id, &values)
	s.EndWriteFrame(id, latency)
}

func TestRoundTrip(t *testing.T) {
	const n = 10
	s := newStore(t, 16, 4, 8)
	for id := range int64(n) {
		writeFrame(s, id, 0)
	}
	dst := make([]float32, 16*4)

	r, ok := s.TryGetSpectrogramRange(n-2, dst)
	if !ok || r.FullCopy || r.Count != 1 || r.LatestFrameID != n-1 {
		t.Fatalf("incremental read = %+v, %v; want one frame", r, ok)
	}
	if dst[0] != n-1 || dst[3] != n-1 {
		t.Errorf("incremental frame = %v", dst[:4])
	}

	r, ok = s.TryGetSpectrogramRange(-1, dst)
	if !ok || !r.FullCopy || r.Count != n || r.AvailableFrames != n {
		t.Fatalf("full read = %+v, %v; want %d frames", r, ok, n)
	}
	for i := range n {
		if dst[i*4] != float32(i) {
			t.Errorf("frame %d holds %v", i, dst[i*4])
		}
	}

	r, ok = s.TryGetSpectrogramRange(n-1, dst)
	if !ok || r.FullCopy || r.Count != 0 {
		t.Errorf("up-to-date read = %+v, %v; want nothing new", r, ok)
	}
}

func TestRingIndexing(t *testing.T) {
	s := newStore(t, 8, 2, 2)
	for id := range int64(20) {
		writeFrame(s, id, 0)
	}
	dst := make([]PitchFrame, 8)

	tests := []struct {
		name  string
		since int64
		full  bool
		first int64
		count int
	}{
		{"from scratch", -1, true, 12, 8},
		{"fell behind", 5, true, 12, 8},
		{"oldest held", 11, false, 12, 8},
		{"recent", 16, false, 17, 3},
		{"ahead of writer", 40, true, 12, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := s.TryGetPitchRange(tt.since, dst)
			if !ok || r.FullCopy != tt.full || r.Count != tt.count || r.FirstFrameID() != tt.first {
				t.Fatalf("got %+v (first %d), %v", r, r.FirstFrameID(), ok)
			}
			for i := range r.Count {
				if want := float32(tt.first) + float32(i); dst[i].Hz != want {
					t.Errorf("dst[%d].Hz = %v, want %v", i, dst[i].Hz, want)
				}
			}
		})
	}
}

func TestSmallDestinationTakesNewest(t *testing.T) {
	s := newStore(t, 16, 3, 3)
	for id := range int64(10) {
		writeFrame(s, id, 0)
	}
	dst := make([]float32, 3*3+2) // room for three frames
	r, ok := s.TryGetSpectrogramRange(2, dst)
	if !ok || !r.FullCopy || r.Count != 3 || r.FirstFrameID() != 7 {
		t.Fatalf("got %+v, %v", r, ok)
	}
	if dst[0] != 7 || dst[8] != 9 {
		t.Errorf("copied %v", dst[:9])
	}
}

func TestConfigureIdempotence(t *testing.T) {
	s := newStore(t, 16, 4, 8)
	for id := range int64(5) {
		writeFrame(s, id, 0)
	}
	if s.Configure(layout(16, 4, 8)) {
		t.Error("identical Configure reallocated")
	}
	if got := s.LatestFrameID(); got != 4 {
		t.Errorf("latest = %d after identical Configure", got)
	}

	l := layout(16, 4, 12)
	l.NextFrameID = 5
	if s.Configure(l) {
		t.Error("analysis resize reallocated")
	}
	mags := make([]float32, 16*12)
	if r, ok := s.TryGetMagnitudeRange(-1, mags); !ok || r.Count != 0 {
		t.Errorf("magnitudes before resize still served: %+v", r)
	}
	spec := make([]float32, 16*4)
	if r, ok := s.TryGetSpectrogramRange(-1, spec); !ok || r.Count != 5 {
		t.Errorf("spectrogram lost on analysis resize: %+v", r)
	}
	writeFrame(s, 5, 0)
	if r, ok := s.TryGetMagnitudeRange(-1, mags); !ok || r.Count != 1 || mags[11] != 5 {
		t.Errorf("magnitudes after resize: %+v %v", r, mags[:12])
	}

	if !s.Configure(layout(32, 4, 12)) {
		t.Error("capacity change did not reallocate")
	}
	if s.LatestFrameID() != -1 || s.Capacity() != 32 {
		t.Errorf("latest %d capacity %d after reallocation", s.LatestFrameID(), s.Capacity())
	}
	if s.Version()%2 != 0 {
		t.Error("odd version while idle")
	}
}

func TestLatestFrameIsMonotonic(t *testing.T) {
	s := newStore(t, 16, 2, 2)
	steps := []struct {
		id      int64
		latency int
		want    int64
	}{
		{0, 2, -1},
		{1, 2, -1},
		{2, 2, 0},
		{3, 0, 3},
		{4, 2, 3},
		{5, 2, 3},
		{6, 2, 4},
	}
	for _, st := range steps {
		s.BeginWriteFrame(st.id)
		s.EndWriteFrame(st.id, st.latency)
		if got := s.LatestFrameID(); got != st.want {
			t.Errorf("after frame %d latency %d: latest %d, want %d", st.id, st.latency, got, st.want)
		}
	}
}

func TestReadDuringWriteFails(t *testing.T) {
	s := newStore(t, 8, 2, 2)
	writeFrame(s, 0, 0)
	s.BeginWriteFrame(1)
	if s.Version()%2 != 1 {
		t.Fatal("version even during a write")
	}
	if _, ok := s.TryGetWaveformRange(-1, make([]WaveformFrame, 8)); ok {
		t.Error("read accepted during a write")
	}
	s.EndWriteFrame(1, 0)
	if _, ok := s.TryGetWaveformRange(-1, make([]WaveformFrame, 8)); !ok {
		t.Error("read refused after the write")
	}
}

func TestUnconfiguredStore(t *testing.T) {
	s := New()
	if _, ok := s.TryGetSpectrogramRange(-1, make([]float32, 8)); ok {
		t.Error("read succeeded before Configure")
	}
	s.WritePitch(0, PitchFrame{Hz: 1}) // ignored
}

func TestResetKeepsFrameIds(t *testing.T) {
	s := newStore(t, 8, 2, 2)
	for id := range int64(6) {
		writeFrame(s, id, 0)
	}
	s.Reset(6)
	dst := make([]float32, 8)
	r, ok := s.TryGetSignalRange(signal.PitchHz, 3, dst)
	if !ok || r.Count != 0 || !r.FullCopy || r.LatestFrameID != 5 {
		t.Errorf("after reset: %+v, %v", r, ok)
	}
	writeFrame(s, 6, 0)
	r, _ = s.TryGetSignalRange(signal.PitchHz, -1, dst)
	if r.Count != 1 || dst[0] != 6 {
		t.Errorf("first frame after reset: %+v %v", r, dst[0])
	}
}

func TestDiscontinuitiesAreBounded(t *testing.T) {
	s := newStore(t, 8, 2, 2)
	for i := range int64(40) {
		s.RecordDiscontinuity(i, "settings")
	}
	all := s.Discontinuities(0)
	if len(all) != MaxDiscontinuities || all[0].FrameID != 8 {
		t.Fatalf("kept %d, oldest %d", len(all), all[0].FrameID)
	}
	if got := s.Discontinuities(35); len(got) != 5 {
		t.Errorf("since 35: %d events", len(got))
	}
	s.Configure(layout(16, 2, 2))
	if got := s.Discontinuities(0); len(got) != 0 {
		t.Errorf("reallocation kept %d events", len(got))
	}
}

func TestDescriptorSnapshot(t *testing.T) {
	s := New()
	l := layout(8, 3, 5)
	l.Descriptor.DisplayFrequencies[1] = 440
	l.Settings.FFTSize = 4096
	s.Configure(l)
	l.Descriptor.DisplayFrequencies[1] = 0

	d := s.AnalysisDescriptor()
	if d.DisplayFrequencies[1] != 440 || d.AnalysisBins() != 5 {
		t.Errorf("descriptor %+v", d)
	}
	d.DisplayFrequencies[1] = 1
	if s.AnalysisDescriptor().DisplayFrequencies[1] != 440 {
		t.Error("descriptor shares memory with callers")
	}
	if s.Settings().FFTSize != 4096 {
		t.Error("settings snapshot not published")
	}
}

func TestStructuredTracks(t *testing.T) {
	s := newStore(t, 4, 2, 2)
	h := &transform.Harmonics{Count: 2}
	h.Freq[0], h.Freq[1] = 200, 400
	h.Magnitude[0], h.Magnitude[1] = 0.5, 0.25
	m := &speech.Metrics{SyllableRate: 4.5, PauseCount: 3, State: speech.Pausing, Emphasis: true}
	m.Bands[speech.BandVowel] = 0.6

	s.BeginWriteFrame(0)
	s.WriteHarmonics(0, h)
	s.WriteSpeech(0, m)
	s.WriteFormants(0, FormantFrame{Freq: [NumFormants]float32{700, 1200, 2500}, Confidence: 0.8})
	s.WriteFeatures(0, transform.Features{CentroidHz: 1500, CppDb: 12})
	s.EndWriteFrame(0, 0)

	hf := make([]HarmonicFrame, 1)
	if _, ok := s.TryGetHarmonicRange(-1, hf); !ok || hf[0].Count != 2 || hf[0].Freq[1] != 400 || hf[0].Magnitude[1] != 0.25 {
		t.Errorf("harmonics %+v", hf[0])
	}
	sf := make([]SpeechFrame, 1)
	if _, ok := s.TryGetSpeechRange(-1, sf); !ok {
		t.Fatal("speech read failed")
	}
	got := sf[0]
	if got.SyllableRate != 4.5 || got.PauseCount != 3 || got.State != speech.Pausing ||
		!got.Emphasis || got.Syllable || got.Bands[speech.BandVowel] != 0.6 {
		t.Errorf("speech %+v", got)
	}
	ff := make([]FormantFrame, 1)
	if _, ok := s.TryGetFormantRange(-1, ff); !ok || ff[0].Freq[2] != 2500 || ff[0].Confidence != 0.8 {
		t.Errorf("formants %+v", ff[0])
	}
	fe := make([]FeatureFrame, 1)
	if _, ok := s.TryGetFeatureRange(-1, fe); !ok || fe[0].CentroidHz != 1500 || fe[0].CppDb != 12 {
		t.Errorf("features %+v", fe[0])
	}
}

// Readers racing the writer must only accept frames whose every bin matches
// the frame id.
func TestConcurrentReadersSeeWholeFrames(t *testing.T) {
	const frames = 4000
	s := newStore(t, 64, 256, 16)
	var done atomic.Bool
	var wg sync.WaitGroup

	var accepted atomic.Int64
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst := make([]float32, 64*256)
			since := int64(-1)
			for !done.Load() {
				r, ok := s.TryGetSpectrogramRange(since, dst)
				if !ok {
					continue
				}
				first := r.FirstFrameID()
				for i := range r.Count {
					want := float32(first + int64(i))
					for _, v := range dst[i*256 : (i+1)*256] {
						if v != want {
							t.Errorf("frame %v holds %v", want, v)
							return
						}
					}
				}
				since = r.LatestFrameID
				accepted.Add(1)
			}
		}()
	}

	for id := range int64(frames) {
		writeFrame(s, id, 0)
	}
	done.Store(true)
	wg.Wait()
	if accepted.Load() == 0 {
		t.Error("no read accepted")
	}
}

func BenchmarkWriteFrame(b *testing.B) {
	s := newStore(b, 938, 512, 1025)
	col := make([]float32, 512)
	mags := make([]float64, 1025)
	var id int64
	b.ReportAllocs()
	for b.Loop() {
		s.BeginWriteFrame(id)
		s.WriteSpectrogram(id, col)
		s.WriteMagnitudes(id, mags)
		s.EndWriteFrame(id, 0)
		id++
	}
}

func BenchmarkReadIncremental(b *testing.B) {
	s := newStore(b, 938, 512, 1025)
	for id := range int64(938) {
		writeFrame(s, id, 0)
	}
	dst := make([]float32, 512*8)
	b.ReportAllocs()
	for b.Loop() {
		s.TryGetSpectrogramRange(930, dst)
	}
}
