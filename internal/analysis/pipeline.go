// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"

	"vocalscope/internal/capture"
	"vocalscope/internal/clarity"
	"vocalscope/internal/config"
	"vocalscope/internal/extract"
	"vocalscope/internal/pitch"
	"vocalscope/internal/reassign"
	"vocalscope/internal/signal"
	"vocalscope/internal/speech"
	"vocalscope/internal/store"
	"vocalscope/internal/synchub"
	"vocalscope/internal/transform"
)

// CPP quefrency search range.
const (
	cppMinHz = 60.0
	cppMaxHz = 500.0
)

// stepResult is the outcome of one pass of the per-hop state machine.
type stepResult uint8

const (
	stepWrote   stepResult = iota // a frame was written
	stepStarved                   // not enough audio for a hop
	stepDropped                   // the ring overflowed; state was reset
)

// configResult says what a configure call did to the store.
type configResult uint8

const (
	configUnchanged     configResult = iota
	configInitial                    // first layout, nothing to break
	configDiscontinuity              // settings changed, frame ids continue
	configReallocated                // store reallocated, frame ids restart
)

// pipeline is the per-hop state machine:
//
//	WaitForData -> ReassembleHop -> Transform -> Clarity -> Reassign or Map
//	-> ExtractSignals -> WriteFrame -> UpdateSyncHub
//
// It is owned by the analysis goroutine, or by the orchestrator while that
// goroutine is stopped.
type pipeline struct {
	sampleRate float64
	settings   config.Settings
	applied    uint64 // live config version last applied
	configured bool

	store *store.Store
	hub   *synchub.Hub
	ring  *capture.Ring
	link  *capture.Link

	hop       int
	capacity  int
	hopBuf    []float32
	hopFilled int
	hopEnd    int64     // sample time one past the last sample of the hop
	history   []float64 // newest transform input, oldest sample first
	frameID   int64
	specNext  int64  // oldest frame whose spectrogram column is not written yet
	dropped   uint64 // ring drop counter baseline

	tr       *transform.Engine
	clar     *clarity.Processor
	splat    *reassign.Splatter
	ext      *extract.Engine
	features *transform.FeatureTracker
	cepstrum *pitch.Cepstrum
	speech   *speech.Aggregator

	display   []float64
	displayDb []float32
	floorDb   []float32 // column written when no spectrogram was computed
	zeroMags  []float64
	harmonics transform.Harmonics
	prod      signal.Producers
}

func newPipeline(sampleRate float64, st *store.Store, hub *synchub.Hub, ring *capture.Ring, link *capture.Link) *pipeline {
	return &pipeline{sampleRate: sampleRate, store: st, hub: hub, ring: ring, link: link}
}

// configure applies s. Components are rebuilt in place; the store only
// reallocates when the frame capacity or display width change, and frame ids
// restart only then. A change to analysis resolution, transform, frequency
// range or extraction while running records a discontinuity; display and
// clarity changes do not.
// A failed configure keeps the previous components and is not retried until
// the settings change again.
func (p *pipeline) configure(s config.Settings, version uint64, force bool) (configResult, error) {
	p.applied = version
	if p.configured && !force && s == p.settings {
		return configUnchanged, nil
	}
	prev, wasConfigured := p.settings, p.configured

	if p.tr == nil {
		tr, err := transform.New(p.sampleRate, s)
		if err != nil {
			return configUnchanged, fmt.Errorf("transform: %w", err)
		}
		p.tr = tr
	} else if err := p.tr.Configure(s); err != nil {
		return configUnchanged, fmt.Errorf("transform: %w", err)
	}

	bins := p.tr.Bins()
	if p.clar == nil {
		p.clar = clarity.New(bins, s)
	} else {
		p.clar.Configure(bins, s)
	}
	if p.splat == nil {
		p.splat = reassign.New(s.DisplayBins, s)
	} else {
		p.splat.Configure(s.DisplayBins, s)
	}
	if p.ext == nil {
		p.ext = extract.New(p.sampleRate, s)
	} else if extractionChanged(prev, s) {
		p.ext.Configure(s)
	}
	p.features = transform.NewFeatureTracker(bins)
	p.cepstrum = pitch.NewCepstrum(s.FFTSize)

	hop := s.HopSize()
	hopSec := float64(hop) / p.sampleRate
	if p.speech == nil {
		p.speech = speech.NewAggregator(hopSec)
	} else {
		p.speech.Configure(hopSec)
	}
	if hop != p.hop {
		p.hop = hop
		p.hopBuf = make([]float32, hop)
		p.hopFilled = 0
	}
	if n := max(p.tr.InputSize(), hop); n != len(p.history) {
		p.history = make([]float64, n)
	}
	p.display = make([]float64, s.DisplayBins)
	p.displayDb = make([]float32, s.DisplayBins)
	p.floorDb = make([]float32, s.DisplayBins)
	for i := range p.floorDb {
		p.floorDb[i] = transform.FloorDb
	}
	p.zeroMags = make([]float64, bins)

	p.capacity = s.FrameCapacity(p.sampleRate)
	p.settings = s
	p.configured = true

	reallocated := p.store.Configure(store.Layout{
		FrameCapacity: p.capacity,
		Descriptor:    p.tr.Descriptor(),
		Settings:      s,
		NextFrameID:   p.frameID,
	})
	p.hub.Invalidate()
	switch {
	case reallocated:
		p.frameID, p.specNext = 0, 0
		return configReallocated, nil
	case !wasConfigured:
		return configInitial, nil
	case extractionChanged(prev, s) || resolutionChanged(prev, s):
		p.store.RecordDiscontinuity(p.frameID, "configuration")
		return configDiscontinuity, nil
	}
	return configUnchanged, nil
}

// resolutionChanged reports whether the analysis descriptor differs between
// a and b.
func resolutionChanged(a, b config.Settings) bool {
	return a.FFTSize != b.FFTSize || a.OverlapIndex != b.OverlapIndex || a.Transform != b.Transform ||
		a.MinFrequency != b.MinFrequency || a.MaxFrequency != b.MaxFrequency || a.Scale != b.Scale ||
		a.DisplayBins != b.DisplayBins || a.BinsPerOctave != b.BinsPerOctave || a.ZoomFactor != b.ZoomFactor
}

// extractionChanged reports whether the signal extraction engine depends on
// a field that differs between a and b.
func extractionChanged(a, b config.Settings) bool {
	return a.FFTSize != b.FFTSize || a.Window != b.Window || a.MinFrequency != b.MinFrequency ||
		a.MaxFrequency != b.MaxFrequency || a.Pitch != b.Pitch || a.Transform != b.Transform ||
		a.Formant != b.Formant || a.PreEmphasis != b.PreEmphasis || a.HighPass != b.HighPass ||
		a.HighPassCutoff != b.HighPassCutoff || a.SpeechPresenceDb != b.SpeechPresenceDb ||
		a.VowelRatioThreshold != b.VowelRatioThreshold
}

// resetState clears every carried state without releasing buffers.
func (p *pipeline) resetState() {
	p.hopFilled = 0
	clear(p.history)
	p.tr.Reset()
	p.clar.Reset()
	p.splat.Reset()
	p.ext.Reset()
	p.features.Reset()
	p.speech.Reset()
	p.harmonics = transform.Harmonics{}
}

// discardQueued skips unread audio and the partial hop. The drop counter is
// never cleared under a live producer; its current value becomes the
// baseline instead.
func (p *pipeline) discardQueued() {
	p.ring.Skip(p.ring.Capacity())
	p.dropped = p.ring.DroppedSamples()
	p.hopFilled = 0
}

// resetAfterDrop discards the partial hop and all history after a ring
// overflow. No frame is written for the lost audio.
func (p *pipeline) resetAfterDrop() {
	p.resetState()
	p.store.RecordDiscontinuity(p.frameID, "drop")
	p.hub.Invalidate()
}

// step runs the state machine until a frame is written or audio runs out.
func (p *pipeline) step(caps Capability) stepResult {
	if d := p.ring.DroppedSamples(); d != p.dropped {
		p.dropped = d
		p.resetAfterDrop()
		return stepDropped
	}

	// WaitForData / ReassembleHop
	n, end := p.ring.ReadTimed(p.hopBuf[p.hopFilled:])
	if n > 0 {
		p.hopFilled += n
		p.hopEnd = end
	}
	if p.hopFilled < p.hop {
		return stepStarved
	}
	p.hopFilled = 0
	p.processHop(caps)
	return stepWrote
}

func (p *pipeline) processHop(caps Capability) {
	hop := p.hopBuf
	shiftIn(p.history, hop)
	id := p.frameID
	latency := 0

	var mags, shaped []float64
	freqs := p.tr.Frequencies()
	if caps.needsTransform() {
		mags = p.tr.Process(p.history[len(p.history)-p.tr.InputSize():])

		// Clarity uses the pitch and voicing published for the previous hop.
		shaped = p.clar.Process(mags, clarity.Input{
			Freqs:   freqs,
			PitchHz: float64(p.ext.GetLastValue(signal.PitchHz)),
			Voicing: uint8(p.ext.GetLastValue(signal.VoicingState)),
		})
	}

	spectrogram := caps&Spectrogram != 0
	if spectrogram {
		if r, ok := p.tr.Reassignment(); ok {
			var gain []float64
			if p.settings.Clarity != config.ClarityNone {
				gain = p.clar.Gain()
			}
			col := p.splat.Add(mags, gain, r, p.tr, p.tr.Display())
			transform.ToDb(p.displayDb, col)
			latency = reassign.LatencyFrames
		} else {
			p.tr.Display().Map(shaped, p.display)
			transform.ToDb(p.displayDb, p.display)
		}
	}

	res := p.ext.Process(hop, caps.maskWith(p.settings.Clarity), extract.Input{
		SampleTime: p.hopEnd,
		Bus:        p.link.Bus(),
		Producers:  p.producers(),
	})

	var feats transform.Features
	hnrValid := res.Computed.Has(signal.HnrDb)
	if caps&(SpectralFeatures|SpeechMetrics) != 0 {
		feats = p.features.Compute(mags, freqs)
		feats.HnrDb = float64(res.Values[signal.HnrDb])
		if hnr, ok := p.clar.HnrDb(); ok && !hnrValid {
			feats.HnrDb, hnrValid = hnr, true
		}
		if res.FrameComputed {
			feats.CppDb = p.cepstrum.PeakProminence(p.ext.Spectrum(), p.sampleRate, cppMinHz, cppMaxHz)
		}
	}

	p.harmonics.Count = 0
	if caps&Harmonics != 0 && res.Voicing == signal.Voiced {
		transform.FindHarmonics(mags, freqs, float64(res.Values[signal.PitchHz]), &p.harmonics)
	}

	var metrics speech.Metrics
	if caps&SpeechMetrics != 0 {
		metrics = p.speech.Process(speech.Input{
			EnergyDb: levelDb(hop),
			Mags:     mags,
			Freqs:    freqs,
			PitchHz:  float64(res.Values[signal.PitchHz]),
			Voicing:  res.Voicing,
			Flatness: feats.Flatness,
			HnrDb:    feats.HnrDb,
			HnrValid: hnrValid,
		})
	}

	// WriteFrame
	st := p.store
	st.BeginWriteFrame(id)
	p.writeSpectrogram(id, latency, spectrogram)
	if mags == nil {
		mags = p.zeroMags
	}
	st.WriteMagnitudes(id, mags)
	st.WritePitch(id, store.PitchFrame{
		Hz:         res.Values[signal.PitchHz],
		Confidence: res.Values[signal.PitchConfidence],
		Voicing:    uint8(res.Values[signal.VoicingState]),
	})
	st.WriteFormants(id, store.FormantFrame{
		Freq: [store.NumFormants]float32{
			res.Values[signal.FormantF1Hz], res.Values[signal.FormantF2Hz], res.Values[signal.FormantF3Hz],
		},
		Confidence: res.Values[signal.FormantConfidence],
	})
	st.WriteHarmonics(id, &p.harmonics)
	lo, hi := envelope(hop)
	st.WriteWaveform(id, lo, hi)
	st.WriteFeatures(id, feats)
	st.WriteSignals(id, &res.Values)
	st.WriteSpeech(id, &metrics)
	st.EndWriteFrame(id, latency)

	// UpdateSyncHub
	p.hub.UpdateViewRange(st.LatestFrameID(), p.capacity)
	p.frameID++
}

// writeSpectrogram stores this hop's column. Frames that got no computed
// column, because the spectrogram was not requested or the reassignment
// latency shrank, get a floor column so no published frame shows a column
// left over from capacity frames earlier.
func (p *pipeline) writeSpectrogram(id int64, latency int, computed bool) {
	target, col := id, p.floorDb
	if computed {
		target, col = id-int64(latency), p.displayDb
	}
	for k := max(p.specNext, target-int64(p.capacity)+1); k < target; k++ {
		p.store.WriteSpectrogram(k, p.floorDb)
	}
	p.store.WriteSpectrogram(target, col)
	p.specNext = max(p.specNext, target+1)
}

func (p *pipeline) producers() *signal.Producers {
	if p.link.Bus() == nil {
		return nil
	}
	p.prod = p.link.Producers()
	return &p.prod
}

func shiftIn(dst []float64, x []float32) {
	n := len(x)
	if n >= len(dst) {
		for i := range dst {
			dst[i] = float64(x[n-len(dst)+i])
		}
		return
	}
	copy(dst, dst[n:])
	tail := dst[len(dst)-n:]
	for i, v := range x {
		tail[i] = float64(v)
	}
}

// levelDb is the RMS level of x in dBFS, floored at -120.
func levelDb(x []float32) float64 {
	if len(x) == 0 {
		return transform.FloorDb
	}
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Max(transform.FloorDb, 10*math.Log10(sum/float64(len(x))+1e-30))
}

func envelope(x []float32) (lo, hi float32) {
	for _, v := range x {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}
