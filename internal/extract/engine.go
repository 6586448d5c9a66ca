// SPDX-License-Identifier: MIT

// Package extract computes the named analysis signals for each hop. Work is
// driven by a demand mask: only requested signals and their dependencies are
// computed, and the windowed transform runs only when a frame signal is
// requested.
package extract

import (
	"math"
	"math/cmplx"
	"sync/atomic"

	"gonum.org/v1/gonum/dsp/fourier"

	"vocalscope/internal/config"
	"vocalscope/internal/dsp"
	"vocalscope/internal/formant"
	"vocalscope/internal/pitch"
	"vocalscope/internal/signal"
)

const (
	pitchTargetRate     = 16000.0
	formantWindowSec    = 0.032
	voicedScoreMin      = 0.45
	fluxHighCutoffHz    = 2000.0
	onsetFluxAlpha      = 0.1
	onsetFluxRatio      = 1.5
	vowelBandLowHz      = 200.0
	vowelBandHighHz     = 1000.0
	lowDominanceLimitHz = 1000.0
)

// Input carries the per-hop context that accompanies the audio.
type Input struct {
	SampleTime int64 // sample time one past the last sample of the hop
	Bus        signal.Bus
	Producers  *signal.Producers
}

// Result is the output of one Process call. Values holds a sanitized value
// for every signal; entries outside Computed repeat the last published value.
type Result struct {
	Values   [signal.Count]float32
	Computed signal.Mask
	External signal.Mask // signals read from the bus instead of computed

	Pitch         pitch.Result
	Voicing       uint8
	Formants      formant.Track
	FormantsValid bool
	FrameComputed bool
}

// Engine is owned by the analysis goroutine. GetLastValue may be called
// from any goroutine.
type Engine struct {
	sampleRate float64
	settings   config.Settings
	windowSize int

	stream      *streamState
	conditioned []float64

	// Full-rate analysis window, oldest sample first.
	history []float64
	filled  int
	warmup  int

	pitchStages []*dsp.Decimator
	pitchRate   float64
	pitchHist   []float64
	pitchScr    []float64
	detector    *pitch.Detector

	fft       *fourier.FFT
	window    []float64
	fftIn     []float64
	coeffs    []complex128
	mags      []float64
	prevMags  []float64
	hasPrev   bool
	fluxHighM float64

	formants   *formant.Extractor
	formantLen int

	last   [signal.Count]atomic.Uint32
	result Result
}

// New returns an engine for sampleRate using settings (already clamped).
func New(sampleRate float64, s config.Settings) *Engine {
	e := &Engine{sampleRate: sampleRate}
	e.Configure(s)
	return e
}

// Configure rebuilds the filters and detectors for s. Published last values
// are kept.
func (e *Engine) Configure(s config.Settings) {
	e.settings = s
	e.windowSize = s.FFTSize

	e.stream = newStreamState(e.sampleRate, s.HighPass, s.HighPassCutoff)
	e.history = make([]float64, e.windowSize)
	e.conditioned = make([]float64, e.windowSize)
	e.filled = 0

	factor := max(1, int(math.Floor(e.sampleRate/pitchTargetRate)))
	e.pitchStages = e.pitchStages[:0]
	e.pitchRate = e.sampleRate
	if factor > 1 {
		e.pitchStages = append(e.pitchStages, dsp.NewDecimator(e.sampleRate, factor))
		e.pitchRate = e.sampleRate / float64(factor)
	}
	minHz := math.Max(s.MinFrequency, pitch.DefaultMinHz)
	maxHz := math.Min(s.MaxFrequency, pitch.DefaultMaxHz)
	if maxHz <= minHz {
		minHz, maxHz = pitch.DefaultMinHz, pitch.DefaultMaxHz
	}
	pitchFrame := int(math.Ceil(2.5 * e.pitchRate / minHz))
	e.pitchHist = make([]float64, pitchFrame)
	e.pitchScr = make([]float64, e.windowSize/factor+2)
	algo := pitch.Effective(s.Pitch, s.Transform)
	e.detector = pitch.NewDetector(algo, e.pitchRate, pitchFrame, minHz, maxHz)
	e.warmup = max(e.windowSize, pitchFrame*factor)

	e.fft = fourier.NewFFT(e.windowSize)
	e.window = dsp.Window(s.Window, e.windowSize)
	e.fftIn = make([]float64, e.windowSize)
	e.coeffs = make([]complex128, e.windowSize/2+1)
	e.mags = make([]float64, e.windowSize/2+1)
	e.prevMags = make([]float64, e.windowSize/2+1)
	e.hasPrev = false
	e.fluxHighM = 0

	e.formantLen = min(e.windowSize, int(formantWindowSec*e.sampleRate))
	e.formants = formant.NewExtractor(e.sampleRate, e.formantLen, s.Formant)
	e.formants.SetPreEmphasis(s.PreEmphasis)
}

// PitchAlgorithm is the detector actually in use after transform fallback.
func (e *Engine) PitchAlgorithm() config.PitchAlgorithm { return e.detector.Algorithm() }

// Spectrum returns the magnitude spectrum of the last analysis window. It is
// valid only after a Process call whose Result has FrameComputed set and is
// overwritten by the next one.
func (e *Engine) Spectrum() []float64 { return e.mags }

// BinHz is the spacing of Spectrum.
func (e *Engine) BinHz() float64 { return e.sampleRate / float64(e.windowSize) }

// Ready reports whether a full analysis window of fresh audio has been seen
// since the last reset.
func (e *Engine) Ready() bool {
	return e.filled >= e.warmup
}

// GetLastValue returns the most recently published value of id.
func (e *Engine) GetLastValue(id signal.ID) float32 {
	if id >= signal.Count {
		return 0
	}
	return math.Float32frombits(e.last[id].Load())
}

// Reset clears filter, history and tracker state. Published last values
// return to their no-signal defaults.
func (e *Engine) Reset() {
	e.stream.reset()
	clear(e.history)
	e.filled = 0
	clear(e.pitchHist)
	for _, d := range e.pitchStages {
		d.Reset()
	}
	e.detector.Reset()
	e.formants.Reset()
	e.hasPrev = false
	e.fluxHighM = 0
	for i := range e.last {
		e.last[i].Store(0)
	}
	e.result = Result{}
}

// Process consumes one hop and returns the signals in Expand(mask). The
// returned Result is reused by the next call.
func (e *Engine) Process(hop []float32, mask signal.Mask, in Input) *Result {
	mask = signal.Expand(mask)
	r := &e.result
	r.Computed = 0
	r.External = 0
	r.FrameComputed = false
	r.FormantsValid = false

	if len(hop) > len(e.conditioned) {
		hop = hop[len(hop)-len(e.conditioned):]
	}
	cond := e.conditioned[:len(hop)]
	e.stream.process(hop, cond)
	e.push(cond)

	full, sib, fric := e.stream.means()
	levelDb := toDb(full)
	if mask&signal.StreamingSignals != 0 {
		e.set(signal.SpeechPresence, presence(levelDb, e.settings.SpeechPresenceDb), mask)
		if full > 1e-9 {
			e.set(signal.SibilanceEnergy, clamp01(sib/full), mask)
			e.set(signal.FricativeActivity, clamp01(fric/full), mask)
		} else {
			e.set(signal.SibilanceEnergy, 0, mask)
			e.set(signal.FricativeActivity, 0, mask)
		}
	}

	if signal.NeedsFrameSignals(mask) && e.Ready() {
		e.frameSignals(mask, levelDb)
		r.FrameComputed = true
	}

	e.applyBus(mask, in)

	for id := signal.ID(0); id < signal.Count; id++ {
		r.Values[id] = e.GetLastValue(id)
	}
	return r
}

// push appends conditioned samples to the analysis and pitch histories.
func (e *Engine) push(x []float64) {
	shiftIn(e.history, x)
	e.filled = min(e.filled+len(x), e.warmup)

	buf := x
	for _, d := range e.pitchStages {
		n := d.Process(buf, e.pitchScr)
		buf = e.pitchScr[:n]
	}
	shiftIn(e.pitchHist, buf)
}

func shiftIn(dst, x []float64) {
	if len(x) >= len(dst) {
		copy(dst, x[len(x)-len(dst):])
		return
	}
	copy(dst, dst[len(x):])
	copy(dst[len(dst)-len(x):], x)
}

// set sanitizes and publishes v for id when id is in mask.
func (e *Engine) set(id signal.ID, v float64, mask signal.Mask) {
	if !mask.Has(id) {
		return
	}
	e.last[id].Store(math.Float32bits(signal.Sanitize(id, float32(v))))
	e.result.Computed = e.result.Computed.With(id)
}

func (e *Engine) frameSignals(mask signal.Mask, levelDb float64) {
	r := &e.result
	e.spectrum()
	binHz := e.sampleRate / float64(e.windowSize)

	var total, low, vowel, magSum, centroidNum, fluxAll, fluxHigh float64
	for i, m := range e.mags {
		f := float64(i) * binHz
		p := m * m
		total += p
		magSum += m
		centroidNum += f * m
		if f < lowDominanceLimitHz {
			low += p
		}
		if f >= vowelBandLowHz && f <= vowelBandHighHz {
			vowel += p
		}
		if e.hasPrev {
			if d := m - e.prevMags[i]; d > 0 {
				fluxAll += d
				if f >= fluxHighCutoffHz {
					fluxHigh += d
				}
			}
		}
	}
	copy(e.prevMags, e.mags)
	e.hasPrev = true

	vowelRatio, lowDominance, centroid := 0.0, 0.0, 0.0
	if total > 0 {
		vowelRatio = vowel / total
		lowDominance = low / total
	}
	if magSum > 0 {
		centroid = centroidNum / magSum
	}

	e.set(signal.VowelRatio, vowelRatio, mask)
	e.set(signal.SpectralCentroid, centroid, mask)
	e.set(signal.SpectralFlux, fluxAll, mask)
	if mask.Has(signal.OnsetFluxHigh) {
		onset := 0.0
		if e.fluxHighM > 0 {
			onset = clamp01((fluxHigh - onsetFluxRatio*e.fluxHighM) / e.fluxHighM)
		}
		e.fluxHighM += onsetFluxAlpha * (fluxHigh - e.fluxHighM)
		e.set(signal.OnsetFluxHigh, onset, mask)
	}

	needPitch := mask&signal.MaskOf(signal.PitchHz, signal.PitchConfidence, signal.VoicingScore,
		signal.VoicingState, signal.HnrDb) != 0
	if !needPitch {
		return
	}

	p := e.detector.Detect(e.pitchHist)
	r.Pitch = p
	e.set(signal.PitchHz, p.Hz, mask)
	e.set(signal.PitchConfidence, p.Confidence, mask)

	if mask.Has(signal.HnrDb) {
		hnr := -20.0
		if p.Voiced() {
			corr := pitch.NormalizedAutocorrelation(e.pitchHist, e.pitchRate/p.Hz)
			hnr = pitch.HarmonicToNoiseDb(corr)
		}
		e.set(signal.HnrDb, hnr, mask)
	}

	score := clamp01(p.Confidence * (0.5 + 0.5*lowDominance))
	e.set(signal.VoicingScore, score, mask)

	voicing := uint8(signal.Unvoiced)
	switch {
	case presence(levelDb, e.settings.SpeechPresenceDb) < 0.5:
		voicing = signal.Silence
	case p.Voiced() && score >= voicedScoreMin:
		voicing = signal.Voiced
	}
	r.Voicing = voicing
	e.set(signal.VoicingState, float64(voicing), mask)

	if !mask.Has(signal.FormantF1Hz) {
		return
	}
	if voicing != signal.Voiced || vowelRatio <= e.settings.VowelRatioThreshold {
		return
	}
	tr := e.formants.Process(e.history[e.windowSize-e.formantLen:])
	r.Formants = tr
	r.FormantsValid = true
	e.set(signal.FormantF1Hz, tr.Freq[0], mask)
	e.set(signal.FormantF2Hz, tr.Freq[1], mask)
	e.set(signal.FormantF3Hz, tr.Freq[2], mask)
	e.set(signal.FormantConfidence, tr.Confidence, mask)
}

// spectrum fills mags with the windowed magnitude spectrum of the analysis
// window.
func (e *Engine) spectrum() {
	for i, v := range e.history {
		e.fftIn[i] = v * e.window[i]
	}
	e.fft.Coefficients(e.coeffs, e.fftIn)
	for i, c := range e.coeffs {
		e.mags[i] = cmplx.Abs(c)
	}
}

// applyBus replaces requested signals that an upstream producer supplies.
func (e *Engine) applyBus(mask signal.Mask, in Input) {
	if in.Bus == nil || in.Producers == nil {
		return
	}
	for id := signal.ID(0); id < signal.Count; id++ {
		if !mask.Has(id) || in.Producers[id] == signal.NoProducer {
			continue
		}
		src := in.Bus.Source(id)
		if src == nil {
			continue
		}
		v := signal.Sanitize(id, src.ValueAt(in.SampleTime-1))
		e.last[id].Store(math.Float32bits(v))
		e.result.Computed = e.result.Computed.With(id)
		e.result.External = e.result.External.With(id)
		switch id {
		case signal.PitchHz:
			e.result.Pitch.Hz = float64(v)
		case signal.PitchConfidence:
			e.result.Pitch.Confidence = float64(v)
		case signal.VoicingState:
			e.result.Voicing = uint8(v)
		}
	}
}
