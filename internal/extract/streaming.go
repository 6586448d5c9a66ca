// SPDX-License-Identifier: MIT
package extract

import (
	"math"

	"vocalscope/internal/dsp"
)

const (
	dcCutoffHz        = 20.0
	sibilanceCutoffHz = 4000.0
	fricativeLowHz    = 2000.0
	fricativeHighHz   = 8000.0
	envelopeAttack    = 0.005
	envelopeRelease   = 0.050
)

// streamState runs the per-sample filter cascade: DC blocker, optional
// rumble high-pass, then envelope followers on the full band, a >4 kHz
// sibilance copy and a 2-8 kHz fricative copy.
type streamState struct {
	dc        *dsp.DCBlocker
	rumble    dsp.Biquad
	useRumble bool
	sib       [2]dsp.Biquad
	fric      [2]dsp.Biquad

	envFull *dsp.Follower
	envSib  *dsp.Follower
	envFric *dsp.Follower

	sumFull, sumSib, sumFric float64
	count                    int
}

func newStreamState(sampleRate float64, highPass bool, cutoff float64) *streamState {
	s := &streamState{
		dc:        dsp.NewDCBlocker(sampleRate, dcCutoffHz),
		useRumble: highPass,
		envFull:   dsp.NewFollower(sampleRate, envelopeAttack, envelopeRelease),
		envSib:    dsp.NewFollower(sampleRate, envelopeAttack, envelopeRelease),
		envFric:   dsp.NewFollower(sampleRate, envelopeAttack, envelopeRelease),
	}
	s.rumble.SetHighpass(sampleRate, cutoff, dsp.ButterworthQ)
	sibHz := math.Min(sibilanceCutoffHz, 0.4*sampleRate)
	s.sib[0].SetHighpass(sampleRate, sibHz, dsp.ButterworthQ)
	s.sib[1].SetHighpass(sampleRate, sibHz, dsp.ButterworthQ)
	s.fric[0].SetHighpass(sampleRate, math.Min(fricativeLowHz, 0.3*sampleRate), dsp.ButterworthQ)
	s.fric[1].SetLowpass(sampleRate, math.Min(fricativeHighHz, 0.45*sampleRate), dsp.ButterworthQ)
	return s
}

// process feeds one hop, accumulating hop means of the envelopes, and
// writes the conditioned samples into out.
func (s *streamState) process(hop []float32, out []float64) {
	for i, v := range hop {
		x := float64(v)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		x = s.dc.Process(x)
		if s.useRumble {
			x = s.rumble.Process(x)
		}
		out[i] = x
		s.sumFull += s.envFull.Process(x)
		s.sumSib += s.envSib.Process(s.sib[1].Process(s.sib[0].Process(x)))
		s.sumFric += s.envFric.Process(s.fric[1].Process(s.fric[0].Process(x)))
	}
	s.count += len(hop)
}

// means returns the hop-averaged envelopes and clears the accumulators.
func (s *streamState) means() (full, sib, fric float64) {
	if s.count == 0 {
		return 0, 0, 0
	}
	n := float64(s.count)
	full, sib, fric = s.sumFull/n, s.sumSib/n, s.sumFric/n
	s.sumFull, s.sumSib, s.sumFric, s.count = 0, 0, 0, 0
	return full, sib, fric
}

func (s *streamState) reset() {
	s.dc.Reset()
	s.rumble.Reset()
	s.sib[0].Reset()
	s.sib[1].Reset()
	s.fric[0].Reset()
	s.fric[1].Reset()
	s.envFull.Reset()
	s.envSib.Reset()
	s.envFric.Reset()
	s.sumFull, s.sumSib, s.sumFric, s.count = 0, 0, 0, 0
}

// presence maps a level in dBFS to a 0..1 speech-presence score with a 6 dB
// soft ramp centred on threshold.
func presence(levelDb, thresholdDb float64) float64 {
	return clamp01((levelDb-thresholdDb)/6 + 0.5)
}

func toDb(v float64) float64 {
	return 20 * math.Log10(math.Max(v, 1e-9))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
