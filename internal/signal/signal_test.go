// SPDX-License-Identifier: MIT
package signal

import (
	"math"
	"testing"
)

func TestExpandPitchIsSymmetric(t *testing.T) {
	want := MaskOf(PitchHz, PitchConfidence)
	for _, id := range []ID{PitchHz, PitchConfidence} {
		got := Expand(MaskOf(id))
		if !got.Contains(want) {
			t.Errorf("Expand({%v}) = %v, want superset of %v", id, got, want)
		}
	}
}

func TestExpandIsClosed(t *testing.T) {
	for id := ID(0); id < Count; id++ {
		m := Expand(MaskOf(id))
		if again := Expand(m); again != m {
			t.Errorf("Expand not idempotent for %v: %v then %v", id, m, again)
		}
		if !m.Has(id) {
			t.Errorf("Expand({%v}) dropped the requested signal", id)
		}
	}
}

func TestExpandFormantsPullsGates(t *testing.T) {
	m := Expand(MaskOf(FormantF2Hz))
	for _, id := range []ID{FormantF1Hz, FormantF3Hz, FormantConfidence, VoicingState, VowelRatio, PitchHz, SpeechPresence} {
		if !m.Has(id) {
			t.Errorf("Expand({FormantF2Hz}) missing %v: %v", id, m)
		}
	}
}

func TestNeedsFrameSignals(t *testing.T) {
	if NeedsFrameSignals(StreamingSignals) {
		t.Error("streaming-only mask should not need the frame transform")
	}
	if !NeedsFrameSignals(MaskOf(SpeechPresence, PitchHz)) {
		t.Error("pitch requires the frame transform")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		id   ID
		in   float32
		want float32
	}{
		{"nan", PitchHz, float32(math.NaN()), 0},
		{"inf", HnrDb, float32(math.Inf(1)), 0},
		{"negative pitch", PitchHz, -5, 0},
		{"confidence high", PitchConfidence, 1.7, 1},
		{"hnr low", HnrDb, -80, -20},
		{"voicing rounds", VoicingState, 1.6, Voiced},
		{"in range", FormantF1Hz, 712.5, 712.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.id, tt.in); got != tt.want {
				t.Errorf("Sanitize(%v, %v) = %v, want %v", tt.id, tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskString(t *testing.T) {
	if s := MaskOf(PitchHz, HnrDb).String(); s != "{PitchHz,HnrDb}" {
		t.Errorf("unexpected mask string %q", s)
	}
	if All.Len() != int(Count) {
		t.Errorf("All.Len() = %d, want %d", All.Len(), Count)
	}
}
