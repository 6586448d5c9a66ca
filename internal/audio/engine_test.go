// SPDX-License-Identifier: MIT
package audio

import (
	"testing"

	"vocalscope/internal/capture"
	"vocalscope/internal/config"
)

// fakeTarget records what the bridge forwards.
type fakeTarget struct {
	link      *capture.Link
	consumers int
	got       []float32
	blocks    int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{link: capture.NewLink(), consumers: 1}
}

func (f *fakeTarget) ActiveConsumers() int { return f.consumers }
func (f *fakeTarget) Link() *capture.Link  { return f.link }
func (f *fakeTarget) EnqueueAudio(buffer []float32, channel int) {
	f.got = append(f.got, buffer...)
	f.blocks++
}

func testAudioConfig(channels, frames int) config.AudioConfig {
	cfg := config.NewConfig().Audio
	cfg.InputChannels = channels
	cfg.FramesPerBuffer = frames
	return cfg
}

func TestProcessBufferTakesChannelZero(t *testing.T) {
	tests := []struct {
		name     string
		channels int
	}{
		{"mono", 1},
		{"stereo", 2},
		{"four channels", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget()
			e := newEngine(testAudioConfig(tt.channels, 8), target)

			in := make([]float32, 8*tt.channels)
			for i := range in {
				if i%tt.channels == 0 {
					in[i] = float32(i/tt.channels) / 10
				} else {
					in[i] = -0.9
				}
			}
			e.processBuffer(in)

			if len(target.got) != 8 {
				t.Fatalf("forwarded %d samples, want 8", len(target.got))
			}
			for i, v := range target.got {
				if want := float32(i) / 10; v != want {
					t.Errorf("sample %d = %v, want %v", i, v, want)
				}
			}
			if ts := target.link.WriteSampleTime(); ts != 8 {
				t.Errorf("link sample time %d, want 8", ts)
			}
		})
	}
}

func TestProcessBufferSampleClock(t *testing.T) {
	target := newFakeTarget()
	e := newEngine(testAudioConfig(1, 64), target)
	block := make([]float32, 64)
	for range 3 {
		e.processBuffer(block)
	}
	if target.blocks != 3 {
		t.Errorf("%d blocks forwarded, want 3", target.blocks)
	}
	if ts := target.link.WriteSampleTime(); ts != 192 {
		t.Errorf("sample time %d, want 192", ts)
	}
	st := e.Stats()
	if st.Callbacks != 3 || st.Frames != 192 || st.Bridge.Forwarded != 3 {
		t.Errorf("stats %+v", st)
	}
}

func TestProcessBufferCountsClipping(t *testing.T) {
	e := newEngine(testAudioConfig(1, 4), newFakeTarget())
	e.processBuffer([]float32{0.5, 1, -1.2, 0})
	if got := e.Stats().Clipped; got != 2 {
		t.Errorf("clipped %d, want 2", got)
	}
}

func TestProcessBufferIdleTarget(t *testing.T) {
	target := newFakeTarget()
	target.consumers = 0
	e := newEngine(testAudioConfig(1, 16), target)
	e.processBuffer(make([]float32, 16))
	if target.blocks != 0 {
		t.Error("audio forwarded with no consumers")
	}
	if e.Stats().Bridge.IdleSkips != 1 {
		t.Error("idle skip not counted")
	}
}

// countingTarget does not retain samples so the hot path can be measured.
type countingTarget struct {
	link *capture.Link
	n    int
}

func (c *countingTarget) ActiveConsumers() int             { return 1 }
func (c *countingTarget) Link() *capture.Link              { return c.link }
func (c *countingTarget) EnqueueAudio(b []float32, ch int) { c.n += len(b) }

func TestProcessBufferZeroAllocs(t *testing.T) {
	e := newEngine(testAudioConfig(2, 512), &countingTarget{link: capture.NewLink()})
	e.Gate().SetThreshold(0.01)
	e.Gate().Enable()
	in := make([]float32, 1024)
	for i := range in {
		in[i] = float32(i%100) / 100
	}
	allocs := testing.AllocsPerRun(100, func() {
		e.processBuffer(in)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in the capture path, got %.1f", allocs)
	}
}

// BenchmarkHotPath benchmarks the callback body for a stereo 512-frame block.
func BenchmarkHotPath(b *testing.B) {
	e := newEngine(testAudioConfig(2, 512), &countingTarget{link: capture.NewLink()})
	in := make([]float32, 1024)
	for i := range in {
		in[i] = float32(i%100) / 100
	}
	b.ReportAllocs()
	for b.Loop() {
		e.processBuffer(in)
	}
}
