// SPDX-License-Identifier: MIT
package capture

import (
	"sync"
	"testing"

	"vocalscope/internal/signal"
)

func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestRingReadWrite(t *testing.T) {
	r := NewRing(16)
	r.Write(ramp(0, 10))
	if got := r.Available(); got != 10 {
		t.Fatalf("Available() = %d, want 10", got)
	}

	dst := make([]float32, 4)
	if n := r.Read(dst); n != 4 {
		t.Fatalf("Read() = %d, want 4", n)
	}
	for i, v := range dst {
		if v != float32(i) {
			t.Errorf("dst[%d] = %v, want %d", i, v, i)
		}
	}

	// Wrap around the end of the backing slice.
	r.Write(ramp(10, 8))
	dst = make([]float32, 32)
	n := r.Read(dst)
	if n != 14 {
		t.Fatalf("Read() = %d, want 14", n)
	}
	for i := 0; i < n; i++ {
		if dst[i] != float32(4+i) {
			t.Errorf("dst[%d] = %v, want %d", i, dst[i], 4+i)
		}
	}
	if r.DroppedSamples() != 0 {
		t.Errorf("unexpected drops: %d", r.DroppedSamples())
	}
}

func TestRingOverflowDropsOldest(t *testing.T) {
	r := NewRing(16)
	r.Write(ramp(0, 12))
	r.Write(ramp(12, 10)) // 22 written, 16 fit

	if got := r.DroppedSamples(); got != 6 {
		t.Errorf("DroppedSamples() = %d, want 6", got)
	}
	dst := make([]float32, 16)
	if n := r.Read(dst); n != 16 {
		t.Fatalf("Read() = %d, want 16", n)
	}
	if dst[0] != 6 || dst[15] != 21 {
		t.Errorf("expected samples 6..21, got %v..%v", dst[0], dst[15])
	}
}

func TestRingOversizedWrite(t *testing.T) {
	r := NewRing(8)
	r.Write(ramp(0, 20))
	if got := r.DroppedSamples(); got != 12 {
		t.Errorf("DroppedSamples() = %d, want 12", got)
	}
	dst := make([]float32, 8)
	r.Read(dst)
	if dst[0] != 12 || dst[7] != 19 {
		t.Errorf("expected newest 8 samples, got %v", dst)
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing(8)
	r.Write(ramp(0, 20))
	r.Clear()
	if r.Available() != 0 || r.DroppedSamples() != 0 {
		t.Errorf("Clear left available=%d dropped=%d", r.Available(), r.DroppedSamples())
	}
}

func TestRingReadTimed(t *testing.T) {
	r := NewRing(16)

	// Unanchored, sample times are ring positions.
	r.Write(ramp(0, 4))
	if n, end := r.ReadTimed(make([]float32, 3)); n != 3 || end != 3 {
		t.Errorf("ReadTimed() = %d, %d; want 3, 3", n, end)
	}
	r.Skip(1)

	r.Anchor(48000)
	r.Write(ramp(4, 8))
	dst := make([]float32, 5)
	if n, end := r.ReadTimed(dst); n != 5 || end != 48005 {
		t.Errorf("ReadTimed() = %d, %d; want 5, 48005", n, end)
	}
	if n, end := r.ReadTimed(dst); n != 3 || end != 48008 {
		t.Errorf("ReadTimed() = %d, %d; want 3, 48008", n, end)
	}
	// An empty read reports the read cursor.
	if n, end := r.ReadTimed(dst); n != 0 || end != 48008 {
		t.Errorf("empty ReadTimed() = %d, %d", n, end)
	}
}

func TestRingSkipKeepsDropCount(t *testing.T) {
	r := NewRing(8)
	r.Write(ramp(0, 20))
	if n := r.Skip(r.Capacity()); n != 8 {
		t.Errorf("Skip() = %d, want 8", n)
	}
	if r.Available() != 0 || r.DroppedSamples() != 12 {
		t.Errorf("after Skip available=%d dropped=%d", r.Available(), r.DroppedSamples())
	}
}

func TestRingConcurrentOrdering(t *testing.T) {
	r := NewRing(1024)
	const total = 200000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		block := make([]float32, 64)
		for next := 0; next < total; next += len(block) {
			for i := range block {
				block[i] = float32(next + i)
			}
			r.Write(block)
		}
	}()

	dst := make([]float32, 100)
	last := float32(-1)
	read := uint64(0)
	for {
		n := r.Read(dst)
		for i := 0; i < n; i++ {
			if dst[i] <= last {
				t.Fatalf("samples out of order: %v after %v", dst[i], last)
			}
			last = dst[i]
		}
		read += uint64(n)
		if last >= total-1 {
			break
		}
	}
	wg.Wait()
	if read+r.DroppedSamples() != total {
		t.Errorf("read %d + dropped %d != written %d", read, r.DroppedSamples(), total)
	}
}

func TestRingWriteZeroAllocs(t *testing.T) {
	r := NewRing(4096)
	block := ramp(0, 256)
	allocs := testing.AllocsPerRun(100, func() {
		r.Write(block)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Ring.Write, got %.1f", allocs)
	}
}

type fakeTarget struct {
	consumers int
	link      *Link
	blocks    [][]float32
}

func (f *fakeTarget) ActiveConsumers() int { return f.consumers }
func (f *fakeTarget) Link() *Link          { return f.link }
func (f *fakeTarget) EnqueueAudio(buffer []float32, channel int) {
	f.blocks = append(f.blocks, append([]float32(nil), buffer...))
}

type fakeBus struct{ name string }

func (*fakeBus) Source(signal.ID) signal.Source { return nil }

func TestBridgeIdleIsNoop(t *testing.T) {
	target := &fakeTarget{link: NewLink()}
	b := NewBridge(target, 64)
	b.Capture(ramp(0, 32), 1, 0, 0, nil, nil, SourceOutput)
	b.Flush()

	st := b.Stats()
	if st.IdleSkips != 1 || st.Forwarded != 0 {
		t.Errorf("expected one idle skip and no forward, got %+v", st)
	}
	if len(target.blocks) != 0 {
		t.Error("idle bridge forwarded audio")
	}

	noTarget := NewBridge(nil, 0)
	noTarget.Capture(ramp(0, 8), 1, 0, 0, nil, nil, SourceOutput)
	if noTarget.Stats().IdleSkips != 1 {
		t.Error("bridge without target should count an idle skip")
	}
}

func TestBridgeDropsOtherChannels(t *testing.T) {
	target := &fakeTarget{consumers: 1, link: NewLink()}
	b := NewBridge(target, 64)
	b.Capture(ramp(0, 32), 1, 0, 1, nil, nil, SourceOutput)
	b.Flush()
	if st := b.Stats(); st.ChannelSkips != 1 || st.Forwarded != 0 {
		t.Errorf("expected channel skip, got %+v", st)
	}
}

func TestBridgeSecondSameClockCaptureWins(t *testing.T) {
	target := &fakeTarget{consumers: 1, link: NewLink()}
	b := NewBridge(target, 64)

	b.Capture(ramp(0, 4), 7, 100, 0, nil, nil, SourceOutput)
	b.Capture(ramp(50, 4), 7, 100, 0, nil, nil, SourcePlugin)
	b.Capture(ramp(90, 4), 8, 104, 0, nil, nil, SourceOutput) // forwards clock 7
	b.Flush()

	if len(target.blocks) != 2 {
		t.Fatalf("expected 2 forwarded blocks, got %d", len(target.blocks))
	}
	if target.blocks[0][0] != 50 {
		t.Errorf("expected the plugin capture to win clock 7, got first sample %v", target.blocks[0][0])
	}
	st := b.Stats()
	if st.Superseded != 1 || st.FromPlugin != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if got := target.link.WriteSampleTime(); got != 108 {
		t.Errorf("WriteSampleTime() = %d, want 108", got)
	}
}

func TestBridgePublishesProducers(t *testing.T) {
	target := &fakeTarget{consumers: 1, link: NewLink()}
	b := NewBridge(target, 64)
	bus := &fakeBus{}

	p := signal.EmptyProducers()
	p[signal.PitchHz] = 3
	before := target.link.producers.Load()

	b.Capture(ramp(0, 4), 1, 0, 0, bus, &p, SourcePlugin)
	b.Flush()

	after := target.link.producers.Load()
	if after == before {
		t.Error("producer table should be published into the other half")
	}
	if got := target.link.Producers()[signal.PitchHz]; got != 3 {
		t.Errorf("PitchHz producer = %d, want 3", got)
	}
	if target.link.Bus() != bus {
		t.Error("bus not published")
	}

	// Mutating the caller's table must not reach the published copy.
	p[signal.PitchHz] = 9
	if got := target.link.Producers()[signal.PitchHz]; got != 3 {
		t.Errorf("published table changed to %d", got)
	}
}

func TestLinkResetAppliedByCaptureThread(t *testing.T) {
	target := &fakeTarget{consumers: 1, link: NewLink()}
	b := NewBridge(target, 64)
	p := signal.EmptyProducers()
	p[signal.PitchHz] = 3
	b.Capture(ramp(0, 4), 1, 0, 0, &fakeBus{}, &p, SourcePlugin)
	b.Flush()

	link := target.link
	bus, producers := link.bus.Load(), link.producers.Load()
	link.Reset()
	if link.Bus() != nil || link.Producers()[signal.PitchHz] != signal.NoProducer {
		t.Error("readers still see the bus after Reset")
	}
	if link.bus.Load() != bus || link.producers.Load() != producers {
		t.Error("Reset published from the calling goroutine")
	}

	b.Capture(ramp(4, 4), 2, 4, 0, nil, nil, SourceOutput)
	b.Flush()
	if link.resetPending.Load() {
		t.Error("reset still pending after a forwarded block")
	}
	if link.bus.Load().bus != nil || link.producers.Load()[signal.PitchHz] != signal.NoProducer {
		t.Error("capture thread did not clear the link")
	}
}

func TestLinkBlockStart(t *testing.T) {
	var starts []int64
	link := NewLink()
	if _, ok := link.BlockStart(); ok {
		t.Error("BlockStart reported a block before any capture")
	}
	target := &hookTarget{link: link, enqueue: func() {
		ts, _ := link.BlockStart()
		starts = append(starts, ts)
	}}
	b := NewBridge(target, 64)
	b.Capture(ramp(0, 4), 1, 100, 0, nil, nil, SourceOutput)
	b.Capture(ramp(0, 4), 2, 104, 0, nil, nil, SourceOutput)
	b.Flush()
	if len(starts) != 2 || starts[0] != 100 || starts[1] != 104 {
		t.Errorf("block starts seen by EnqueueAudio = %v", starts)
	}
}

type hookTarget struct {
	link    *Link
	enqueue func()
}

func (h *hookTarget) ActiveConsumers() int                  { return 1 }
func (h *hookTarget) Link() *Link                           { return h.link }
func (h *hookTarget) EnqueueAudio(buffer []float32, ch int) { h.enqueue() }

// mapBus is a bus whose dynamic type cannot be compared with ==.
type mapBus map[signal.ID]signal.Source

func (m mapBus) Source(id signal.ID) signal.Source { return m[id] }

type constSource float32

func (c constSource) ValueAt(int64) float32 { return float32(c) }

func TestBridgeAcceptsMapBus(t *testing.T) {
	target := &fakeTarget{consumers: 1, link: NewLink()}
	b := NewBridge(target, 64)
	bus := mapBus{signal.PitchHz: constSource(220)}
	for clock := range int64(3) {
		b.Capture(ramp(0, 4), clock, clock*4, 0, bus, nil, SourceOutput)
	}
	b.Flush()

	src := target.link.Bus().Source(signal.PitchHz)
	if src == nil || src.ValueAt(0) != 220 {
		t.Errorf("published bus source = %v", src)
	}
}

func TestSameBus(t *testing.T) {
	a, other := &fakeBus{name: "a"}, &fakeBus{name: "b"}
	m := mapBus{}
	tests := []struct {
		name string
		x, y signal.Bus
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil and pointer", nil, a, false},
		{"same pointer", a, a, true},
		{"different pointers", a, other, false},
		{"map", m, m, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameBus(tt.x, tt.y); got != tt.want {
				t.Errorf("sameBus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBridgeCaptureZeroAllocs(t *testing.T) {
	target := &countingTarget{link: NewLink()}
	b := NewBridge(target, 256)
	block := ramp(0, 256)
	clock := int64(0)
	allocs := testing.AllocsPerRun(100, func() {
		clock++
		b.Capture(block, clock, clock*256, 0, nil, nil, SourceOutput)
		b.Flush()
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Bridge.Capture, got %.1f", allocs)
	}
}

type countingTarget struct {
	link  *Link
	count int
}

func (c *countingTarget) ActiveConsumers() int             { return 1 }
func (c *countingTarget) Link() *Link                      { return c.link }
func (c *countingTarget) EnqueueAudio(b []float32, ch int) { c.count += len(b) }
