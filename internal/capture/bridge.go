// SPDX-License-Identifier: MIT

/*
Package capture moves audio from the real-time callback into the analysis
goroutine.

Thread Safety:
  - Bridge.Capture and Ring.Write run on the audio thread only
  - Ring.Read runs on the analysis goroutine only
  - No locks, no allocations on the capture path after warm-up
*/
package capture

import (
	"sync/atomic"

	"vocalscope/internal/signal"
)

// Target receives captured audio. The analysis orchestrator implements it.
type Target interface {
	ActiveConsumers() int
	EnqueueAudio(buffer []float32, channel int)
	Link() *Link
}

// Source tells the bridge where a block came from.
type Source uint8

const (
	SourceOutput Source = iota // chain output
	SourcePlugin               // a specific plugin's tap
)

// AnalysisChannel is the only channel forwarded to analysis.
const AnalysisChannel = 0

// Stats are diagnostic counters.
type Stats struct {
	Calls        uint64
	IdleSkips    uint64
	ChannelSkips uint64
	Superseded   uint64
	Forwarded    uint64
	FromPlugin   uint64 // forwarded blocks that came from a plugin tap
}

// Bridge forwards channel-0 blocks from the audio thread to a Target.
// When two captures arrive for the same sample clock (an output tap and a
// plugin tap racing each other), the later one replaces the earlier one, so
// a block is never counted twice. Captures are therefore held until a block
// with a new clock arrives or Flush is called.
type Bridge struct {
	target Target

	pending         []float32
	pendingLen      int
	pendingClock    int64
	pendingTime     int64
	pendingBus      signal.Bus
	pendingProducer signal.Producers
	pendingSource   Source
	hasPending      bool
	hasProducers    bool

	calls        atomic.Uint64
	idleSkips    atomic.Uint64
	channelSkips atomic.Uint64
	superseded   atomic.Uint64
	forwarded    atomic.Uint64
	fromPlugin   atomic.Uint64
}

// NewBridge returns a bridge feeding target. maxBlock preallocates the
// pending buffer; larger blocks grow it once.
func NewBridge(target Target, maxBlock int) *Bridge {
	if maxBlock <= 0 {
		maxBlock = 4096
	}
	return &Bridge{
		target:  target,
		pending: make([]float32, maxBlock),
	}
}

// Capture is called from the audio thread once per processed block.
// producers may be nil; it is only read when bus is non-nil.
func (b *Bridge) Capture(buffer []float32, sampleClock, sampleTime int64, channel int,
	bus signal.Bus, producers *signal.Producers, source Source) {
	b.calls.Add(1)

	if b.target == nil || b.target.ActiveConsumers() == 0 {
		b.idleSkips.Add(1)
		b.hasPending = false
		return
	}
	if channel != AnalysisChannel {
		b.channelSkips.Add(1)
		return
	}

	if b.hasPending {
		if sampleClock == b.pendingClock {
			b.superseded.Add(1)
		} else {
			b.forward()
		}
	}

	if len(buffer) > len(b.pending) {
		b.pending = make([]float32, len(buffer))
	}
	b.pendingLen = copy(b.pending, buffer)
	b.pendingClock = sampleClock
	b.pendingTime = sampleTime
	b.pendingBus = bus
	b.hasProducers = bus != nil && producers != nil
	if b.hasProducers {
		b.pendingProducer = *producers
	}
	b.pendingSource = source
	b.hasPending = true
}

// Flush forwards the held block, if any. Hosts with a single capture point
// call it right after Capture at the end of each callback.
func (b *Bridge) Flush() {
	if b.hasPending {
		b.forward()
	}
}

func (b *Bridge) forward() {
	b.hasPending = false
	if b.target == nil {
		return
	}
	link := b.target.Link()
	if link != nil {
		link.applyPendingReset()
		link.publishBus(b.pendingBus)
		if b.hasProducers {
			link.publishProducers(&b.pendingProducer)
		}
		link.begin(b.pendingTime)
	}
	b.target.EnqueueAudio(b.pending[:b.pendingLen], AnalysisChannel)
	if link != nil {
		link.advance(b.pendingTime, b.pendingLen)
	}
	b.forwarded.Add(1)
	if b.pendingSource == SourcePlugin {
		b.fromPlugin.Add(1)
	}
}

// Stats returns a snapshot of the diagnostic counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Calls:        b.calls.Load(),
		IdleSkips:    b.idleSkips.Load(),
		ChannelSkips: b.channelSkips.Load(),
		Superseded:   b.superseded.Load(),
		Forwarded:    b.forwarded.Load(),
		FromPlugin:   b.fromPlugin.Load(),
	}
}
