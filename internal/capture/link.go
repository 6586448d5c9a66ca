// SPDX-License-Identifier: MIT
package capture

import (
	"reflect"
	"sync/atomic"

	"vocalscope/internal/signal"
)

type busRef struct {
	bus signal.Bus
}

// Link is the live cursor shared between the capture thread (writer) and the
// analysis goroutine (reader): the sample time of the newest captured
// sample, the signal bus that accompanied it, and which producer last wrote
// each signal.
//
// The producer table and the bus are double buffered. The writer fills the
// half that is not published and swaps the pointer; the published half is
// never written. Only the capture thread writes: Reset from another
// goroutine is a request the writer applies before its next block.
type Link struct {
	writeSampleTime atomic.Int64
	blockStart      atomic.Int64
	started         atomic.Bool
	resetPending    atomic.Bool

	bus      atomic.Pointer[busRef]
	busSlots [2]busRef

	producers     atomic.Pointer[signal.Producers]
	producerSlots [2]signal.Producers
}

// NewLink returns a link with no bus and an empty producer table.
func NewLink() *Link {
	l := &Link{}
	l.producerSlots[0] = signal.EmptyProducers()
	l.producerSlots[1] = signal.EmptyProducers()
	l.producers.Store(&l.producerSlots[0])
	l.bus.Store(&l.busSlots[0])
	return l
}

// WriteSampleTime returns the sample time one past the newest captured
// sample.
func (l *Link) WriteSampleTime() int64 {
	return l.writeSampleTime.Load()
}

// BlockStart returns the sample time of the first sample of the block being
// forwarded. It is meant for the Target's EnqueueAudio, which runs on the
// capture thread between the two. ok is false until a bridge has forwarded
// through this link.
func (l *Link) BlockStart() (sampleTime int64, ok bool) {
	return l.blockStart.Load(), l.started.Load()
}

func (l *Link) begin(sampleTime int64) {
	l.blockStart.Store(sampleTime)
	l.started.Store(true)
}

func (l *Link) advance(sampleTime int64, n int) {
	l.writeSampleTime.Store(sampleTime + int64(n))
}

// Bus returns the most recently published signal bus, or nil.
func (l *Link) Bus() signal.Bus {
	if l.resetPending.Load() {
		return nil
	}
	return l.bus.Load().bus
}

// Producers returns a copy of the published producer table.
func (l *Link) Producers() signal.Producers {
	if l.resetPending.Load() {
		return signal.EmptyProducers()
	}
	return *l.producers.Load()
}

func (l *Link) publishBus(bus signal.Bus) {
	cur := l.bus.Load()
	if sameBus(cur.bus, bus) {
		return
	}
	next := &l.busSlots[0]
	if cur == next {
		next = &l.busSlots[1]
	}
	next.bus = bus
	l.bus.Store(next)
}

// sameBus reports whether a and b are the same bus. Only pointer buses are
// compared; any other implementation may not be comparable and is treated
// as changed.
func sameBus(a, b signal.Bus) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || ta.Kind() != reflect.Pointer {
		return false
	}
	return a == b
}

func (l *Link) publishProducers(p *signal.Producers) {
	cur := l.producers.Load()
	if *cur == *p {
		return
	}
	next := &l.producerSlots[0]
	if cur == next {
		next = &l.producerSlots[1]
	}
	*next = *p
	l.producers.Store(next)
}

// Reset clears the bus and the producer table. Readers see them cleared at
// once; the capture thread applies the change before forwarding its next
// block. Safe from any goroutine.
func (l *Link) Reset() {
	l.resetPending.Store(true)
}

func (l *Link) applyPendingReset() {
	if !l.resetPending.Load() {
		return
	}
	empty := signal.EmptyProducers()
	l.publishProducers(&empty)
	l.publishBus(nil)
	l.resetPending.Store(false)
}
