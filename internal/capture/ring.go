// SPDX-License-Identifier: MIT
package capture

import (
	"sync/atomic"

	"vocalscope/pkg/bitint"
)

// DefaultRingCapacity holds a little over five seconds of 48 kHz audio.
const DefaultRingCapacity = 256 * 1024

// Ring is a single-producer single-consumer float32 ring buffer. Write never
// blocks: when the reader falls behind, the oldest unread samples are
// overwritten and counted in DroppedSamples.
//
// Positions are free-running sample counters; the slot for position p is
// p & mask. The producer moves readPos forward before overwriting, and the
// consumer publishes its read with a CAS, so a copy that raced an overwrite
// is detected and retried.
//
// A position maps to a host sample time through timeBase, the sample time of
// position zero. The producer re-anchors it before each block so gaps in the
// host timeline carry through to the reader.
type Ring struct {
	buf  []float32
	mask uint64

	writePos atomic.Uint64
	readPos  atomic.Uint64
	dropped  atomic.Uint64
	timeBase atomic.Int64
}

// NewRing returns a ring holding at least capacity samples. Capacity is
// rounded up to a power of two.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	size := bitint.NextPowerOfTwo(capacity)
	return &Ring{
		buf:  make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Capacity returns the number of samples the ring can hold.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Anchor declares that the next written sample has sampleTime. Producer side
// only. Without an anchor, sample times equal ring positions.
func (r *Ring) Anchor(sampleTime int64) {
	r.timeBase.Store(sampleTime - int64(r.writePos.Load()))
}

// Write appends samples, overwriting the oldest unread data when full.
// Producer side only.
func (r *Ring) Write(samples []float32) {
	size := uint64(len(r.buf))
	if uint64(len(samples)) > size {
		r.dropped.Add(uint64(len(samples)) - size)
		samples = samples[uint64(len(samples))-size:]
	}
	n := uint64(len(samples))
	if n == 0 {
		return
	}

	w := r.writePos.Load()
	end := w + n

	// Claim the slots before touching them.
	for {
		rp := r.readPos.Load()
		if end-rp <= size {
			break
		}
		next := end - size
		if r.readPos.CompareAndSwap(rp, next) {
			r.dropped.Add(next - rp)
			break
		}
	}

	start := w & r.mask
	first := copy(r.buf[start:], samples)
	if first < len(samples) {
		copy(r.buf, samples[first:])
	}
	r.writePos.Store(end)
}

// Read copies up to len(dst) of the oldest unread samples into dst and
// returns the number copied. Consumer side only.
func (r *Ring) Read(dst []float32) int {
	n, _ := r.read(dst)
	return n
}

// ReadTimed is Read that also returns the sample time one past the last
// sample copied.
func (r *Ring) ReadTimed(dst []float32) (int, int64) {
	n, end := r.read(dst)
	return n, int64(end) + r.timeBase.Load()
}

func (r *Ring) read(dst []float32) (int, uint64) {
	for {
		rp := r.readPos.Load()
		w := r.writePos.Load()
		avail := w - rp
		n := uint64(len(dst))
		if avail < n {
			n = avail
		}
		if n == 0 {
			return 0, rp
		}

		start := rp & r.mask
		first := copy(dst[:n], r.buf[start:])
		if uint64(first) < n {
			copy(dst[first:n], r.buf)
		}

		if r.readPos.CompareAndSwap(rp, rp+n) {
			return int(n), rp + n
		}
		// The producer overran us mid-copy; the copy may be torn.
	}
}

// Skip discards up to n unread samples and returns the number discarded.
// It is safe against a concurrent Write.
func (r *Ring) Skip(n int) int {
	for {
		rp := r.readPos.Load()
		avail := r.writePos.Load() - rp
		k := uint64(n)
		if avail < k {
			k = avail
		}
		if r.readPos.CompareAndSwap(rp, rp+k) {
			return int(k)
		}
	}
}

// Available returns the number of unread samples.
func (r *Ring) Available() int {
	w := r.writePos.Load()
	rp := r.readPos.Load()
	if rp > w {
		return 0
	}
	return int(w - rp)
}

// DroppedSamples returns the total number of samples overwritten before
// they were read. It only decreases on Clear.
func (r *Ring) DroppedSamples() uint64 {
	return r.dropped.Load()
}

// Clear discards unread data and resets the drop counter. It must not run
// concurrently with Read or Write; while capture is live use Skip and keep
// a baseline of DroppedSamples instead.
func (r *Ring) Clear() {
	r.readPos.Store(r.writePos.Load())
	r.dropped.Store(0)
}
