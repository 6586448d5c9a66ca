// SPDX-License-Identifier: MIT

/*
Package transport streams analysis frames out of the result store.

A Publisher subscribes to the analysis source while it is active, polls the
store on a ticker and hands the newest frame to a Transport. Transports are
a WebSocket broadcaster (msgpack), a logger, and the UDP publisher in the udp
subpackage, which packs its own binary format.
*/
package transport

import (
	"vocalscope/internal/analysis"
	"vocalscope/internal/store"
)

// Transport sends one message to wherever the implementation delivers.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(data any) error
	Close() error
}

// FrameCapabilities is what a frame message carries.
const FrameCapabilities = analysis.Pitch | analysis.VoicingState | analysis.Formants | analysis.Spectrogram

// Frame is the message published per analysis frame.
type Frame struct {
	Type       string     `msgpack:"type"`
	ID         int64      `msgpack:"id"`
	Pitch      float32    `msgpack:"pitch"`
	Confidence float32    `msgpack:"confidence"`
	Voicing    uint8      `msgpack:"voicing"`
	Spectrum   []float32  `msgpack:"spectrum"`
	Formants   [3]float32 `msgpack:"formants"`
}

// FrameReader pulls the newest frame out of a store. It reuses its buffers,
// so a Frame it fills is valid until the next call to Next.
type FrameReader struct {
	store *store.Store
	last  int64

	pitch    [1]store.PitchFrame
	formants [1]store.FormantFrame
	spectrum []float32
}

func NewFrameReader(st *store.Store) *FrameReader {
	return &FrameReader{store: st, last: -1}
}

// Next fills f with the newest frame if it differs from the one returned
// last. It reports false when nothing new is readable, including when a
// write raced the copy; the frame is then picked up on the next call.
func (r *FrameReader) Next(f *Frame) bool {
	latest := r.store.LatestFrameID()
	if latest < 0 || latest == r.last {
		return false
	}

	pr, ok := r.store.TryGetPitchRange(-1, r.pitch[:])
	if !ok || pr.Count == 0 {
		return false
	}
	fr, ok := r.store.TryGetFormantRange(-1, r.formants[:])
	if !ok || fr.LatestFrameID != pr.LatestFrameID {
		return false
	}
	bins, _ := r.store.Strides()
	if cap(r.spectrum) < bins {
		r.spectrum = make([]float32, bins)
	}
	spectrum := r.spectrum[:bins]
	sr, ok := r.store.TryGetSpectrogramRange(-1, spectrum)
	if !ok || sr.LatestFrameID != pr.LatestFrameID {
		return false
	}
	if sr.Count == 0 {
		spectrum = spectrum[:0]
	}

	p := r.pitch[0]
	*f = Frame{
		Type:       "frame",
		ID:         pr.LatestFrameID,
		Pitch:      p.Hz,
		Confidence: p.Confidence,
		Voicing:    p.Voicing,
		Spectrum:   spectrum,
		Formants:   r.formants[0].Freq,
	}
	r.last = pr.LatestFrameID
	return true
}

// Reset forgets the last frame returned so the next call to Next returns the
// newest frame again.
func (r *FrameReader) Reset() { r.last = -1 }
