// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

/*
Packet layout (BigEndian):

	|<- 4 ->|<--- 8 --->|<- 2 ->|<- 4 ->|<- 4 ->|<---- N * 4 ---->|
	+-------+-----------+-------+-------+-------+-----------------+
	|  seq  | timestamp | count | pitch | conf  |   spectrum dB   |
	|uint32 |   int64   |uint16 |float32|float32|  N * float32    |
	+-------+-----------+-------+-------+-------+-----------------+

timestamp is nanoseconds since the Unix epoch, count is N.
*/
const HeaderSize = 4 + 8 + 2 + 4 + 4

var ErrShortPacket = errors.New("udp: short packet")

// Packet is one decoded datagram.
type Packet struct {
	Seq        uint32
	Timestamp  int64
	Pitch      float32
	Confidence float32
	Spectrum   []float32
}

// AppendPacket appends the encoding of p to dst.
func AppendPacket(dst []byte, p *Packet) []byte {
	be := binary.BigEndian
	dst = be.AppendUint32(dst, p.Seq)
	dst = be.AppendUint64(dst, uint64(p.Timestamp))
	dst = be.AppendUint16(dst, uint16(len(p.Spectrum)))
	dst = be.AppendUint32(dst, math.Float32bits(p.Pitch))
	dst = be.AppendUint32(dst, math.Float32bits(p.Confidence))
	for _, v := range p.Spectrum {
		dst = be.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// ParsePacket decodes b. The spectrum is freshly allocated.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	be := binary.BigEndian
	p := Packet{
		Seq:        be.Uint32(b),
		Timestamp:  int64(be.Uint64(b[4:])),
		Pitch:      math.Float32frombits(be.Uint32(b[14:])),
		Confidence: math.Float32frombits(be.Uint32(b[18:])),
	}
	n := int(be.Uint16(b[12:]))
	body := b[HeaderSize:]
	if len(body) < 4*n {
		return Packet{}, fmt.Errorf("%w: %d spectrum values in %d bytes", ErrShortPacket, n, len(body))
	}
	p.Spectrum = make([]float32, n)
	for i := range p.Spectrum {
		p.Spectrum[i] = math.Float32frombits(be.Uint32(body[4*i:]))
	}
	return p, nil
}
