// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"vocalscope/internal/analysis"
	"vocalscope/internal/config"
	"vocalscope/internal/signal"
	"vocalscope/internal/store"
)

func TestPacketLayout(t *testing.T) {
	p := Packet{Seq: 3, Timestamp: 1 << 40, Pitch: 196, Confidence: 0.5, Spectrum: []float32{-12, -48}}
	b := AppendPacket(nil, &p)
	if len(b) != HeaderSize+8 {
		t.Fatalf("packet is %d bytes", len(b))
	}
	be := binary.BigEndian
	if be.Uint32(b) != 3 || int64(be.Uint64(b[4:])) != 1<<40 || be.Uint16(b[12:]) != 2 {
		t.Errorf("header % x", b[:14])
	}
	if math.Float32frombits(be.Uint32(b[14:])) != 196 || math.Float32frombits(be.Uint32(b[26:])) != -48 {
		t.Errorf("body % x", b[14:])
	}

	got, err := ParsePacket(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != p.Seq || got.Confidence != 0.5 || len(got.Spectrum) != 2 || got.Spectrum[0] != -12 {
		t.Errorf("parsed %+v", got)
	}
}

func TestParseShortPacket(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"header cut", make([]byte, HeaderSize-1)},
		{"body cut", AppendPacket(nil, &Packet{Spectrum: make([]float32, 4)})[:HeaderSize+6]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePacket(tt.b); !errors.Is(err, ErrShortPacket) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSenderClosed(t *testing.T) {
	l := listen(t)
	s, err := NewUDPSender(l.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.Send([]byte("ping")); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("send after close: %v", err)
	}
}

func TestNewUDPPublisherValidates(t *testing.T) {
	if _, err := NewUDPPublisher(0, nil, nil); err == nil {
		t.Error("nil sender accepted")
	}
}

func TestPublisherSendsFrames(t *testing.T) {
	o := analysis.New(config.NewAnalysis(config.DefaultSettings()), 0)
	if err := o.Initialize(48000); err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	l := listen(t)
	sender, err := NewUDPSender(l.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()
	pub, err := NewUDPPublisher(10*time.Millisecond, sender, o)
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Start(); err != nil {
		t.Fatal(err)
	}
	if st := o.Stats(); st.Subscribers != 1 || !st.Running {
		t.Errorf("after Start: %+v", st)
	}

	st := o.Store()
	bins, _ := st.Strides()
	col := make([]float32, bins)
	col[0] = -6
	st.BeginWriteFrame(0)
	st.WriteSpectrogram(0, col)
	st.WritePitch(0, store.PitchFrame{Hz: 150, Confidence: 0.8, Voicing: signal.Voiced})
	st.EndWriteFrame(0, 0)

	buf := make([]byte, 64*1024)
	l.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := l.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	p, err := ParsePacket(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if p.Seq != 1 || p.Pitch != 150 || p.Confidence != 0.8 || len(p.Spectrum) != bins || p.Spectrum[0] != -6 {
		t.Errorf("packet seq %d pitch %v conf %v, %d bins", p.Seq, p.Pitch, p.Confidence, len(p.Spectrum))
	}
	if d := time.Since(time.Unix(0, p.Timestamp)); d < 0 || d > 5*time.Second {
		t.Errorf("timestamp %v off", d)
	}

	// No new frame, no packet.
	l.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := l.Read(buf); err == nil {
		t.Error("packet sent without a new frame")
	}

	pub.Stop()
	pub.Stop()
	if st := o.Stats(); st.Subscribers != 0 || st.Running {
		t.Errorf("after Stop: %+v", st)
	}
}
