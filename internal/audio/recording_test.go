// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func decodeWav(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return dec, buf.Data
}

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.wav")
	r, err := NewRecorder(path, 16000)
	if err != nil {
		t.Fatal(err)
	}

	block := make([]float32, 160)
	for i := range block {
		block[i] = float32(math.Sin(2 * math.Pi * float64(i) / 16))
	}
	for range 25 {
		r.Write(block)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	dec, data := decodeWav(t, path)
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != recordBitDepth {
		t.Errorf("format %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(data) != 25*160 {
		t.Fatalf("decoded %d samples, want %d", len(data), 25*160)
	}
	if got, want := data[4], 32767; got != want {
		t.Errorf("sample at the sine peak = %d, want %d", got, want)
	}
}

func TestRecorderClampsFullScale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	r, err := NewRecorder(path, 8000)
	if err != nil {
		t.Fatal(err)
	}
	r.Write([]float32{2, -2, 0.5})
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	_, data := decodeWav(t, path)
	want := []int{32767, -32767, 16384}
	for i, v := range want {
		if data[i] != v {
			t.Errorf("sample %d = %d, want %d", i, data[i], v)
		}
	}
}

func TestEngineRecording(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(testAudioConfig(1, 32), newFakeTarget())

	if err := e.StopRecording(); err != nil {
		t.Errorf("stop when not recording: %v", err)
	}
	if err := e.StartRecording(filepath.Join(dir, "missing", "x.wav")); err == nil {
		t.Error("expected an error for a missing directory")
	}

	path := filepath.Join(dir, "engine.wav")
	if err := e.StartRecording(path); err != nil {
		t.Fatal(err)
	}
	if !e.IsRecording() {
		t.Error("engine should be recording")
	}
	if err := e.StartRecording(filepath.Join(dir, "other.wav")); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("second start: %v", err)
	}

	e.processBuffer(make([]float32, 32))
	e.processBuffer(make([]float32, 32))
	if err := e.StopRecording(); err != nil {
		t.Fatal(err)
	}
	if e.IsRecording() {
		t.Error("engine still recording after stop")
	}
	if _, data := decodeWav(t, path); len(data) != 64 {
		t.Errorf("recorded %d samples, want 64", len(data))
	}
}
