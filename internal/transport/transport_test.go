// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vocalscope/internal/analysis"
	"vocalscope/internal/config"
	"vocalscope/internal/signal"
	"vocalscope/internal/store"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

func newSource(t *testing.T) *analysis.Orchestrator {
	t.Helper()
	o := analysis.New(config.NewAnalysis(config.DefaultSettings()), 0)
	if err := o.Initialize(48000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

// writeFrame publishes a frame whose values derive from hz. No audio is
// queued in these tests, so the analysis goroutine never writes.
func writeFrame(st *store.Store, id int64, hz float32) {
	bins, _ := st.Strides()
	col := make([]float32, bins)
	for i := range col {
		col[i] = -float32(i)
	}
	st.BeginWriteFrame(id)
	st.WriteSpectrogram(id, col)
	st.WritePitch(id, store.PitchFrame{Hz: hz, Confidence: 0.9, Voicing: signal.Voiced})
	st.WriteFormants(id, store.FormantFrame{Freq: [3]float32{700, 1200, 2600}, Confidence: 0.8})
	st.EndWriteFrame(id, 0)
}

func waitFor(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestFrameReader(t *testing.T) {
	o := newSource(t)
	r := NewFrameReader(o.Store())
	var f Frame

	if r.Next(&f) {
		t.Fatal("frame read from an empty store")
	}

	writeFrame(o.Store(), 0, 220)
	if !r.Next(&f) {
		t.Fatal("no frame after a write")
	}
	if f.Type != "frame" || f.ID != 0 || f.Pitch != 220 || f.Confidence != 0.9 || f.Voicing != signal.Voiced {
		t.Errorf("frame %+v", f)
	}
	if f.Formants != [3]float32{700, 1200, 2600} {
		t.Errorf("formants %v", f.Formants)
	}
	if bins, _ := o.Store().Strides(); len(f.Spectrum) != bins || f.Spectrum[3] != -3 {
		t.Errorf("spectrum has %d bins", len(f.Spectrum))
	}

	if r.Next(&f) {
		t.Error("same frame returned twice")
	}
	writeFrame(o.Store(), 1, 230)
	if !r.Next(&f) || f.ID != 1 || f.Pitch != 230 {
		t.Errorf("second frame %+v", f)
	}
	r.Reset()
	if !r.Next(&f) || f.ID != 1 {
		t.Error("Reset did not replay the newest frame")
	}
}

type recordingTransport struct {
	mu     sync.Mutex
	frames []Frame
}

func (rt *recordingTransport) Send(data any) error {
	f := *data.(*Frame)
	f.Spectrum = append([]float32(nil), f.Spectrum...)
	rt.mu.Lock()
	rt.frames = append(rt.frames, f)
	rt.mu.Unlock()
	return nil
}

func (rt *recordingTransport) Close() error { return nil }

func (rt *recordingTransport) count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.frames)
}

func TestPublisherActivation(t *testing.T) {
	o := newSource(t)
	p := NewPublisher("TestPublisher", o, &recordingTransport{}, 0)
	if p.interval != MinInterval {
		t.Errorf("interval %v, want %v", p.interval, MinInterval)
	}

	if err := p.SetActive(true); err != nil {
		t.Fatal(err)
	}
	p.SetActive(true)
	st := o.Stats()
	if st.Subscribers != 1 || st.Capabilities != FrameCapabilities || !st.Running {
		t.Errorf("after activation: %+v", st)
	}
	p.SetActive(false)
	if st := o.Stats(); st.Subscribers != 0 || st.Running {
		t.Errorf("after release: %+v", st)
	}
}

func TestPublisherRun(t *testing.T) {
	o := newSource(t)
	rt := &recordingTransport{}
	p := NewPublisher("TestPublisher", o, rt, MinInterval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	writeFrame(o.Store(), 0, 200)
	time.Sleep(3 * MinInterval)
	if n := rt.count(); n != 0 {
		t.Errorf("inactive publisher sent %d frames", n)
	}

	p.SetActive(true)
	if !waitFor(time.Second, func() bool { return rt.count() == 1 }) {
		t.Fatalf("sent %d frames, want 1", rt.count())
	}
	writeFrame(o.Store(), 1, 210)
	if !waitFor(time.Second, func() bool { return rt.count() == 2 }) {
		t.Fatalf("sent %d frames, want 2", rt.count())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if p.Active() || o.Stats().Subscribers != 0 {
		t.Error("Run left the subscription open")
	}
	if p.Sent() != 2 {
		t.Errorf("Sent() = %d", p.Sent())
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestWebSocketBroadcast(t *testing.T) {
	var clients atomic.Int32
	wst := NewWebSocketTransport("127.0.0.1:0", func(n int) { clients.Store(int32(n)) })
	defer wst.Close()
	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	if !waitFor(time.Second, func() bool { return clients.Load() == 1 }) {
		t.Fatal("client not registered")
	}

	sent := Frame{Type: "frame", ID: 7, Pitch: 180, Confidence: 0.7, Voicing: signal.Voiced,
		Spectrum: []float32{-10, -20, -30}, Formants: [3]float32{500, 1500, 2500}}
	if err := wst.Send(&sent); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("message type %d, want binary", kind)
	}
	var got Frame
	if err := msgpack.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 || got.Pitch != 180 || len(got.Spectrum) != 3 || got.Spectrum[2] != -30 || got.Formants[1] != 1500 {
		t.Errorf("decoded %+v", got)
	}

	// Field names are part of the wire format.
	var raw map[string]any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"type", "id", "pitch", "confidence", "voicing", "spectrum", "formants"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("missing key %q", k)
		}
	}

	conn.Close()
	if !waitFor(time.Second, func() bool { return clients.Load() == 0 }) {
		t.Error("disconnect not noticed")
	}
}

func TestWebSocketClientsDrivePublisher(t *testing.T) {
	o := newSource(t)
	var p *Publisher
	wst := NewWebSocketTransport("127.0.0.1:0", func(n int) { p.SetActive(n > 0) })
	defer wst.Close()
	p = NewPublisher("WebSocketPublisher", o, wst, MinInterval)
	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()

	first := dial(t, srv)
	second := dial(t, srv)
	if !waitFor(time.Second, func() bool { return wst.Clients() == 2 }) {
		t.Fatal("clients not registered")
	}
	if st := o.Stats(); st.Subscribers != 1 {
		t.Errorf("%d subscriptions for two clients", st.Subscribers)
	}

	first.Close()
	if !waitFor(time.Second, func() bool { return wst.Clients() == 1 }) {
		t.Fatal("first disconnect not noticed")
	}
	if !p.Active() {
		t.Error("publisher released while a client remains")
	}
	second.Close()
	if !waitFor(time.Second, func() bool { return !p.Active() }) {
		t.Error("publisher still active without clients")
	}
	if o.Stats().Running {
		t.Error("analysis still running without clients")
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport(time.Second)
	if err := lt.Send("not a frame"); err != nil {
		t.Error(err)
	}
	if err := lt.Send(&Frame{ID: 1}); err != nil {
		t.Error(err)
	}
	if err := lt.Close(); err != nil {
		t.Error(err)
	}
}
