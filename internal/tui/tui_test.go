// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"vocalscope/internal/analysis"
	"vocalscope/internal/audio"
	"vocalscope/internal/config"
	"vocalscope/internal/signal"
	"vocalscope/internal/store"
	"vocalscope/internal/synchub"

	tea "github.com/charmbracelet/bubbletea"
)

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestNoteName(t *testing.T) {
	tests := []struct {
		hz   float64
		want string
	}{
		{440, "A4 +0c"},
		{261.63, "C4 +0c"},
		{110, "A2 +0c"},
		{446, "A4 +23c"},
		{0, "-"},
		{-5, "-"},
	}
	for _, tt := range tests {
		if got := noteName(tt.hz); got != tt.want {
			t.Errorf("noteName(%v) = %q, want %q", tt.hz, got, tt.want)
		}
	}
}

func TestSparkline(t *testing.T) {
	nan := float32(math.NaN())
	got := sparkline([]float32{-100, -50, 0, nan, 20}, -100, 0)
	if got != "▁▄█ █" {
		t.Errorf("sparkline = %q", got)
	}
	if got := sparkline([]float32{1, 1}, 1, 1); got != "▁▁" {
		t.Errorf("flat range = %q", got)
	}
}

func TestDownsampleTakesColumnMaximum(t *testing.T) {
	dst := make([]float32, 2)
	downsample(dst, []float32{1, 5, 2, 3, 9, 4})
	if dst[0] != 5 || dst[1] != 9 {
		t.Errorf("got %v", dst)
	}

	wide := make([]float32, 4)
	downsample(wide, []float32{1, 2})
	if wide[0] != 1 || wide[3] != 2 {
		t.Errorf("upsampled %v", wide)
	}

	downsample(dst, nil)
	if dst[0] == dst[0] {
		t.Error("empty source should give NaN columns")
	}
}

func TestPitchHistory(t *testing.T) {
	frames := []store.PitchFrame{
		{Hz: 100, Voicing: signal.Voiced},
		{Hz: 0, Voicing: signal.Silence},
		{Hz: 120, Voicing: signal.Voiced},
		{Hz: 130, Voicing: signal.Unvoiced},
	}
	dst := make([]float32, 6)
	// frames hold ids 10..13; the view covers 8..13.
	pitchHistory(dst, frames, 10, synchub.View{StartFrame: 8, EndFrame: 13})
	for i, want := range []float32{-1, -1, 100, -1, 120, -1} {
		if want < 0 {
			if dst[i] == dst[i] {
				t.Errorf("column %d = %v, want empty", i, dst[i])
			}
		} else if dst[i] != want {
			t.Errorf("column %d = %v, want %v", i, dst[i], want)
		}
	}

	lo, hi := pitchRange(dst)
	if lo > 100 || hi < 120 || hi/lo < 1.99 {
		t.Errorf("range %v..%v should span an octave around 100..120", lo, hi)
	}
}

func newMonitor(t *testing.T) (*MonitorModel, *analysis.Orchestrator) {
	t.Helper()
	o := analysis.New(config.NewAnalysis(config.DefaultSettings()), 0)
	if err := o.Initialize(48000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { o.Close() })
	m, err := NewMonitor("vocalscope", o, o)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m, o
}

func TestMonitorSubscribes(t *testing.T) {
	m, o := newMonitor(t)
	if st := o.Stats(); st.Subscribers != 1 || st.Capabilities != MonitorCapabilities {
		t.Errorf("stats %+v", st)
	}
	m.Close()
	if o.Stats().Subscribers != 0 {
		t.Error("Close kept the subscription")
	}
}

func TestMonitorShowsNewestFrame(t *testing.T) {
	m, o := newMonitor(t)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(tickMsg(time.Now()))
	if v := m.View(); !strings.Contains(v, "waiting for audio") {
		t.Errorf("empty store view:\n%s", v)
	}

	st := o.Store()
	st.BeginWriteFrame(0)
	st.WritePitch(0, store.PitchFrame{Hz: 220, Confidence: 0.9, Voicing: signal.Voiced})
	st.WriteFormants(0, store.FormantFrame{Freq: [3]float32{730, 1090, 2440}, Confidence: 0.7})
	st.EndWriteFrame(0, 0)

	m.Update(tickMsg(time.Now()))
	v := m.View()
	for _, want := range []string{"220.0 Hz", "A3 +0c", "voiced", "F1  730", "F2 1090"} {
		if !strings.Contains(v, want) {
			t.Errorf("view lacks %q:\n%s", want, v)
		}
	}
}

func TestMonitorKeysDriveHub(t *testing.T) {
	m, o := newMonitor(t)
	hub := o.Hub()
	hub.UpdateViewRange(799, 800)

	m.Update(tea.KeyMsg{Type: tea.KeyLeft})
	v := hub.View()
	if v.Following || v.StartFrame != -100 {
		t.Errorf("after scroll left: %+v", v)
	}
	if !strings.Contains(m.View(), "paused") {
		t.Error("view does not show the paused state")
	}

	m.Update(runes("f"))
	if v := hub.View(); !v.Following || v.EndFrame != 799 {
		t.Errorf("after follow: %+v", v)
	}

	m.Update(runes("m"))
	if v := hub.View(); !v.HasPlayhead {
		t.Error("mark did not set the playhead")
	}
	m.Update(runes("m"))
	if v := hub.View(); v.HasPlayhead {
		t.Error("second mark did not clear the playhead")
	}

	m.Update(runes("r"))
	if m.resets != 1 {
		t.Error("reset key ignored")
	}

	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestDeviceListSelection(t *testing.T) {
	orig := hostDevices
	defer func() { hostDevices = orig }()
	hostDevices = func() ([]audio.Device, error) {
		return []audio.Device{
			{ID: 0, Name: "Built-in Microphone", MaxInputChannels: 1, DefaultSampleRate: 44100, IsDefaultInput: true},
			{ID: 3, Name: "USB Interface", MaxInputChannels: 2, DefaultSampleRate: 96000},
		}, nil
	}

	var model tea.Model = NewDeviceListModel()
	model, _ = model.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	model, _ = model.Update(fetchDevices())
	if !strings.Contains(model.View(), "Built-in Microphone [default]") {
		t.Errorf("list view:\n%s", model.View())
	}

	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyDown})
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !strings.Contains(model.View(), "Configure Device: USB Interface") {
		t.Errorf("config view:\n%s", model.View())
	}
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyUp})
	model, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("confirming did not quit")
	}

	sel := model.(DeviceListModel).Selection()
	if sel == nil || sel.DeviceID != 3 || sel.SampleRate != 88200 {
		t.Errorf("selection %+v", sel)
	}
}

func TestDeviceListError(t *testing.T) {
	orig := hostDevices
	defer func() { hostDevices = orig }()
	hostDevices = func() ([]audio.Device, error) { return nil, errors.New("no host") }

	var model tea.Model = NewDeviceListModel()
	model, _ = model.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	model, _ = model.Update(fetchDevices())
	if !strings.Contains(model.View(), "no host") {
		t.Errorf("view:\n%s", model.View())
	}
	if _, cmd := model.Update(runes("x")); cmd == nil {
		t.Error("any key should quit after an error")
	}
}
