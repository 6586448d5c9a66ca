// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"vocalscope/internal/analysis"
	"vocalscope/internal/store"
	"vocalscope/internal/synchub"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// MonitorCapabilities is what the monitor displays.
const MonitorCapabilities = analysis.Pitch | analysis.VoicingState | analysis.Formants |
	analysis.Spectrogram | analysis.SpeechMetrics

const (
	refreshInterval = 50 * time.Millisecond
	defaultWidth    = 80
	scrollFraction  = 8 // a scroll key moves the view by 1/8 of its width
)

var (
	leftKey   = key.NewBinding(key.WithKeys("left", "h"))
	rightKey  = key.NewBinding(key.WithKeys("right", "l"))
	followKey = key.NewBinding(key.WithKeys("f"))
	resetKey  = key.NewBinding(key.WithKeys("r"))
	markKey   = key.NewBinding(key.WithKeys("m"))
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// MonitorModel shows the newest pitch, formants, speech metrics and
// spectrum, and a pitch history over the view window kept in the sync hub.
// Arrow keys scroll that window, f toggles following the newest frame.
type MonitorModel struct {
	title    string
	source   analysis.FrameSource
	resetter analysis.Resettable
	hub      *synchub.Hub
	sub      *analysis.Subscription
	unlisten func()

	width  int
	redraw atomic.Bool // set by the hub when old frames are no longer valid

	// Read buffers, reused on every refresh.
	history  []store.PitchFrame
	formants [1]store.FormantFrame
	speech   [1]store.SpeechFrame
	bins     []float32
	columns  []float32
	trace    []float32

	// What View renders.
	latest   int64
	pitch    store.PitchFrame
	formant  store.FormantFrame
	metrics  store.SpeechFrame
	view     synchub.View
	spectrum string
	contour  string
	minDb    float32
	maxDb    float32
	resets   int
}

// NewMonitor subscribes to source. resetter may be nil. Close releases the
// subscription.
func NewMonitor(title string, source analysis.FrameSource, resetter analysis.Resettable) (*MonitorModel, error) {
	sub, err := source.Subscribe(MonitorCapabilities)
	if err != nil {
		return nil, err
	}
	m := &MonitorModel{
		title:    title,
		source:   source,
		resetter: resetter,
		hub:      source.Hub(),
		sub:      sub,
		width:    defaultWidth,
		latest:   -1,
	}
	m.unlisten = m.hub.Subscribe(func(ev synchub.Event, _ synchub.View) {
		if ev == synchub.Invalidated {
			m.redraw.Store(true)
		}
	})
	return m, nil
}

// Close releases the analysis subscription.
func (m *MonitorModel) Close() error {
	m.unlisten()
	return m.sub.Close()
}

func (m *MonitorModel) Init() tea.Cmd {
	return tick()
}

func (m *MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(20, msg.Width)

	case tickMsg:
		m.refresh()
		return m, tick()

	case tea.KeyMsg:
		view := m.hub.View()
		step := max(1, view.Width()/scrollFraction)
		switch {
		case key.Matches(msg, quitKey):
			return m, tea.Quit
		case key.Matches(msg, leftKey):
			m.hub.ScrollBy(-step)
		case key.Matches(msg, rightKey):
			m.hub.ScrollBy(step)
		case key.Matches(msg, followKey):
			m.hub.SetFollow(!view.Following)
		case key.Matches(msg, markKey):
			if view.HasPlayhead {
				m.hub.ClearPlayhead()
			} else {
				m.hub.SetPlayhead(m.latest)
			}
		case key.Matches(msg, resetKey):
			if m.resetter != nil {
				m.resetter.Reset()
				m.resets++
			}
		}
		m.refresh()
	}
	return m, nil
}

// refresh reads the newest frames from the store. A read that races a write
// keeps the previous values.
func (m *MonitorModel) refresh() {
	st := m.source.Store()
	if m.redraw.Swap(false) {
		m.pitch, m.formant, m.metrics = store.PitchFrame{}, store.FormantFrame{}, store.SpeechFrame{}
		m.spectrum, m.contour = "", ""
	}
	m.view = m.hub.View()
	m.latest = st.LatestFrameID()

	if c := st.Capacity(); cap(m.history) < c {
		m.history = make([]store.PitchFrame, c)
	}
	m.history = m.history[:cap(m.history)]
	if r, ok := st.TryGetPitchRange(-1, m.history); ok {
		m.history = m.history[:r.Count]
		if r.Count > 0 {
			m.pitch = m.history[r.Count-1]
		}
		m.contour = m.renderContour(r.FirstFrameID())
	}
	if r, ok := st.TryGetFormantRange(-1, m.formants[:]); ok && r.Count > 0 {
		m.formant = m.formants[0]
	}
	if r, ok := st.TryGetSpeechRange(-1, m.speech[:]); ok && r.Count > 0 {
		m.metrics = m.speech[0]
	}

	bins, _ := st.Strides()
	if cap(m.bins) < bins {
		m.bins = make([]float32, bins)
	}
	if r, ok := st.TryGetSpectrogramRange(-1, m.bins[:bins]); ok {
		s := st.Settings()
		m.minDb, m.maxDb = float32(s.MinDb), float32(s.MaxDb)
		src := m.bins[:bins]
		if r.Count == 0 {
			src = nil
		}
		m.spectrum = sparkline(m.resize(&m.columns, src), m.minDb, m.maxDb)
	}
}

func (m *MonitorModel) renderContour(first int64) string {
	cols := m.plotWidth()
	if cap(m.trace) < cols {
		m.trace = make([]float32, cols)
	}
	m.trace = m.trace[:cols]
	pitchHistory(m.trace, m.history, first, m.view)
	lo, hi := pitchRange(m.trace)
	return sparkline(m.trace, lo, hi)
}

func (m *MonitorModel) resize(buf *[]float32, src []float32) []float32 {
	cols := m.plotWidth()
	if cap(*buf) < cols {
		*buf = make([]float32, cols)
	}
	*buf = (*buf)[:cols]
	downsample(*buf, src)
	return *buf
}

func (m *MonitorModel) plotWidth() int {
	return max(10, m.width-lipgloss.Width(labelStyle.Render("")))
}

func (m *MonitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	if m.latest < 0 {
		row("Status", dimStyle.Render("waiting for audio..."))
	} else {
		row("Frame", fmt.Sprintf("%d", m.latest))
	}

	pitch := dimStyle.Render("-")
	if m.pitch.Hz > 0 {
		pitch = highlightStyle.Render(fmt.Sprintf("%6.1f Hz", m.pitch.Hz)) +
			fmt.Sprintf("  %-9s conf %.2f", noteName(float64(m.pitch.Hz)), m.pitch.Confidence)
	}
	row("Pitch", pitch+"  "+voicingName(m.pitch.Voicing))

	f := m.formant.Freq
	row("Formants", fmt.Sprintf("F1 %4.0f  F2 %4.0f  F3 %4.0f  conf %.2f", f[0], f[1], f[2], m.formant.Confidence))

	s := m.metrics
	row("Speech", fmt.Sprintf("%-8s %.1f syl/s  %d pauses  clarity %.2f  intelligibility %.2f",
		s.State, s.SyllableRate, s.PauseCount, s.Clarity, s.Intelligibility))

	row("Spectrum", m.spectrum)
	row("Contour", m.contour)

	view := "following"
	if !m.view.Following {
		view = warnStyle.Render("paused")
	}
	view += fmt.Sprintf(" frames %d..%d", m.view.StartFrame, m.view.EndFrame)
	if m.view.HasPlayhead {
		view += fmt.Sprintf("  mark %d", m.view.Playhead)
	}
	if m.resets > 0 {
		view += fmt.Sprintf("  resets %d", m.resets)
	}
	row("View", view)

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("←/→: Scroll • f: Follow • m: Mark • r: Reset • q: Quit"))
	return sb.String()
}

// RunMonitor shows the monitor until the user quits or ctx is cancelled.
func RunMonitor(ctx context.Context, title string, source analysis.FrameSource, resetter analysis.Resettable) error {
	m, err := NewMonitor(title, source, resetter)
	if err != nil {
		return err
	}
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
