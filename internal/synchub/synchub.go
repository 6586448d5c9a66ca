// SPDX-License-Identifier: MIT

// Package synchub keeps the scroll position shared by the visualizers: the
// visible frame window, whether it follows the newest frame, and an optional
// playhead.
package synchub

import (
	"sync"
)

// Event tells listeners what changed.
type Event uint8

const (
	// ViewRangeChanged is sent when the visible window moves.
	ViewRangeChanged Event = iota
	// Invalidated is sent when visualizers must redraw the whole window, for
	// example after a discontinuity or a follow-mode change.
	Invalidated
)

func (e Event) String() string {
	if e == Invalidated {
		return "invalidated"
	}
	return "view-range-changed"
}

// View is a snapshot of the shared state.
type View struct {
	StartFrame  int64
	EndFrame    int64 // inclusive
	Following   bool
	Playhead    int64
	HasPlayhead bool
}

// Width is the number of visible frames.
func (v View) Width() int64 { return v.EndFrame - v.StartFrame + 1 }

// Listener receives events with the view after the change.
type Listener func(Event, View)

// Hub is safe for concurrent use. Listeners are called outside the lock, on
// the goroutine that caused the change.
type Hub struct {
	mu        sync.Mutex
	view      View
	latest    int64
	listeners map[int]Listener
	nextID    int
	// rebuilt on (un)subscribe so emitting does not allocate
	snapshot []Listener
}

// New returns a hub that follows the newest frame.
func New() *Hub {
	return &Hub{
		view:      View{StartFrame: 0, EndFrame: -1, Following: true},
		latest:    -1,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function that removes it.
func (h *Hub) Subscribe(l Listener) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.rebuildLocked()
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.rebuildLocked()
		h.mu.Unlock()
	}
}

func (h *Hub) rebuildLocked() {
	ls := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		ls = append(ls, l)
	}
	h.snapshot = ls
}

// View returns the current state.
func (h *Hub) View() View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view
}

// UpdateViewRange records the newest frame and, while following, moves the
// window so it ends there with the given width.
func (h *Hub) UpdateViewRange(latestFrame int64, visibleFrames int) {
	h.mu.Lock()
	h.latest = latestFrame
	if !h.view.Following || visibleFrames <= 0 {
		h.mu.Unlock()
		return
	}
	start := latestFrame - int64(visibleFrames) + 1
	if start == h.view.StartFrame && latestFrame == h.view.EndFrame {
		h.mu.Unlock()
		return
	}
	h.view.StartFrame, h.view.EndFrame = start, latestFrame
	h.emitLocked(ViewRangeChanged)
}

// ScrollBy moves the window by delta frames and stops following.
func (h *Hub) ScrollBy(delta int64) {
	h.mu.Lock()
	h.view.StartFrame += delta
	h.view.EndFrame += delta
	h.view.Following = false
	h.emitLocked(ViewRangeChanged)
}

// ScrollTo moves the window to start at startFrame and stops following.
func (h *Hub) ScrollTo(startFrame int64) {
	h.mu.Lock()
	width := h.view.Width()
	h.view.StartFrame = startFrame
	h.view.EndFrame = startFrame + width - 1
	h.view.Following = false
	h.emitLocked(ViewRangeChanged)
}

// SetFollow switches follow mode. Re-engaging snaps the window to the newest
// frame seen by UpdateViewRange.
func (h *Hub) SetFollow(follow bool) {
	h.mu.Lock()
	if h.view.Following == follow {
		h.mu.Unlock()
		return
	}
	h.view.Following = follow
	if follow && h.latest >= 0 {
		width := h.view.Width()
		h.view.EndFrame = h.latest
		h.view.StartFrame = h.latest - width + 1
	}
	h.emitLocked(Invalidated)
}

// SetPlayhead places the playhead at frame.
func (h *Hub) SetPlayhead(frame int64) {
	h.mu.Lock()
	h.view.Playhead, h.view.HasPlayhead = frame, true
	h.emitLocked(ViewRangeChanged)
}

// ClearPlayhead removes the playhead.
func (h *Hub) ClearPlayhead() {
	h.mu.Lock()
	if !h.view.HasPlayhead {
		h.mu.Unlock()
		return
	}
	h.view.Playhead, h.view.HasPlayhead = 0, false
	h.emitLocked(ViewRangeChanged)
}

// Invalidate asks every listener to redraw.
func (h *Hub) Invalidate() {
	h.mu.Lock()
	h.emitLocked(Invalidated)
}

// emitLocked snapshots the view and listeners, releases the lock and calls
// them.
func (h *Hub) emitLocked(ev Event) {
	v, ls := h.view, h.snapshot
	h.mu.Unlock()
	for _, l := range ls {
		l(ev, v)
	}
}
