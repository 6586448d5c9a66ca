// SPDX-License-Identifier: MIT

/*
Package analysis runs the per-hop analysis pipeline on a dedicated goroutine
and publishes frames into a result store.

Lifecycle:
  - Initialize fixes the sample rate and configures every component
  - the goroutine starts with the first Subscribe and stops when the last
    Subscription is closed
  - Close stops it for good

Thread Safety:
  - EnqueueAudio runs on the audio thread and never blocks
  - Subscribe, Reset, ConfigureAnalysis and Close may be called from any
    goroutine
  - the pipeline itself is touched only by the analysis goroutine, or by
    the caller holding the orchestrator lock while that goroutine is stopped
*/
package analysis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"vocalscope/internal/capture"
	"vocalscope/internal/config"
	"vocalscope/internal/log"
	"vocalscope/internal/store"
	"vocalscope/internal/synchub"
)

var (
	ErrClosed         = errors.New("analysis: orchestrator closed")
	ErrNotInitialized = errors.New("analysis: orchestrator not initialized")
	ErrNoCapabilities = errors.New("analysis: subscription requests no capabilities")
	ErrBadSampleRate  = errors.New("analysis: sample rate must be positive")
)

const (
	joinTimeout   = 500 * time.Millisecond
	idleSleep     = 20 * time.Millisecond
	starvedSleep  = 2 * time.Millisecond
	dropLogPeriod = 2 * time.Second
)

// Stats are diagnostic counters.
type Stats struct {
	Iterations      uint64
	FramesWritten   uint64
	Drops           uint64
	Reallocations   uint64
	Discontinuities uint64
	Starvations     uint64
	Leaked          uint64 // goroutines abandoned after the join timeout

	Running      bool
	Subscribers  int
	Capabilities Capability
}

// Orchestrator owns the capture ring, the pipeline and the result store.
type Orchestrator struct {
	live  *config.Analysis
	ring  *capture.Ring
	link  *capture.Link
	store *store.Store
	hub   *synchub.Hub

	mu          sync.Mutex
	subs        map[uint64]Capability
	nextSub     uint64
	sampleRate  float64
	initialized bool
	closed      bool
	running     bool
	rebuild     bool // a leaked goroutine may still hold p
	cancel      context.CancelFunc
	done        chan struct{}
	p           *pipeline

	caps      atomic.Uint32
	consumers atomic.Int32
	resetReq  atomic.Bool
	stepping  atomic.Bool

	iterations      atomic.Uint64
	framesWritten   atomic.Uint64
	drops           atomic.Uint64
	reallocations   atomic.Uint64
	discontinuities atomic.Uint64
	starvations     atomic.Uint64
	leaked          atomic.Uint64

	dropLog *log.Limiter
}

// New returns an orchestrator reading settings from live. ringCapacity is
// rounded up to a power of two; zero selects capture.DefaultRingCapacity.
func New(live *config.Analysis, ringCapacity int) *Orchestrator {
	if ringCapacity <= 0 {
		ringCapacity = capture.DefaultRingCapacity
	}
	return &Orchestrator{
		live:    live,
		ring:    capture.NewRing(ringCapacity),
		link:    capture.NewLink(),
		store:   store.New(),
		hub:     synchub.New(),
		subs:    make(map[uint64]Capability),
		dropLog: log.NewLimiter(dropLogPeriod),
	}
}

func (o *Orchestrator) Store() *store.Store      { return o.store }
func (o *Orchestrator) Hub() *synchub.Hub        { return o.hub }
func (o *Orchestrator) Config() *config.Analysis { return o.live }

// Initialize sets the sample rate and configures all components. It may be
// called again when the device changes; the analysis goroutine is restarted
// around the change.
func (o *Orchestrator) Initialize(sampleRate float64) error {
	if sampleRate <= 0 {
		return ErrBadSampleRate
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	wasRunning := o.running
	o.stopLocked()

	if o.p == nil || o.rebuild || o.sampleRate != sampleRate {
		o.p = o.freshPipelineLocked(sampleRate)
	}
	o.sampleRate = sampleRate
	if err := o.configureLocked(true); err != nil {
		return err
	}
	o.initialized = true
	log.Infof("Analysis: initialized at %.0f Hz", sampleRate)

	if wasRunning || len(o.subs) > 0 {
		o.startLocked()
	}
	return nil
}

// freshPipelineLocked builds a pipeline that continues the store's frame
// ids.
func (o *Orchestrator) freshPipelineLocked(sampleRate float64) *pipeline {
	p := newPipeline(sampleRate, o.store, o.hub, o.ring, o.link)
	p.frameID = o.store.LatestFrameID() + 1
	p.specNext = p.frameID
	p.dropped = o.ring.DroppedSamples()
	o.rebuild = false
	return p
}

// ConfigureAnalysis applies the live settings now. With force every
// component is rebuilt even if nothing changed. While the goroutine runs,
// changes are picked up on the next hop instead and force is only honoured
// by stopping and restarting it.
func (o *Orchestrator) ConfigureAnalysis(force bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if !o.initialized {
		return ErrNotInitialized
	}
	if !o.running {
		return o.configureLocked(force)
	}
	if !force {
		return nil
	}
	o.stopLocked()
	if o.rebuild {
		o.p = o.freshPipelineLocked(o.sampleRate)
	}
	err := o.configureLocked(true)
	o.startLocked()
	return err
}

func (o *Orchestrator) configureLocked(force bool) error {
	version := o.live.Version()
	res, err := o.p.configure(o.live.Snapshot(), version, force)
	o.noteConfigure(res, err)
	return err
}

func (o *Orchestrator) noteConfigure(res configResult, err error) {
	if err != nil {
		log.Errorf("Analysis: configure: %v", err)
		return
	}
	switch res {
	case configReallocated:
		o.reallocations.Add(1)
	case configDiscontinuity:
		o.discontinuities.Add(1)
	}
}

// ActiveConsumers implements capture.Target.
func (o *Orchestrator) ActiveConsumers() int { return int(o.consumers.Load()) }

// Link implements capture.Target.
func (o *Orchestrator) Link() *capture.Link { return o.link }

// EnqueueAudio implements capture.Target. Only channel 0 is analysed and
// nothing is buffered while no one is subscribed.
func (o *Orchestrator) EnqueueAudio(buffer []float32, channel int) {
	if channel != capture.AnalysisChannel || o.consumers.Load() == 0 {
		return
	}
	if t, ok := o.link.BlockStart(); ok {
		o.ring.Anchor(t)
	}
	o.ring.Write(buffer)
}

// Backlog returns the number of captured samples not yet analysed, counting
// a hop in progress as one.
func (o *Orchestrator) Backlog() int {
	n := o.ring.Available()
	if o.stepping.Load() {
		n++
	}
	return n
}

// Subscribe registers a consumer for caps and starts the analysis goroutine
// if it is the first one.
func (o *Orchestrator) Subscribe(caps Capability) (*Subscription, error) {
	caps &= AllCapabilities
	if caps == 0 {
		return nil, ErrNoCapabilities
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = caps
	o.updateCapsLocked()
	if o.initialized && !o.running {
		o.startLocked()
	}
	log.Debugf("Analysis: subscription %d for %s", id, caps)
	return &Subscription{o: o, id: id, caps: caps}, nil
}

func (o *Orchestrator) unsubscribe(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.subs[id]; !ok {
		return
	}
	delete(o.subs, id)
	o.updateCapsLocked()
	if len(o.subs) == 0 {
		o.stopLocked()
	}
}

func (o *Orchestrator) updateCapsLocked() {
	var union Capability
	for _, c := range o.subs {
		union |= c
	}
	o.caps.Store(uint32(union))
	o.consumers.Store(int32(len(o.subs)))
}

// Capabilities returns the union requested by current subscribers.
func (o *Orchestrator) Capabilities() Capability { return Capability(o.caps.Load()) }

// Reset discards buffered audio and all carried analysis state. Frame ids
// keep counting so readers see no jump. While the goroutine runs the reset
// happens at the start of its next iteration.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		o.resetReq.Store(true)
		return
	}
	if o.p != nil && o.p.configured {
		o.performReset(o.p)
	}
}

// performReset runs on the consumer side while capture may still be live,
// so it only skips unread audio and leaves the link to the capture thread.
func (o *Orchestrator) performReset(p *pipeline) {
	o.link.Reset()
	p.discardQueued()
	p.resetState()
	o.store.Reset(p.frameID)
	o.hub.Invalidate()
}

// Close stops the analysis goroutine and rejects further use.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.stopLocked()
	clear(o.subs)
	o.updateCapsLocked()
	return nil
}

// Stats returns a snapshot of the diagnostic counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	running, subs := o.running, len(o.subs)
	o.mu.Unlock()
	return Stats{
		Iterations:      o.iterations.Load(),
		FramesWritten:   o.framesWritten.Load(),
		Drops:           o.drops.Load(),
		Reallocations:   o.reallocations.Load(),
		Discontinuities: o.discontinuities.Load(),
		Starvations:     o.starvations.Load(),
		Leaked:          o.leaked.Load(),
		Running:         running,
		Subscribers:     subs,
		Capabilities:    o.Capabilities(),
	}
}

func (o *Orchestrator) startLocked() {
	if o.running || o.closed {
		return
	}
	if o.rebuild {
		o.p = o.freshPipelineLocked(o.sampleRate)
		if err := o.configureLocked(true); err != nil {
			return
		}
	}
	// Audio queued before the goroutine stopped is stale.
	o.p.discardQueued()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel, o.done, o.running = cancel, done, true
	go o.run(ctx, o.p, done)
}

// stopLocked cancels the goroutine and waits up to joinTimeout for it. A
// goroutine that does not exit in time is abandoned and its pipeline is
// never touched again.
func (o *Orchestrator) stopLocked() {
	if !o.running {
		return
	}
	o.cancel()
	o.running = false
	t := time.NewTimer(joinTimeout)
	defer t.Stop()
	select {
	case <-o.done:
	case <-t.C:
		o.leaked.Add(1)
		o.rebuild = true
		log.Warnf("Analysis: worker did not stop within %v, abandoning it", joinTimeout)
	}
	o.cancel, o.done = nil, nil
}
