// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vocalscope/internal/analysis"
	"vocalscope/internal/log"
)

// MinInterval caps publishing at 30 frames per second.
const MinInterval = time.Second / 30

// Publisher forwards the newest analysis frame to a Transport on every tick
// while it is active. Being active means holding a subscription, so analysis
// only runs while someone is listening.
type Publisher struct {
	name      string
	source    analysis.FrameSource
	transport Transport
	interval  time.Duration

	reader *FrameReader
	frame  Frame

	mu  sync.Mutex
	sub *analysis.Subscription

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewPublisher returns an inactive publisher. Intervals below MinInterval
// are raised to it.
func NewPublisher(name string, source analysis.FrameSource, t Transport, interval time.Duration) *Publisher {
	if interval < MinInterval {
		if interval > 0 {
			log.Warnf("%s: interval %v below %v, using %v", name, interval, MinInterval, MinInterval)
		}
		interval = MinInterval
	}
	return &Publisher{
		name:      name,
		source:    source,
		transport: t,
		interval:  interval,
		reader:    NewFrameReader(source.Store()),
	}
}

// SetActive subscribes to or releases the analysis source.
func (p *Publisher) SetActive(active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case active && p.sub == nil:
		sub, err := p.source.Subscribe(FrameCapabilities)
		if err != nil {
			return fmt.Errorf("%s: subscribe: %w", p.name, err)
		}
		p.sub = sub
		log.Debugf("%s: subscribed to analysis", p.name)
	case !active && p.sub != nil:
		p.sub.Close()
		p.sub = nil
		log.Debugf("%s: released analysis", p.name)
	}
	return nil
}

func (p *Publisher) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil
}

// Sent returns the number of frames handed to the transport.
func (p *Publisher) Sent() uint64 { return p.sent.Load() }

// Run publishes until ctx is cancelled, then releases the subscription.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.SetActive(false)

	log.Infof("%s: publishing every %v", p.name, p.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.Active() {
				p.publish()
			}
		}
	}
}

func (p *Publisher) publish() {
	if !p.reader.Next(&p.frame) {
		return
	}
	if err := p.transport.Send(&p.frame); err != nil {
		if p.failed.Add(1) == 1 {
			log.Warnf("%s: send: %v", p.name, err)
		}
		return
	}
	p.sent.Add(1)
}
