// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"math"
	"sync"
	"time"

	"vocalscope/internal/analysis"
	applog "vocalscope/internal/log"
	"vocalscope/internal/transport"
)

const defaultInterval = 33 * time.Millisecond

// UDPPublisher periodically reads the newest analysis frame, packs pitch and
// the display spectrum into a datagram and sends it with a UDPSender. It
// holds an analysis subscription between Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	source   analysis.FrameSource
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // guards ticker, doneChan and sub across Start/Stop
	sub      *analysis.Subscription

	// Owned by the publisher goroutine.
	reader *transport.FrameReader
	frame  transport.Frame
	packet Packet
	buf    []byte
}

// NewUDPPublisher returns a stopped publisher. Non-positive intervals
// default to about 30 Hz.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source analysis.FrameSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, errors.New("UDPPublisher: analysis source cannot be nil")
	}
	if interval <= 0 {
		interval = defaultInterval
		applog.Warnf("UDPPublisher: invalid interval, defaulting to %s", interval)
	}
	applog.Infof("UDPPublisher: interval %s, target %s", interval, sender.RemoteAddr())
	return &UDPPublisher{
		sender:   sender,
		source:   source,
		interval: interval,
		reader:   transport.NewFrameReader(source.Store()),
	}, nil
}

// Start subscribes to analysis and launches the publishing goroutine.
// Calling Start while running is a no-op.
func (p *UDPPublisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		applog.Warnf("UDPPublisher: Start called but already running")
		return nil
	}
	sub, err := p.source.Subscribe(analysis.Pitch | analysis.Spectrogram)
	if err != nil {
		return err
	}
	p.sub = sub
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	p.reader.Reset()

	ticker, done := p.ticker, p.doneChan
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-done:
				return
			}
		}
	}()
	return nil
}

// Stop ends the goroutine, waits for it and releases the subscription. It
// is safe to call more than once.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	p.wg.Wait()
	if sub != nil {
		sub.Close()
	}
	applog.Infof("UDPPublisher: stopped after %d packets", p.packet.Seq)
	return nil
}

// buildAndSendPacket sends the newest frame if one arrived since the last
// packet.
func (p *UDPPublisher) buildAndSendPacket() {
	if !p.reader.Next(&p.frame) {
		return
	}
	spectrum := p.frame.Spectrum
	if len(spectrum) > math.MaxUint16 {
		spectrum = spectrum[:math.MaxUint16]
	}
	p.packet.Seq++
	p.packet.Timestamp = time.Now().UnixNano()
	p.packet.Pitch = p.frame.Pitch
	p.packet.Confidence = p.frame.Confidence
	p.packet.Spectrum = spectrum
	p.buf = AppendPacket(p.buf[:0], &p.packet)

	if err := p.sender.Send(p.buf); err == nil {
		applog.Debugf("UDPPublisher: sent packet %d (%d bytes)", p.packet.Seq, len(p.buf))
	}
}

// Close stops the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
