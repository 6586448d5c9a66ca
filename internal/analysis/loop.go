// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"runtime"
	"time"

	"vocalscope/internal/log"
)

// run is the analysis goroutine. It owns p until it returns.
func (o *Orchestrator) run(ctx context.Context, p *pipeline, done chan<- struct{}) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log.Debugf("Analysis: worker started")
	defer log.Debugf("Analysis: worker stopped")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	sleep := func(d time.Duration) bool {
		timer.Reset(d)
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}

	for ctx.Err() == nil {
		o.iterations.Add(1)

		if o.resetReq.CompareAndSwap(true, false) {
			o.performReset(p)
		}

		caps := o.Capabilities()
		if caps == 0 {
			if !sleep(idleSleep) {
				return
			}
			continue
		}

		if v := o.live.Version(); v != p.applied {
			cr, err := p.configure(o.live.Snapshot(), v, false)
			o.noteConfigure(cr, err)
		}

		o.stepping.Store(true)
		res := p.step(caps)
		o.stepping.Store(false)
		switch res {
		case stepWrote:
			o.framesWritten.Add(1)
		case stepDropped:
			o.drops.Add(1)
			o.discontinuities.Add(1)
			if o.dropLog.Allow() {
				log.Warnf("Analysis: capture ring overflowed, %d samples lost so far", p.dropped)
			}
		case stepStarved:
			o.starvations.Add(1)
			if !sleep(starvedSleep) {
				return
			}
		}
	}
}
