package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/limits"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/metrics"
)

// pacer throttles one sender account: a fixed delay between sends
// (3600000ms / limit) plus a rolling hourly window that suspends the account
// once limit sends have happened since the window opened.
type pacer struct {
	clock Clock

	mu          sync.Mutex
	limit       int
	interval    time.Duration
	windowStart time.Time
	sent        int
	lastSend    time.Time
}

func newPacer(clock Clock, hourlyLimit int) *pacer {
	p := &pacer{clock: clock}
	p.setLimit(hourlyLimit)
	return p
}

// setLimit adjusts the effective limit; campaigns may override per account.
func (p *pacer) setLimit(hourlyLimit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hourlyLimit <= 0 {
		hourlyLimit = limits.DefaultHourly
	}
	p.limit = hourlyLimit
	p.interval = limits.Interval(hourlyLimit)
}

// wait blocks until the account may send again. The first send in a fresh
// window goes out immediately.
func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	limit := p.limit
	interval := p.interval
	windowStart := p.windowStart
	sent := p.sent
	lastSend := p.lastSend
	p.mu.Unlock()

	if sent >= limit && !windowStart.IsZero() {
		resume := windowStart.Add(time.Hour)
		if d := resume.Sub(p.clock.Now()); d > 0 {
			metrics.PacerSuspends.Inc()
			if err := p.clock.Sleep(ctx, d); err != nil {
				return err
			}
		}
		p.mu.Lock()
		p.sent = 0
		p.windowStart = time.Time{}
		lastSend = p.lastSend
		p.mu.Unlock()
	}

	if !lastSend.IsZero() {
		next := lastSend.Add(interval)
		if d := next.Sub(p.clock.Now()); d > 0 {
			if err := p.clock.Sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// record counts one successful send against the current window.
func (p *pacer) record() {
	now := p.clock.Now()
	p.mu.Lock()
	if p.windowStart.IsZero() {
		p.windowStart = now
	}
	p.sent++
	p.lastSend = now
	p.mu.Unlock()
}
