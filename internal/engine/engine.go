// Package engine owns campaign dispatch: the rate-limited per-account send
// loops, the scheduler that promotes due campaigns, and the resume path that
// re-attaches to campaigns interrupted by a restart.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type Options struct {
	TickInterval time.Duration // scheduler cadence
	Dispatcher   DispatcherOptions
}

// Engine supervises dispatch tasks: one task per campaign, single-flight per
// campaign ID, all joined on shutdown.
type Engine struct {
	store  Store
	disp   *Dispatcher
	logger *slog.Logger
	clock  Clock
	tick   time.Duration

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(store Store, disp *Dispatcher, logger *slog.Logger, opt Options) *Engine {
	if opt.TickInterval <= 0 {
		opt.TickInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		disp:    disp,
		logger:  logger,
		clock:   disp.clock,
		tick:    opt.TickInterval,
		running: make(map[string]struct{}),
	}
}

// Start resumes interrupted campaigns and begins the scheduler loop. It
// returns once the resume scan has been kicked off; dispatch itself runs in
// supervised background tasks.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	ids, err := e.store.SendingCampaignIDs(e.ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.logger.Info("resuming interrupted campaign", "campaign_id", id)
		e.Launch(id)
	}

	e.wg.Add(1)
	go e.schedulerLoop()
	return nil
}

// Launch starts a dispatch task for the campaign unless one is already
// running. Reports whether a task was started.
func (e *Engine) Launch(campaignID string) bool {
	e.mu.Lock()
	if _, busy := e.running[campaignID]; busy {
		e.mu.Unlock()
		return false
	}
	e.running[campaignID] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.running, campaignID)
			e.mu.Unlock()
		}()
		if err := e.disp.Run(e.ctx, campaignID); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("dispatch task failed", "campaign_id", campaignID, "error", err)
		}
	}()
	return true
}

// Stop cancels all tasks and waits for them to drain, up to the context's
// deadline.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
