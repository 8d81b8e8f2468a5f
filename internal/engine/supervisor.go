package engine

import (
	"context"
	"time"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/metrics"
)

// schedulerLoop promotes due scheduled campaigns on a fixed tick. Promotion
// is a conditional claim in the store, so a double tick (or a second engine
// instance) cannot promote the same campaign twice.
func (e *Engine) schedulerLoop() {
	defer e.wg.Done()
	t := time.NewTicker(e.tick)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.promoteDue(e.ctx)
		}
	}
}

func (e *Engine) promoteDue(ctx context.Context) {
	ids, err := e.store.ClaimDueScheduled(ctx, e.clock.Now())
	if err != nil {
		e.logger.Error("scheduler claim failed", "error", err)
		return
	}
	for _, id := range ids {
		metrics.SchedulerPromotions.Inc()
		e.logger.Info("scheduled campaign due, promoting to sending", "campaign_id", id)
		e.Launch(id)
	}
}
