package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacerSpacesSendsByInterval(t *testing.T) {
	clock := newFakeClock()
	p := newPacer(clock, 50) // 72s between sends
	ctx := context.Background()

	require.NoError(t, p.wait(ctx))
	p.record()
	require.NoError(t, p.wait(ctx))
	p.record()
	require.NoError(t, p.wait(ctx))
	p.record()

	require.Equal(t, []time.Duration{72 * time.Second, 72 * time.Second}, clock.sleeps())
}

func TestPacerSuspendsAtHourlyLimit(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	p := newPacer(clock, 2) // interval 30m, window holds 2 sends
	ctx := context.Background()

	require.NoError(t, p.wait(ctx))
	p.record() // t0
	require.NoError(t, p.wait(ctx))
	p.record() // t0+30m

	// limit reached: third wait must push past the full hour from window start
	require.NoError(t, p.wait(ctx))
	require.True(t, clock.Now().Sub(start) >= time.Hour,
		"third send slot opened %s after window start", clock.Now().Sub(start))
	p.record()

	// never more than 2 sends inside the first hour
	require.GreaterOrEqual(t, clock.Now().Sub(start), time.Hour)
}

func TestPacerWindowResetsAfterSuspend(t *testing.T) {
	clock := newFakeClock()
	p := newPacer(clock, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, p.wait(ctx))
		p.record()
	}
	require.NoError(t, p.wait(ctx))
	p.record()

	p.mu.Lock()
	sent := p.sent
	p.mu.Unlock()
	require.Equal(t, 1, sent, "counter restarts in the new window")
}

func TestPacerHonorsContext(t *testing.T) {
	clock := newFakeClock()
	p := newPacer(clock, 2)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.wait(ctx))
	p.record()
	cancel()
	require.ErrorIs(t, p.wait(ctx), context.Canceled)
}
