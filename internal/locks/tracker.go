// Package locks answers "which sender accounts are busy right now". The
// authoritative answer is a DB scan over campaigns in sending state; a short
// TTL cache keeps the campaign-creation read path off the table, and an
// optional Redis lease layer lets multiple engine instances agree.
package locks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/metrics"
)

const leaseKeyPrefix = "engine:lock:account:"

// Store is the scan the tracker falls back to: every account referenced by a
// sending campaign, plus every account assigned to those campaigns'
// recipients.
type Store interface {
	BusyAccountIDs(ctx context.Context) ([]string, error)
}

type Tracker struct {
	store    Store
	rdb      *redis.Client
	ttl      time.Duration
	leaseTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	cached   []string
	cachedAt time.Time
}

type Option func(*Tracker)

// WithClock overrides the cache clock, for tests.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithCacheTTL overrides the read-cache TTL.
func WithCacheTTL(d time.Duration) Option { return func(t *Tracker) { t.ttl = d } }

// WithRedis enables the shared lease layer.
func WithRedis(rdb *redis.Client) Option { return func(t *Tracker) { t.rdb = rdb } }

func New(store Store, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		ttl:      5 * time.Second,
		leaseTTL: 2 * time.Minute,
		logger:   logger,
		now:      time.Now,
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Locked returns the sorted, deduplicated set of busy account IDs. Results
// are cached for the tracker's TTL.
func (t *Tracker) Locked(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	if t.cached != nil && t.now().Sub(t.cachedAt) < t.ttl {
		out := append([]string(nil), t.cached...)
		t.mu.Unlock()
		metrics.LockCacheHits.Inc()
		return out, nil
	}
	t.mu.Unlock()

	ids, err := t.store.BusyAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("locks: scan busy accounts: %w", err)
	}
	set := map[string]struct{}{}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	if t.rdb != nil {
		leased, err := t.leasedIDs(ctx)
		if err != nil {
			// leases are an agreement layer, the DB scan still stands
			t.logger.Warn("lock lease scan failed, using db scan only", "error", err)
		}
		for _, id := range leased {
			set[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)

	t.mu.Lock()
	t.cached = out
	t.cachedAt = t.now()
	t.mu.Unlock()
	return append([]string(nil), out...), nil
}

// AnyLocked reports the first of the given accounts that is currently busy.
func (t *Tracker) AnyLocked(ctx context.Context, accountIDs []string) (string, bool, error) {
	locked, err := t.Locked(ctx)
	if err != nil {
		return "", false, err
	}
	set := make(map[string]struct{}, len(locked))
	for _, id := range locked {
		set[id] = struct{}{}
	}
	for _, id := range accountIDs {
		if _, ok := set[id]; ok {
			return id, true, nil
		}
	}
	return "", false, nil
}

// Acquire writes short-lived leases for the accounts a campaign is about to
// claim. Without Redis this is a no-op; the persisted sending status is then
// the only lock, which is the accepted single-instance behavior.
func (t *Tracker) Acquire(ctx context.Context, campaignID string, accountIDs []string) {
	if t.rdb == nil {
		return
	}
	for _, id := range accountIDs {
		if err := t.rdb.Set(ctx, leaseKeyPrefix+id, campaignID, t.leaseTTL).Err(); err != nil {
			t.logger.Warn("lock lease write failed", "account_id", id, "error", err)
		}
	}
	t.Invalidate()
}

// Refresh extends the leases while a dispatch pass is running.
func (t *Tracker) Refresh(ctx context.Context, accountIDs []string) {
	if t.rdb == nil {
		return
	}
	for _, id := range accountIDs {
		if err := t.rdb.Expire(ctx, leaseKeyPrefix+id, t.leaseTTL).Err(); err != nil {
			t.logger.Warn("lock lease refresh failed", "account_id", id, "error", err)
		}
	}
}

// Release drops the leases once a campaign reaches a terminal status.
func (t *Tracker) Release(ctx context.Context, accountIDs []string) {
	if t.rdb == nil {
		return
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = leaseKeyPrefix + id
	}
	if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
		t.logger.Warn("lock lease release failed", "error", err)
	}
	t.Invalidate()
}

// Invalidate drops the read cache so the next Locked call rescans.
func (t *Tracker) Invalidate() {
	t.mu.Lock()
	t.cached = nil
	t.mu.Unlock()
}

func (t *Tracker) leasedIDs(ctx context.Context) ([]string, error) {
	var out []string
	iter := t.rdb.Scan(ctx, 0, leaseKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(leaseKeyPrefix):])
	}
	return out, iter.Err()
}
