package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)
	CampaignCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_campaign_created_total", Help: "Campaign creation results."},
		[]string{"result"}, // ok | invalid | conflict | error
	)

	// Engine
	SendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_send_total", Help: "Per-recipient send outcomes."},
		[]string{"outcome"}, // sent | failed
	)
	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_send_duration_seconds",
			Help:    "Transport send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
	DispatchInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "engine_dispatch_inflight", Help: "Campaign passes currently running in this process."},
	)
	PacerSuspends = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_pacer_suspends_total", Help: "Times an account hit its hourly limit and was suspended."},
	)
	SchedulerPromotions = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_scheduler_promotions_total", Help: "Scheduled campaigns promoted to sending."},
	)
	LockCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "locks_cache_hits_total", Help: "Busy-account reads served from the TTL cache."},
	)
)

var registerOnce sync.Once

// Register default + our collectors. Safe to call from every router build.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			HTTPRequests, HTTPDuration, CampaignCreated,
			SendTotal, SendDuration, DispatchInflight,
			PacerSuspends, SchedulerPromotions, LockCacheHits,
		)
	})
}

// Export a tiny pgxpool stats exporter
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns          prometheus.Gauge
	idle           prometheus.Gauge
	acquireCount   prometheus.Counter
	acquireLatency prometheus.Counter
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquires_total", Help: "Total pool acquires.",
		}),
		acquireLatency: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquire_seconds_total", Help: "Sum of acquire latencies.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireLatency)

	return m
}

func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	for {
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Add(float64(s.AcquireCount()))
			m.acquireLatency.Add(s.AcquireDuration().Seconds())
		}
	}
}
