// Package metrics provides Prometheus-compatible metrics collection for the
// fetch broker: fallback-step outcomes, proxy validation results, and pool
// occupancy.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every application metric, Prometheus-backed.
type Collector struct {
	FetchCounter prometheus.Counter
	FetchRate    prometheus.Gauge
	fetchesPerMin *RateCalculator

	FetchLatency prometheus.Histogram
	ProxyLatency *prometheus.HistogramVec

	ActiveSessions prometheus.Gauge
	ActiveProxies  prometheus.Gauge
	PoolInUse      prometheus.Gauge
	PoolAvailable  prometheus.Gauge

	SuccessRate prometheus.Gauge
	ErrorRate   prometheus.Gauge

	FallbackStep *prometheus.CounterVec // labeled step=A|B|C|D, outcome=success|failure
	ProxySuccess *prometheus.CounterVec
	ProxyFailure *prometheus.CounterVec

	mu           sync.RWMutex
	startTime    time.Time
	sessionCount int64
	proxyCount   int64
	successCount int64
	errorCount   int64
	totalFetches int64
}

// RateCalculator calculates a sliding-window rate (events per minute).
type RateCalculator struct {
	mu      sync.Mutex
	hits    []time.Time
	window  time.Duration
	current float64
	stopCh  chan struct{}
}

// NewRateCalculator creates a RateCalculator over the given window.
func NewRateCalculator(window time.Duration) *RateCalculator {
	rc := &RateCalculator{
		hits:   make([]time.Time, 0, 1000),
		window: window,
		stopCh: make(chan struct{}),
	}
	go rc.cleanupLoop()
	return rc
}

// Record records one event now.
func (rc *RateCalculator) Record() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.hits = append(rc.hits, time.Now())
}

// GetRate returns the current events-per-minute rate.
func (rc *RateCalculator) GetRate() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cleanup(time.Now())
	return float64(len(rc.hits)) * (60.0 / rc.window.Seconds())
}

func (rc *RateCalculator) cleanup(now time.Time) {
	cutoff := now.Add(-rc.window)
	idx := len(rc.hits)
	for i, t := range rc.hits {
		if t.After(cutoff) {
			idx = i
			break
		}
	}
	rc.hits = rc.hits[idx:]
}

func (rc *RateCalculator) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.mu.Lock()
			rc.cleanup(time.Now())
			rc.current = float64(len(rc.hits)) * (60.0 / rc.window.Seconds())
			rc.mu.Unlock()
		case <-rc.stopCh:
			return
		}
	}
}

// Stop stops the rate calculator's background loop.
func (rc *RateCalculator) Stop() {
	close(rc.stopCh)
}

const namespace = "fetchbroker"

// NewCollector creates and registers a Collector.
func NewCollector() *Collector {
	mc := &Collector{
		startTime:     time.Now(),
		fetchesPerMin: NewRateCalculator(time.Minute),
	}

	mc.FetchCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Total number of FetchContent calls served",
	})
	mc.FetchRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fetch_rate_per_minute",
		Help:      "Current fetch rate per minute",
	})
	mc.FetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_latency_seconds",
		Help:      "Per-step FetchContent fallback latency distribution",
		Buckets:   prometheus.DefBuckets,
	})
	mc.ProxyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "proxy_latency_seconds",
		Help:      "Per-proxy latency distribution",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"proxy"})

	mc.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of sessions in the registry",
	})
	mc.ActiveProxies = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_proxies",
		Help:      "Total proxies currently trusted across all sessions",
	})
	mc.PoolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_instances_in_use",
		Help:      "Browser instances currently checked out of the serving pool",
	})
	mc.PoolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_instances_available",
		Help:      "Browser instances currently idle in the serving pool",
	})

	mc.SuccessRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "success_rate",
		Help:      "Fraction of FetchContent calls that succeeded (0-1)",
	})
	mc.ErrorRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "error_rate",
		Help:      "Fraction of FetchContent calls that failed (0-1)",
	})

	mc.FallbackStep = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_step_total",
		Help:      "Fallback ladder step attempts by step and outcome",
	}, []string{"step", "outcome"})
	mc.ProxySuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_success_total",
		Help:      "Total successful fetches per proxy",
	}, []string{"proxy"})
	mc.ProxyFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_failure_total",
		Help:      "Total failed fetches per proxy",
	}, []string{"proxy"})

	mc.register()
	go mc.updateLoop()
	return mc
}

func (mc *Collector) register() {
	prometheus.MustRegister(
		mc.FetchCounter,
		mc.FetchRate,
		mc.FetchLatency,
		mc.ProxyLatency,
		mc.ActiveSessions,
		mc.ActiveProxies,
		mc.PoolInUse,
		mc.PoolAvailable,
		mc.SuccessRate,
		mc.ErrorRate,
		mc.FallbackStep,
		mc.ProxySuccess,
		mc.ProxyFailure,
	)
}

func (mc *Collector) updateLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		mc.updateCalculatedMetrics()
	}
}

func (mc *Collector) updateCalculatedMetrics() {
	mc.mu.RLock()
	total := mc.totalFetches
	success := mc.successCount
	errors := mc.errorCount
	mc.mu.RUnlock()

	if total > 0 {
		mc.SuccessRate.Set(float64(success) / float64(total))
		mc.ErrorRate.Set(float64(errors) / float64(total))
	}
	mc.FetchRate.Set(mc.fetchesPerMin.GetRate())
}

// RecordFetchStep records the outcome of one fallback-ladder step (A-D)
// and observes that step's duration in FetchLatency. The overall fetch
// counters are updated separately, once per call, by RecordFetch.
func (mc *Collector) RecordFetchStep(step string, success bool, dur time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	mc.FallbackStep.WithLabelValues(step, outcome).Inc()
	mc.FetchLatency.Observe(dur.Seconds())
}

// RecordFetch records one completed FetchContent call (after the whole
// ladder has run).
func (mc *Collector) RecordFetch(success bool, proxy string) {
	mc.FetchCounter.Inc()
	mc.fetchesPerMin.Record()
	mc.mu.Lock()
	mc.totalFetches++
	if success {
		mc.successCount++
	} else {
		mc.errorCount++
	}
	mc.mu.Unlock()

	if proxy == "" {
		return
	}
	if success {
		mc.ProxySuccess.WithLabelValues(proxy).Inc()
	} else {
		mc.ProxyFailure.WithLabelValues(proxy).Inc()
	}
}

// RecordProxyLatency records proxy-specific latency.
func (mc *Collector) RecordProxyLatency(proxy string, duration time.Duration) {
	mc.ProxyLatency.WithLabelValues(proxy).Observe(duration.Seconds())
}

// SetActiveSessions sets the session-registry size gauge.
func (mc *Collector) SetActiveSessions(count int64) {
	mc.ActiveSessions.Set(float64(count))
	mc.mu.Lock()
	mc.sessionCount = count
	mc.mu.Unlock()
}

// SetActiveProxies sets the total-trusted-proxies gauge.
func (mc *Collector) SetActiveProxies(count int64) {
	mc.ActiveProxies.Set(float64(count))
	mc.mu.Lock()
	mc.proxyCount = count
	mc.mu.Unlock()
}

// SetPoolOccupancy sets the serving pool's in-use/available gauges.
func (mc *Collector) SetPoolOccupancy(inUse, available int) {
	mc.PoolInUse.Set(float64(inUse))
	mc.PoolAvailable.Set(float64(available))
}

// Snapshot represents a point-in-time metrics snapshot, as served by
// JSONHandler.
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalFetches   int64     `json:"total_fetches"`
	SuccessCount   int64     `json:"success_count"`
	ErrorCount     int64     `json:"error_count"`
	ActiveSessions int64     `json:"active_sessions"`
	ActiveProxies  int64     `json:"active_proxies"`
	FetchRatePerMin float64  `json:"fetch_rate_per_min"`
	SuccessRate    float64   `json:"success_rate"`
	ErrorRate      float64   `json:"error_rate"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
}

// GetSnapshot returns the current metrics snapshot.
func (mc *Collector) GetSnapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return Snapshot{
		Timestamp:       time.Now(),
		TotalFetches:    mc.totalFetches,
		SuccessCount:    mc.successCount,
		ErrorCount:      mc.errorCount,
		ActiveSessions:  mc.sessionCount,
		ActiveProxies:   mc.proxyCount,
		FetchRatePerMin: mc.fetchesPerMin.GetRate(),
		SuccessRate:     calculateRate(mc.successCount, mc.totalFetches),
		ErrorRate:       calculateRate(mc.errorCount, mc.totalFetches),
		UptimeSeconds:   time.Since(mc.startTime).Seconds(),
	}
}

func calculateRate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// MetricsHandler returns the Prometheus scrape handler.
func (mc *Collector) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// JSONHandler returns the metrics snapshot as JSON.
func (mc *Collector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mc.GetSnapshot())
	}
}

// Close releases the collector's background rate calculator.
func (mc *Collector) Close() {
	if mc.fetchesPerMin != nil {
		mc.fetchesPerMin.Stop()
	}
}
