// Package metrics provides integration utilities for connecting
// the metrics system with other components.
package metrics

import (
	"context"
	"time"
)

// DispatcherHooks lets the dispatcher report fallback-ladder outcomes
// without importing the collector's internals directly.
type DispatcherHooks struct {
	collector *Collector
}

// NewDispatcherHooks creates new dispatcher hooks.
func NewDispatcherHooks(collector *Collector) *DispatcherHooks {
	return &DispatcherHooks{collector: collector}
}

// OnStep records the outcome of one fallback-ladder step.
func (h *DispatcherHooks) OnStep(step string, success bool, duration time.Duration) {
	h.collector.RecordFetchStep(step, success, duration)
}

// OnFetchComplete records the outcome of a whole FetchContent call.
func (h *DispatcherHooks) OnFetchComplete(proxy string, success bool) {
	h.collector.RecordFetch(success, proxy)
}

// StartTimer starts a new timer bound to an optional proxy label.
func (h *DispatcherHooks) StartTimer(proxy string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: h.collector,
		proxy:     proxy,
	}
}

// ProxyHooks provides hooks for proxy/validator integration.
type ProxyHooks struct {
	collector *Collector
}

// NewProxyHooks creates new proxy hooks.
func NewProxyHooks(collector *Collector) *ProxyHooks {
	return &ProxyHooks{collector: collector}
}

// OnProxyCountChange records the total number of currently trusted proxies.
func (h *ProxyHooks) OnProxyCountChange(count int) {
	h.collector.SetActiveProxies(int64(count))
}

// OnProxySuccess records a successful validation probe through a proxy in
// the per-proxy counters; it does not count as a FetchContent call.
func (h *ProxyHooks) OnProxySuccess(proxy string, duration time.Duration) {
	h.collector.ProxySuccess.WithLabelValues(proxy).Inc()
	h.collector.RecordProxyLatency(proxy, duration)
}

// OnProxyFailure records a failed validation probe through a proxy in the
// per-proxy counters; it does not count as a FetchContent call.
func (h *ProxyHooks) OnProxyFailure(proxy string, duration time.Duration) {
	h.collector.ProxyFailure.WithLabelValues(proxy).Inc()
	h.collector.RecordProxyLatency(proxy, duration)
}

// PoolHooks provides hooks for browser pool occupancy integration.
type PoolHooks struct {
	collector *Collector
}

// NewPoolHooks creates new pool hooks.
func NewPoolHooks(collector *Collector) *PoolHooks {
	return &PoolHooks{collector: collector}
}

// OnOccupancyChange records the serving pool's current occupancy.
func (h *PoolHooks) OnOccupancyChange(inUse, available int) {
	h.collector.SetPoolOccupancy(inUse, available)
}

// ctxKey namespaces context values stored by this package.
type ctxKey string

const metricsKey ctxKey = "metrics"

// WithContext adds a metrics collector to context.
func WithContext(ctx context.Context, collector *Collector) context.Context {
	return context.WithValue(ctx, metricsKey, collector)
}

// FromContext extracts the metrics collector from context, if any.
func FromContext(ctx context.Context) *Collector {
	if v := ctx.Value(metricsKey); v != nil {
		if mc, ok := v.(*Collector); ok {
			return mc
		}
	}
	return nil
}

// Timer helps measure operation durations for one fetch step.
type Timer struct {
	start     time.Time
	collector *Collector
	proxy     string
}

// Stop stops the timer and records the duration against the proxy, if any.
func (t *Timer) Stop(success bool) time.Duration {
	duration := time.Since(t.start)
	if t.proxy != "" {
		t.collector.RecordProxyLatency(t.proxy, duration)
	}
	return duration
}
