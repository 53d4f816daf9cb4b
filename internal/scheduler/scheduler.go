// Package scheduler implements the Refresh Scheduler (§4.5): on a fixed
// interval it runs a full validation round and atomically publishes the
// result to the shared ValidProxyMap.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fetchbroker/internal/config"
	"fetchbroker/internal/validator"
	"fetchbroker/pkg/logger"
	"fetchbroker/pkg/metrics"
)

// Scheduler owns the recurring validation loop.
type Scheduler struct {
	tunables  config.Tunables
	proxies   *validator.ValidProxyMap
	collector *metrics.Collector
	log       *logger.Logger
}

// New creates a Scheduler publishing into the given shared map.
func New(tunables config.Tunables, proxies *validator.ValidProxyMap, collector *metrics.Collector) *Scheduler {
	return &Scheduler{
		tunables:  tunables,
		proxies:   proxies,
		collector: collector,
		log:       logger.Default().With(zap.String("component", "scheduler")),
	}
}

// Run blocks, running one validation round every UpdateInterval (the first
// one UpdateInterval after Run starts), until ctx is cancelled. Each
// round's errors are logged, never fatal: a bad round simply leaves the
// previous map in place.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tunables.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRound(ctx)
		}
	}
}

func (s *Scheduler) runRound(ctx context.Context) {
	start := time.Now()
	var hooks *metrics.ProxyHooks
	if s.collector != nil {
		hooks = metrics.NewProxyHooks(s.collector)
	}
	v := validator.New(s.tunables, s.tunables.ScheduledValidationInstances, hooks)
	defer v.Close()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("validation round panicked", zap.Any("panic", r))
		}
	}()

	result := v.Run(ctx)
	if len(result) == 0 {
		s.log.Warn("validation round produced no results, keeping the previous proxy map")
		return
	}
	s.proxies.Replace(result)

	total := totalProxies(result)
	if s.collector != nil {
		s.collector.SetActiveProxies(int64(total))
	}
	s.log.Info("validation round complete",
		zap.Int("sessions", len(result)),
		zap.Int("total_trusted_proxies", total),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// totalProxies sums the per-session proxy counts of one validation round's
// result, for metrics reporting and logging.
func totalProxies(result map[string][]string) int {
	total := 0
	for _, list := range result {
		total += len(list)
	}
	return total
}
