// Package validator orchestrates one validation round (§4.4): scraping
// candidates, probing them against every configured session through a
// dedicated browser pool, and publishing a fresh ValidProxyMap.
package validator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fetchbroker/internal/browserpool"
	"fetchbroker/internal/config"
	"fetchbroker/internal/sourcelists"
	"fetchbroker/pkg/logger"
	"fetchbroker/pkg/metrics"
)

// ValidProxyMap is the current, atomically-replaceable per-session snapshot
// of trusted proxies (§3), shared between the scheduler (writer), the
// dispatcher, and the RPC surface (both readers).
type ValidProxyMap struct {
	mu        sync.RWMutex
	bySession map[string][]string
}

// NewValidProxyMap returns an empty map, as seen by callers before the
// first validation round completes.
func NewValidProxyMap() *ValidProxyMap {
	return &ValidProxyMap{bySession: map[string][]string{}}
}

// Snapshot returns the current map. Readers never observe a partially
// written map: Replace swaps the reference under the write lock in one
// assignment (§5, §8 "atomic replacement").
func (v *ValidProxyMap) Snapshot() map[string][]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.bySession
}

// Replace atomically publishes the result of a completed validation round.
func (v *ValidProxyMap) Replace(next map[string][]string) {
	v.mu.Lock()
	v.bySession = next
	v.mu.Unlock()
}

// failedSet is one Validator's recent-failure blacklist (§3); maybeClear
// empties it once FailedSetClearInterval has passed since the last clear.
// It is not shared between Validators: the refresh scheduler builds a new
// Validator for every round, so failures are not carried from one
// scheduled round to the next.
type failedSet struct {
	mu        sync.Mutex
	set       map[string]struct{}
	clearedAt time.Time
}

func newFailedSet() *failedSet {
	return &failedSet{set: make(map[string]struct{}), clearedAt: time.Now()}
}

func (f *failedSet) maybeClear(interval time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.clearedAt) > interval {
		f.set = make(map[string]struct{})
		f.clearedAt = time.Now()
	}
}

func (f *failedSet) has(endpoint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.set[endpoint]
	return ok
}

func (f *failedSet) add(endpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[endpoint] = struct{}{}
}

// Validator runs validation rounds against a dedicated browser pool,
// separate from the serving pool (§4.4).
type Validator struct {
	tunables config.Tunables
	pool     *browserpool.Pool
	failed   *failedSet
	log      *logger.Logger
	hooks    *metrics.ProxyHooks
}

// New creates a Validator with its own browser pool sized to poolSize
// (idle timeout 60s by default). Callers pass tunables.MaxValidationInstances
// (25) for the one-time startup warmup and tunables.ScheduledValidationInstances
// (5) for every recurring background round, per §4.5: a scheduled refresh
// gets a smaller, distinct validator pool than the initial warmup. hooks
// may be nil, in which case per-proxy probe outcomes simply aren't reported.
func New(tunables config.Tunables, poolSize int, hooks *metrics.ProxyHooks) *Validator {
	return &Validator{
		tunables: tunables,
		pool: browserpool.New(browserpool.Config{
			MaxSize:     poolSize,
			IdleTimeout: tunables.ValidatorPoolIdleTimeout,
			Headless:    true,
			NavTimeout:  tunables.ValidationTimeout,
		}),
		failed: newFailedSet(),
		log:    logger.Default().With(zap.String("component", "validator")),
		hooks:  hooks,
	}
}

// Close shuts down the validator's own browser pool. The refresh scheduler
// calls this at the end of every iteration to release memory (§4.5).
func (v *Validator) Close() {
	v.pool.Shutdown()
}

// Run executes one validation round (§4.4) and returns the new
// ValidProxyMap contents, one ordered endpoint slice per session name.
func (v *Validator) Run(ctx context.Context) map[string][]string {
	candidates := sourcelists.ScrapeProxies(sourcelists.ProxyListURLs)
	if len(candidates) == 0 {
		v.log.Warn("no proxy candidates scraped this round")
		return map[string][]string{}
	}

	v.failed.maybeClear(v.tunables.FailedSetClearInterval)

	sessionNames := config.Names()
	results := make(map[string][]string, len(sessionNames))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range sessionNames {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sess, ok := config.Lookup(name)
			if !ok {
				return
			}
			accum := v.validateSession(ctx, sess, candidates)
			mu.Lock()
			results[name] = accum
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// validateSession implements §4.4 step 4: batch the candidates, probe each
// batch with bounded parallelism, stop once the quota is reached.
func (v *Validator) validateSession(parent context.Context, sess config.Session, candidates []string) []string {
	ctx, cancel := context.WithTimeout(parent, v.tunables.PerSessionValidateTimeout)
	defer cancel()

	quota := v.tunables.SessionValidQuota
	batchSize := v.tunables.ValidationBatchSize
	accum := make([]string, 0, quota+batchSize)

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		var live []string
		var liveMu sync.Mutex
		var wg sync.WaitGroup
		sem := make(chan struct{}, v.tunables.MaxConcurrentProbes)
		for _, ep := range batch {
			if v.failed.has(ep) {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(ep string) {
				defer wg.Done()
				defer func() { <-sem }()
				if v.probe(ctx, sess, ep) {
					liveMu.Lock()
					live = append(live, ep)
					liveMu.Unlock()
				} else {
					v.failed.add(ep)
				}
			}(ep)
		}
		wg.Wait()

		accum = append(accum, live...)
		if len(accum) >= quota {
			return accum[:quota]
		}

		select {
		case <-ctx.Done():
			return accum
		default:
		}
	}
	return accum
}

// probe tests one endpoint against one session, per §4.4 step b.
// Success requires page_source length > 50 bytes within the 5s wall-clock
// budget; browser error, timeout, or quota exhaustion all count as failure.
func (v *Validator) probe(parent context.Context, sess config.Session, endpoint string) bool {
	start := time.Now()
	ok := v.doProbe(parent, sess, endpoint, start)
	if v.hooks != nil {
		elapsed := time.Since(start)
		if ok {
			v.hooks.OnProxySuccess(endpoint, elapsed)
		} else {
			v.hooks.OnProxyFailure(endpoint, elapsed)
		}
	}
	return ok
}

func (v *Validator) doProbe(parent context.Context, sess config.Session, endpoint string, start time.Time) bool {
	acquireCtx, cancel := context.WithTimeout(parent, v.tunables.AcquireTimeout)
	inst, err := v.pool.Acquire(acquireCtx, browserpool.Endpoint(endpoint))
	cancel()
	if err != nil || inst == nil {
		return false
	}
	defer func() {
		v.pool.Release(inst, err != nil)
	}()

	target := sess.URL
	if strings.HasPrefix(target, "https://") {
		target = "http://httpbin.org/ip"
	}

	// NavigateContext roots the call in inst's own chromedp.NewContext and
	// bounds it by the pool's NavTimeout (ValidationTimeout here) — without
	// it a hanging proxy blocks the probe indefinitely.
	navCtx, navCancel := v.pool.NavigateContext(inst)
	defer navCancel()

	pageSource, navErr := navigateAndRead(navCtx, inst, target)
	err = navErr
	if navErr != nil {
		return false
	}

	if time.Since(start) >= v.tunables.FastProxyThreshold {
		return false
	}
	return len(pageSource) > 50
}

// navigateAndRead is a small seam kept separate from probe so tests can
// substitute a fake without driving a real browser; the real
// implementation lives in browser.go.
var navigateAndRead = defaultNavigateAndRead

// navigateAndReadFunc documents the seam's shape for test doubles.
type navigateAndReadFunc func(ctx context.Context, inst *browserpool.Instance, target string) (string, error)
