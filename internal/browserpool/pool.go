// Package browserpool manages a bounded set of headless-browser instances,
// each permanently bound to the proxy endpoint (or "direct") it was created
// with. Checkout is by desired proxy, not first-available, since a request
// that needs a specific proxy cannot be served by an instance bound to a
// different one.
package browserpool

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"

	"go.uber.org/zap"

	"fetchbroker/pkg/logger"
)

// Direct is the sentinel Endpoint meaning "no proxy".
const Direct Endpoint = "direct"

// Endpoint identifies an HTTP proxy as host:port, or Direct for none.
type Endpoint string

// errorThreshold is the number of errored releases after which an instance
// is destroyed rather than recycled (§4.3 step release.2).
const errorThreshold = 3

// Instance is a headless browser process bound to one proxy for its entire
// lifetime. To retarget, destroy and recreate.
type Instance struct {
	id          string
	proxy       Endpoint
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	createdAt  time.Time
	lastUsedAt time.Time
	errorCount int32
	inUse      int32
}

// ID returns the instance's unique identifier.
func (i *Instance) ID() string { return i.id }

// Proxy returns the endpoint this instance is permanently bound to.
func (i *Instance) Proxy() Endpoint { return i.proxy }

// Context returns the chromedp tab context for running actions.
func (i *Instance) Context() context.Context { return i.tabCtx }

// Pool is a bounded pool of browser Instances. A process keeps one serving
// pool for its lifetime; every Validator owns a separate pool of its own
// (see §4.3/§4.4).
type Pool struct {
	mu          sync.Mutex
	available   []*Instance
	inUse       map[string]*Instance
	maxSize     int
	idleTimeout time.Duration
	headless    bool

	navTimeout time.Duration

	reaperStop chan struct{}
	reaperDone chan struct{}

	log *logger.Logger

	counter uint64
}

// Config configures a Pool.
type Config struct {
	MaxSize     int
	IdleTimeout time.Duration
	Headless    bool
	// NavTimeout bounds page.Navigate calls issued through this pool.
	NavTimeout time.Duration
}

// New creates a Pool and starts its idle reaper goroutine.
func New(cfg Config) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 10 * time.Second
	}
	p := &Pool{
		inUse:       make(map[string]*Instance),
		maxSize:     cfg.MaxSize,
		idleTimeout: cfg.IdleTimeout,
		headless:    cfg.Headless,
		navTimeout:  cfg.NavTimeout,
		reaperStop:  make(chan struct{}),
		reaperDone:  make(chan struct{}),
		log:         logger.Default().With(zap.String("component", "browserpool")),
	}
	go p.reapLoop()
	return p
}

// Acquire implements §4.3's acquire contract: prefer a healthy idle instance
// already bound to proxy, else evict-oldest-idle-and-create at capacity,
// else create-if-room, else nil.
func (p *Pool) Acquire(ctx context.Context, proxy Endpoint) (*Instance, error) {
	p.mu.Lock()

	for idx, inst := range p.available {
		if inst.proxy != proxy || atomic.LoadInt32(&inst.errorCount) >= errorThreshold {
			continue
		}
		if !p.healthCheck(ctx, inst) {
			p.available = removeAt(p.available, idx)
			p.mu.Unlock()
			p.destroy(inst)
			return p.Acquire(ctx, proxy)
		}
		p.available = removeAt(p.available, idx)
		p.checkOut(inst)
		p.mu.Unlock()
		return inst, nil
	}

	total := len(p.available) + len(p.inUse)
	if total >= p.maxSize {
		if len(p.available) == 0 {
			p.mu.Unlock()
			return nil, nil
		}
		oldest, oldestIdx := p.oldestAvailableLocked()
		p.available = removeAt(p.available, oldestIdx)
		p.mu.Unlock()
		p.destroy(oldest)

		inst, err := p.create(proxy)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.checkOut(inst)
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()

	inst, err := p.create(proxy)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.checkOut(inst)
	p.mu.Unlock()
	return inst, nil
}

// Release implements §4.3's release contract.
func (p *Pool) Release(inst *Instance, hadError bool) {
	if inst == nil {
		return
	}
	p.mu.Lock()
	delete(p.inUse, inst.id)
	p.mu.Unlock()
	atomic.StoreInt32(&inst.inUse, 0)

	if hadError {
		atomic.AddInt32(&inst.errorCount, 1)
	}
	if atomic.LoadInt32(&inst.errorCount) >= errorThreshold {
		p.destroy(inst)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	healthy := p.healthCheck(ctx, inst)
	cancel()
	if !healthy {
		p.destroy(inst)
		return
	}

	inst.lastUsedAt = time.Now()
	p.mu.Lock()
	p.available = append(p.available, inst)
	p.mu.Unlock()
}

// Shutdown destroys every instance in both sets and stops the reaper.
// Idempotent.
func (p *Pool) Shutdown() {
	select {
	case <-p.reaperStop:
		// already closed
	default:
		close(p.reaperStop)
		<-p.reaperDone
	}

	p.mu.Lock()
	toDestroy := append([]*Instance{}, p.available...)
	for _, inst := range p.inUse {
		toDestroy = append(toDestroy, inst)
	}
	p.available = nil
	p.inUse = make(map[string]*Instance)
	p.mu.Unlock()

	for _, inst := range toDestroy {
		p.destroy(inst)
	}
}

// NavigateContext derives a context for one Navigate call issued through
// inst, bounded by the pool's own NavTimeout (§4.3) and rooted in the
// instance's chromedp context so chromedp.Run can find its target.
func (p *Pool) NavigateContext(inst *Instance) (context.Context, context.CancelFunc) {
	return context.WithTimeout(inst.Context(), p.navTimeout)
}

// Occupancy returns the number of instances currently checked out and
// currently idle, for metrics reporting.
func (p *Pool) Occupancy() (inUse, available int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse), len(p.available)
}

func (p *Pool) checkOut(inst *Instance) {
	atomic.StoreInt32(&inst.inUse, 1)
	inst.lastUsedAt = time.Now()
	p.inUse[inst.id] = inst
}

func (p *Pool) oldestAvailableLocked() (*Instance, int) {
	oldestIdx := 0
	for i, inst := range p.available {
		if inst.lastUsedAt.Before(p.available[oldestIdx].lastUsedAt) {
			oldestIdx = i
		}
	}
	return p.available[oldestIdx], oldestIdx
}

// healthCheck reads the instance's current URL, the "always-available
// property" the spec calls for; any error means the instance is dead.
func (p *Pool) healthCheck(ctx context.Context, inst *Instance) bool {
	if inst.tabCtx == nil {
		return false
	}
	checkCtx, cancel := context.WithTimeout(inst.tabCtx, 3*time.Second)
	defer cancel()
	var url string
	err := chromedp.Run(checkCtx, chromedp.Location(&url))
	return err == nil
}

func (p *Pool) create(proxy Endpoint) (*Instance, error) {
	execPath, err := resolveBrowserBinary()
	if err != nil {
		return nil, fmt.Errorf("resolve browser binary: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", p.headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(1920, 1080),
	)
	if proxy != Direct && proxy != "" {
		opts = append(opts,
			chromedp.ProxyServer(fmt.Sprintf("http://%s", proxy)),
			chromedp.Flag("proxy-bypass-list", "<-loopback>"),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	id := fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), atomic.AddUint64(&p.counter, 1))
	return &Instance{
		id:          id,
		proxy:       proxy,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		createdAt:   time.Now(),
		lastUsedAt:  time.Now(),
	}, nil
}

func (p *Pool) destroy(inst *Instance) {
	if inst == nil {
		return
	}
	if inst.tabCancel != nil {
		inst.tabCancel()
	}
	if inst.allocCancel != nil {
		inst.allocCancel()
	}
}

// reapLoop destroys instances idle past idleTimeout every 60s, per §4.3.
// Destroys happen outside the pool lock so acquires are never blocked by
// a slow process teardown.
func (p *Pool) reapLoop() {
	defer close(p.reaperDone)
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *Pool) reapOnce() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("idle reaper panicked", zap.Any("panic", r))
		}
	}()
	now := time.Now()
	p.mu.Lock()
	var keep []*Instance
	var expired []*Instance
	for _, inst := range p.available {
		if now.Sub(inst.lastUsedAt) > p.idleTimeout {
			expired = append(expired, inst)
		} else {
			keep = append(keep, inst)
		}
	}
	p.available = keep
	p.mu.Unlock()

	for _, inst := range expired {
		p.log.Debug("reaping idle browser instance", zap.String("instance_id", inst.id))
		p.destroy(inst)
	}
}

func removeAt(s []*Instance, idx int) []*Instance {
	s[idx] = s[len(s)-1]
	return s[:len(s)-1]
}

var (
	browserPathOnce sync.Once
	browserPath     string
	browserPathErr  error
)

// candidateBrowserNames are executable names tried, in order, to find a
// Chrome/Chromium binary on the host. Resolution happens at most once per
// process (§4.3 "browser-driver binary caching"), guarded by sync.Once,
// mirroring the reference implementation's lock-around-singleton pattern.
var candidateBrowserNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
}

func resolveBrowserBinary() (string, error) {
	browserPathOnce.Do(func() {
		for _, name := range candidateBrowserNames {
			if p, err := exec.LookPath(name); err == nil {
				browserPath = p
				return
			}
		}
		browserPathErr = fmt.Errorf("no chrome/chromium binary found in PATH")
	})
	return browserPath, browserPathErr
}
