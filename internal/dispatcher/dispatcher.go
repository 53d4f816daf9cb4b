// Package dispatcher implements the Fetch Dispatcher (§4.6): for one
// FetchContent call, it picks a proxy and user agent and walks the
// fallback ladder A (proxy+browser) → B (proxy+HTTP) → C (direct+browser)
// → D (direct+HTTP), stopping at the first success.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"fetchbroker/internal/browserpool"
	"fetchbroker/internal/config"
	"fetchbroker/internal/validator"
	"fetchbroker/pkg/logger"
	"fetchbroker/pkg/metrics"
	"fetchbroker/pkg/useragent"
)

// ErrUnknownSession is returned when the named session is not registered.
var ErrUnknownSession = errors.New("session not found")

// ErrEmptySession is returned when session name is empty.
var ErrEmptySession = errors.New("session name is empty")

// Dispatcher wires together the pieces a fallback ladder needs: the
// serving browser pool, the live proxy map, and the user agent set.
type Dispatcher struct {
	pool      *browserpool.Pool
	proxies   *validator.ValidProxyMap
	agents    *useragent.Store
	tunables  config.Tunables
	collector *metrics.Collector
	log       *logger.Logger
	rng       *rand.Rand
}

// New builds a Dispatcher over an already-running serving pool.
func New(pool *browserpool.Pool, proxies *validator.ValidProxyMap, agents *useragent.Store, tunables config.Tunables, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		proxies:   proxies,
		agents:    agents,
		tunables:  tunables,
		collector: collector,
		log:       logger.Default().With(zap.String("component", "dispatcher")),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fetch implements §4.6: validate the session, then walk the fallback
// ladder, returning the first successful body.
func (d *Dispatcher) Fetch(ctx context.Context, url, sessionName string, wantProxy bool) ([]byte, error) {
	if sessionName == "" {
		return nil, ErrEmptySession
	}
	sess, ok := config.Lookup(sessionName)
	if !ok {
		return nil, ErrUnknownSession
	}

	ua := d.agents.Random()

	var proxy string
	haveProxy := false
	if wantProxy {
		if list := d.proxies.Snapshot()[sessionName]; len(list) > 0 {
			proxy = list[d.rng.Intn(len(list))]
			haveProxy = true
		}
	}

	var lastErr error

	if haveProxy {
		start := time.Now()
		body, err := d.fetchBrowser(ctx, url, sess, browserpool.Endpoint(proxy), ua)
		d.record("A", err == nil, time.Since(start))
		if err == nil {
			d.recordFetch(true, proxy)
			return body, nil
		}
		lastErr = err

		start = time.Now()
		body, err = d.fetchHTTP(ctx, url, sess, proxy, ua)
		d.record("B", err == nil, time.Since(start))
		if err == nil {
			d.recordFetch(true, proxy)
			return body, nil
		}
		lastErr = err
	}

	start := time.Now()
	body, err := d.fetchBrowser(ctx, url, sess, browserpool.Direct, ua)
	d.record("C", err == nil, time.Since(start))
	if err == nil {
		d.recordFetch(true, proxy)
		return body, nil
	}
	lastErr = err

	start = time.Now()
	body, err = d.fetchHTTP(ctx, url, sess, "", ua)
	d.record("D", err == nil, time.Since(start))
	if err == nil {
		d.recordFetch(true, proxy)
		return body, nil
	}
	lastErr = err

	d.recordFetch(false, proxy)
	logCtx := d.log.WithContext(ctx, zap.String("session", sessionName), zap.String("proxy", proxy))
	d.log.ErrorContext(logCtx, "all fallback steps failed", zap.Error(lastErr))
	return nil, fmt.Errorf("all fallback steps failed: %w", lastErr)
}

func (d *Dispatcher) recordFetch(success bool, proxy string) {
	if d.collector == nil {
		return
	}
	d.collector.RecordFetch(success, proxy)
}

func (d *Dispatcher) record(step string, success bool, dur time.Duration) {
	if d.collector == nil {
		return
	}
	d.collector.RecordFetchStep(step, success, dur)
}

// fetchBrowser is fallback steps A/C: acquire an instance bound to proxy,
// override the UA, navigate, wait for <body>, read the page source.
func (d *Dispatcher) fetchBrowser(parent context.Context, url string, sess config.Session, proxy browserpool.Endpoint, ua string) ([]byte, error) {
	acquireCtx, cancel := context.WithTimeout(parent, d.tunables.AcquireTimeout)
	inst, err := d.pool.Acquire(acquireCtx, proxy)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("acquire instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("pool exhausted for proxy %q", proxy)
	}

	hadError := false
	defer func() { d.pool.Release(inst, hadError) }()

	// NavigateContext roots the call in inst's own chromedp.NewContext and
	// bounds it by the pool's NavTimeout (NavigationTimeout here).
	navCtx, navCancel := d.pool.NavigateContext(inst)
	defer navCancel()

	var html string
	actions := []chromedp.Action{
		network.Enable(),
	}
	if ua != "" {
		actions = append(actions, emulation.SetUserAgentOverride(ua))
	}
	if len(sess.Headers) > 0 {
		headers := make(network.Headers, len(sess.Headers))
		for k, v := range sess.Headers {
			headers[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(navCtx, actions...); err != nil {
		hadError = true
		return nil, fmt.Errorf("browser fetch: %w", err)
	}
	return []byte(html), nil
}

// fetchHTTP is fallback steps B/D: plain HTTP GET, optionally through a
// proxy, with session headers plus User-Agent, following redirects,
// requiring a 2xx status.
func (d *Dispatcher) fetchHTTP(parent context.Context, url string, sess config.Session, proxy string, ua string) ([]byte, error) {
	client := &http.Client{Timeout: sess.Timeout}
	if proxy != "" {
		transport, err := httpTransportForProxy(proxy)
		if err != nil {
			return nil, err
		}
		client.Transport = transport
	}

	ctx, cancel := context.WithTimeout(parent, sess.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range sess.Headers {
		req.Header.Set(k, v)
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
