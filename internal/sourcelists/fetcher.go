// Package sourcelists implements the two pure scraping operations of §4.1:
// pulling candidate proxy endpoints and user-agent strings from a fixed set
// of public HTTPS sources.
package sourcelists

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"fetchbroker/pkg/logger"
)

// ProxyListURLs are the fixed public raw-text proxy lists scraped each
// validation round.
var ProxyListURLs = []string{
	"https://raw.githubusercontent.com/officialputuid/KangProxy/refs/heads/KangProxy/https/https.txt",
	"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/refs/heads/master/http.txt",
	"https://raw.githubusercontent.com/mmpx12/proxy-list/refs/heads/master/https.txt",
	"https://raw.githubusercontent.com/dpangestuw/Free-Proxy/refs/heads/main/http_proxies.txt",
	"https://raw.githubusercontent.com/elliottophellia/proxylist/refs/heads/master/results/http/global/http_checked.txt",
}

// UserAgentListURLs are the fixed gist-hosted user-agent lists scraped once
// at startup.
var UserAgentListURLs = []string{
	"https://gist.githubusercontent.com/pzb/b4b6f57144aea7827ae4/raw/cf847b76a142955b1410c8bcef3aabe221a063ac/user-agents.txt",
}

var hostPortPattern = regexp.MustCompile(`^([0-9a-zA-Z._-]+:\d+)`)

// scrapeTimeout bounds each proxy-source GET (§4.1: "10 s timeout").
const scrapeTimeout = 10 * time.Second

var log = logger.Default().With(zap.String("component", "sourcelists"))

// newCollector builds a colly.Collector the way the reference codebase's
// crawler configures one for bulk text retrieval, scoped down to a single
// request timeout since these sources span several unrelated hosts.
func newCollector(timeout time.Duration) *colly.Collector {
	c := colly.NewCollector()
	c.SetRequestTimeout(timeout)
	return c
}

// fetchBody GETs url through a fresh collector, returning the response body
// as text, or an error if the request or transport failed.
func fetchBody(url string, timeout time.Duration) (string, error) {
	c := newCollector(timeout)
	var body string
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})
	if err := c.Visit(url); err != nil {
		return "", err
	}
	c.Wait()
	if fetchErr != nil {
		return "", fetchErr
	}
	return body, nil
}

// ScrapeProxies implements §4.1's scrape_proxies: GET every source URL with
// a 10s timeout, logging and skipping sources that fail; parse each
// non-empty line as host:port (discarding anything past the second colon
// field, and lines without a colon); dedupe preserving first-seen order
// across all sources combined.
func ScrapeProxies(urls []string) []string {
	if len(urls) == 0 {
		urls = ProxyListURLs
	}

	type result struct {
		lines []string
	}
	results := make([]result, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			body, err := fetchBody(u, scrapeTimeout)
			if err != nil {
				log.Warn("proxy source fetch failed", zap.String("url", u), zap.Error(err))
				return
			}
			results[i] = result{lines: strings.Split(body, "\n")}
		}(i, u)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	ordered := make([]string, 0, 256)
	for _, r := range results {
		for _, line := range r.lines {
			ep, ok := parseEndpointLine(line)
			if !ok {
				continue
			}
			if _, dup := seen[ep]; dup {
				continue
			}
			seen[ep] = struct{}{}
			ordered = append(ordered, ep)
		}
	}
	return ordered
}

// parseEndpointLine keeps only the first two colon-separated fields of a
// non-empty line, discarding lines with no colon at all.
func parseEndpointLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	m := hostPortPattern.FindString(line)
	if m == "" {
		return "", false
	}
	return m, true
}

// disallowedUAFragments excludes mobile/tablet user agents; only desktop
// browsers are wanted (§4.1).
var disallowedUAFragments = []string{"Android", "iPhone", "iPad", "Mobile"}

// defaultUserAgents is the built-in fallback used when every user-agent
// source fails, matching the original implementation's three-entry default
// desktop list.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// ScrapeUserAgents implements §4.1's scrape_user_agents: GET each source URL
// with up to 3 attempts and a 2s back-off between tries. Keep lines
// containing "Mozilla/" and none of the disallowed mobile fragments; dedupe;
// fall back to the built-in default list if every source fails.
func ScrapeUserAgents(urls []string) []string {
	if len(urls) == 0 {
		urls = UserAgentListURLs
	}

	seen := make(map[string]struct{})
	ordered := make([]string, 0, 64)
	anySucceeded := false

	for _, u := range urls {
		var body string
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			body, err = fetchBody(u, scrapeTimeout)
			if err == nil {
				break
			}
			if attempt < 2 {
				time.Sleep(2 * time.Second)
			}
		}
		if err != nil {
			log.Warn("user agent source fetch failed", zap.String("url", u), zap.Error(err))
			continue
		}
		anySucceeded = true
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			if !strings.Contains(line, "Mozilla/") {
				continue
			}
			if containsAny(line, disallowedUAFragments) {
				continue
			}
			if _, dup := seen[line]; dup {
				continue
			}
			seen[line] = struct{}{}
			ordered = append(ordered, line)
		}
	}

	if !anySucceeded || len(ordered) == 0 {
		return append([]string{}, defaultUserAgents...)
	}
	return ordered
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
