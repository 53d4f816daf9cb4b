package dispatcher

import (
	"fmt"
	"net/http"
	"net/url"
)

// httpTransportForProxy builds an *http.Transport routing through the given
// host:port proxy endpoint over plain HTTP, matching the pool's own
// unauthenticated-proxies-only scope (no SOCKS, no proxy auth).
func httpTransportForProxy(endpoint string) (*http.Transport, error) {
	proxyURL, err := url.Parse(fmt.Sprintf("http://%s", endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse proxy endpoint: %w", err)
	}
	return &http.Transport{Proxy: http.ProxyURL(proxyURL)}, nil
}
