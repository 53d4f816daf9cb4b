package config

import "time"

// Session is a named fetch profile: target URL, request headers, and a
// per-request timeout. Sessions are immutable and loaded at process start.
type Session struct {
	Name    string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// sessions is the compile-time Session Registry (§4.2). Lookup is O(1) and
// never fails for a name known here; unknown names are the RPC layer's
// concern, not this package's.
var sessions = map[string]Session{
	"CoinMarketCap": {
		Name: "CoinMarketCap",
		URL:  "https://coinmarketcap.com/es/",
		Headers: map[string]string{
			"Accept-Language": "es-ES,es;q=0.9,en;q=0.8",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
		Timeout: Default().DefaultSessionTimeout,
	},
}

// Lookup returns the Session registered under name, and whether it exists.
func Lookup(name string) (Session, bool) {
	s, ok := sessions[name]
	return s, ok
}

// Names returns every registered session name, for iteration by the
// validator (one task per configured session, §4.4 step 3).
func Names() []string {
	names := make([]string, 0, len(sessions))
	for n := range sessions {
		names = append(names, n)
	}
	return names
}
