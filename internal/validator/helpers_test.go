package validator

import (
	"testing"
	"time"

	"fetchbroker/internal/config"
)

func fastTestTunables() config.Tunables {
	t := config.Default()
	t.SessionValidQuota = 20
	t.ValidationBatchSize = 5
	t.MaxConcurrentProbes = 15
	t.FastProxyThreshold = 5 * time.Second
	t.ValidationTimeout = 800 * time.Millisecond
	t.AcquireTimeout = 2 * time.Second
	t.PerSessionValidateTimeout = 120 * time.Second
	return t
}

func mustSession(t *testing.T) config.Session {
	t.Helper()
	sess, ok := config.Lookup("CoinMarketCap")
	if !ok {
		t.Fatal("expected CoinMarketCap session to be registered")
	}
	return sess
}
