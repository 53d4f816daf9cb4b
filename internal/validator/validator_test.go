package validator

import (
	"context"
	"testing"
	"time"

	"fetchbroker/internal/browserpool"
)

func TestValidProxyMapSnapshotReflectsReplace(t *testing.T) {
	m := NewValidProxyMap()
	if len(m.Snapshot()) != 0 {
		t.Fatal("expected an empty map before any Replace")
	}

	next := map[string][]string{"CoinMarketCap": {"1.2.3.4:80", "5.6.7.8:81"}}
	m.Replace(next)

	got := m.Snapshot()
	if len(got["CoinMarketCap"]) != 2 {
		t.Errorf("expected 2 proxies for CoinMarketCap, got %d", len(got["CoinMarketCap"]))
	}
}

func TestValidProxyMapReplaceIsAtomicAcrossReaders(t *testing.T) {
	m := NewValidProxyMap()
	m.Replace(map[string][]string{"s": {"a:1"}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			snap := m.Snapshot()
			if _, ok := snap["s"]; !ok {
				t.Error("reader observed a map missing the expected key mid-replace")
			}
		}
	}()
	for i := 0; i < 100; i++ {
		m.Replace(map[string][]string{"s": {"a:1"}})
	}
	<-done
}

func TestFailedSetAddAndHas(t *testing.T) {
	f := newFailedSet()
	if f.has("1.2.3.4:80") {
		t.Error("expected endpoint to be absent before add")
	}
	f.add("1.2.3.4:80")
	if !f.has("1.2.3.4:80") {
		t.Error("expected endpoint to be present after add")
	}
}

func TestFailedSetMaybeClear(t *testing.T) {
	f := newFailedSet()
	f.add("1.2.3.4:80")
	f.clearedAt = time.Now().Add(-time.Hour)

	f.maybeClear(30 * time.Minute)
	if f.has("1.2.3.4:80") {
		t.Error("expected the failed set to be cleared after the interval elapsed")
	}
}

func TestFailedSetMaybeClearNoopBeforeInterval(t *testing.T) {
	f := newFailedSet()
	f.add("1.2.3.4:80")

	f.maybeClear(30 * time.Minute)
	if !f.has("1.2.3.4:80") {
		t.Error("did not expect a clear before the interval elapsed")
	}
}

func TestValidateSessionRespectsQuota(t *testing.T) {
	orig := navigateAndRead
	defer func() { navigateAndRead = orig }()
	navigateAndRead = func(ctx context.Context, inst *browserpool.Instance, target string) (string, error) {
		return string(make([]byte, 100)), nil
	}

	v := &Validator{
		tunables: fastTestTunables(),
		pool: browserpool.New(browserpool.Config{
			MaxSize:     25,
			IdleTimeout: time.Minute,
			Headless:    true,
			NavTimeout:  time.Second,
		}),
		failed: newFailedSet(),
	}
	defer v.Close()

	candidates := make([]string, 100)
	for i := range candidates {
		candidates[i] = "10.0.0.1:8080"
	}

	accum := v.validateSession(context.Background(), mustSession(t), candidates)
	if len(accum) != v.tunables.SessionValidQuota {
		t.Errorf("expected exactly the quota of %d trusted proxies, got %d", v.tunables.SessionValidQuota, len(accum))
	}
}
