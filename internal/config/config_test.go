package config

import "testing"

func TestDefaultTunablesSane(t *testing.T) {
	tun := Default()
	if tun.SessionValidQuota != 20 {
		t.Errorf("expected quota 20, got %d", tun.SessionValidQuota)
	}
	if tun.ValidationBatchSize != 5 {
		t.Errorf("expected batch size 5, got %d", tun.ValidationBatchSize)
	}
	if tun.ListenAddr != "[::]:5000" {
		t.Errorf("expected default listen addr [::]:5000, got %s", tun.ListenAddr)
	}
	if tun.ScheduledValidationInstances >= tun.MaxValidationInstances {
		t.Errorf("expected a scheduled pool smaller than the startup warmup pool, got %d vs %d",
			tun.ScheduledValidationInstances, tun.MaxValidationInstances)
	}
}

func TestLookupKnownSession(t *testing.T) {
	sess, ok := Lookup("CoinMarketCap")
	if !ok {
		t.Fatal("expected CoinMarketCap to be registered")
	}
	if sess.URL == "" {
		t.Error("expected a non-empty URL")
	}
	if sess.Headers["Accept-Language"] == "" {
		t.Error("expected an Accept-Language header")
	}
}

func TestLookupUnknownSession(t *testing.T) {
	if _, ok := Lookup("NoSuchSession"); ok {
		t.Error("expected unknown session to be absent")
	}
}

func TestNamesNonEmpty(t *testing.T) {
	names := Names()
	if len(names) == 0 {
		t.Fatal("expected at least one registered session")
	}
	for _, n := range names {
		if _, ok := Lookup(n); !ok {
			t.Errorf("Names() returned %q which Lookup cannot find", n)
		}
	}
}
