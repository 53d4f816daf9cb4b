package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWatcherMissingFileUsesDefaults(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("NewWatcher returned error for a missing file: %v", err)
	}
	got := w.Get()
	want := Default()
	if got.ListenAddr != want.ListenAddr || got.ServingPoolSize != want.ServingPoolSize {
		t.Errorf("expected defaults when override file is absent, got %+v", got)
	}
}

func TestWatcherAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "listen_addr: \"127.0.0.1:9000\"\nserving_pool_size: 3\nrpc_workers: 4\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed writing test override file: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	got := w.Get()
	if got.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("expected overridden listen addr, got %s", got.ListenAddr)
	}
	if got.ServingPoolSize != 3 {
		t.Errorf("expected overridden pool size 3, got %d", got.ServingPoolSize)
	}
	if got.RPCWorkers != 4 {
		t.Errorf("expected overridden rpc workers 4, got %d", got.RPCWorkers)
	}
	if got.UpdateInterval != Default().UpdateInterval {
		t.Errorf("unspecified field should retain its default, got %v", got.UpdateInterval)
	}
}

func TestWatcherInvalidYAMLKeepsPreviousValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0644); err != nil {
		t.Fatalf("failed writing test override file: %v", err)
	}
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	got := w.Get()
	if got.ListenAddr != Default().ListenAddr {
		t.Errorf("expected defaults preserved after invalid yaml, got %+v", got)
	}
}
