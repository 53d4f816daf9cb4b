package browserpool

import (
	"context"
	"testing"
	"time"
)

func TestAcquireBindsInstanceToProxy(t *testing.T) {
	p := New(Config{MaxSize: 2, IdleTimeout: time.Minute, Headless: true, NavTimeout: 3 * time.Second})
	defer p.Shutdown()

	inst, err := p.Acquire(context.Background(), Endpoint("1.2.3.4:8080"))
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if inst.Proxy() != Endpoint("1.2.3.4:8080") {
		t.Errorf("expected instance bound to 1.2.3.4:8080, got %s", inst.Proxy())
	}
	p.Release(inst, false)
}

func TestAcquireRespectsCapacity(t *testing.T) {
	p := New(Config{MaxSize: 1, IdleTimeout: time.Minute, Headless: true, NavTimeout: 3 * time.Second})
	defer p.Shutdown()

	first, err := p.Acquire(context.Background(), Endpoint("1.1.1.1:80"))
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	second, err := p.Acquire(context.Background(), Endpoint("2.2.2.2:80"))
	if err != nil {
		t.Fatalf("second Acquire returned an error instead of nil-at-capacity: %v", err)
	}
	if second != nil {
		t.Error("expected nil when the pool is at capacity and nothing is idle to evict")
	}

	p.Release(first, false)
}

func TestReleaseDestroysAfterErrorThreshold(t *testing.T) {
	p := New(Config{MaxSize: 3, IdleTimeout: time.Minute, Headless: true, NavTimeout: 3 * time.Second})
	defer p.Shutdown()

	inst, err := p.Acquire(context.Background(), Endpoint("3.3.3.3:80"))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	for i := 0; i < errorThreshold; i++ {
		p.Release(inst, true)
		if i < errorThreshold-1 {
			var reerr error
			inst, reerr = p.Acquire(context.Background(), Endpoint("3.3.3.3:80"))
			if reerr != nil {
				t.Fatalf("re-Acquire failed: %v", reerr)
			}
		}
	}

	inUse, available := p.Occupancy()
	if inUse != 0 {
		t.Errorf("expected 0 in-use instances after the error-threshold destroy, got %d", inUse)
	}
	if available != 0 {
		t.Errorf("expected 0 idle instances after the error-threshold destroy, got %d", available)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	p := New(Config{MaxSize: 1, IdleTimeout: time.Minute, Headless: true, NavTimeout: 3 * time.Second})
	p.Shutdown()
	p.Shutdown()
}
