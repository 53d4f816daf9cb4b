package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fetchbroker/internal/browserpool"
	"fetchbroker/internal/config"
	"fetchbroker/internal/dispatcher"
	"fetchbroker/internal/validator"
	"fetchbroker/pkg/metrics"
)

func newTestServer() (*Server, *validator.ValidProxyMap) {
	proxies := validator.NewValidProxyMap()
	d := dispatcher.New(nil, proxies, nil, config.Default(), nil)
	return New(d, proxies, nil, nil, config.Default()), proxies
}

func TestPollOccupancyNoopsWithoutServingPool(t *testing.T) {
	s, _ := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.pollOccupancy(ctx)
}

func TestNewWiresPoolHooksWhenCollectorPresent(t *testing.T) {
	proxies := validator.NewValidProxyMap()
	collector := metrics.NewCollector()
	defer collector.Close()

	pool := browserpool.New(browserpool.Config{MaxSize: 1, IdleTimeout: time.Minute, Headless: true, NavTimeout: 3 * time.Second})
	defer pool.Shutdown()

	d := dispatcher.New(nil, proxies, nil, config.Default(), nil)
	s := New(d, proxies, pool, collector, config.Default())
	if s.poolHooks == nil {
		t.Fatal("expected pool hooks to be wired when a collector is present")
	}

	inst, err := pool.Acquire(context.Background(), browserpool.Endpoint("1.2.3.4:80"))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer pool.Release(inst, false)

	inUse, available := pool.Occupancy()
	s.poolHooks.OnOccupancyChange(inUse, available)
}

func TestDispatchRoutesThroughWorkerPool(t *testing.T) {
	s, _ := newTestServer()
	handler := s.Routes()

	req := httptest.NewRequest(http.MethodGet, "/rpc/GetProxyStats", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var got getProxyStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestDispatchReturns503WhenWorkersAreSaturatedAndClientCancels(t *testing.T) {
	s, _ := newTestServer()

	release := make(chan struct{})
	defer close(release)
	for i := 0; i < s.tunables.RPCWorkers; i++ {
		s.work <- func() { <-release }
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/rpc/GetProxyStats", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	s.dispatch(s.handleGetProxyStats)(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when every worker is busy and the caller already cancelled, got %d", rr.Code)
	}
}

func doJSON(t *testing.T, handler http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func TestGetRandomProxyEmptySession(t *testing.T) {
	s, _ := newTestServer()
	rr := doJSON(t, s.handleGetRandomProxy, getRandomProxyRequest{Session: ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var got rpcError
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Message != "La sesión no puede estar vacía" {
		t.Errorf("unexpected message: %q", got.Message)
	}
}

func TestGetRandomProxyUnknownSession(t *testing.T) {
	s, _ := newTestServer()
	rr := doJSON(t, s.handleGetRandomProxy, getRandomProxyRequest{Session: "Nope"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with success=false, got %d", rr.Code)
	}
	var got getRandomProxyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Success {
		t.Error("expected success=false for an unknown session")
	}
	if got.Message == "" {
		t.Error("expected a non-empty message")
	}
}

func TestGetRandomProxyKnownSessionNoProxiesYet(t *testing.T) {
	s, _ := newTestServer()
	rr := doJSON(t, s.handleGetRandomProxy, getRandomProxyRequest{Session: "CoinMarketCap"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got getRandomProxyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Success {
		t.Error("expected success=false before any validation round has run")
	}
}

func TestGetProxyStatsBeforeValidation(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/rpc/GetProxyStats", nil)
	rr := httptest.NewRecorder()
	s.handleGetProxyStats(rr, req)

	var got getProxyStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.TotalValidProxies != 0 {
		t.Errorf("expected 0 total valid proxies, got %d", got.TotalValidProxies)
	}
	if len(got.ProxyCountBySession) != 0 {
		t.Errorf("expected an empty per-session map, got %v", got.ProxyCountBySession)
	}
}

func TestGetProxyStatsReflectsReplace(t *testing.T) {
	s, proxies := newTestServer()
	proxies.Replace(map[string][]string{"CoinMarketCap": {"1.2.3.4:80", "5.6.7.8:81"}})

	req := httptest.NewRequest(http.MethodGet, "/rpc/GetProxyStats", nil)
	rr := httptest.NewRecorder()
	s.handleGetProxyStats(rr, req)

	var got getProxyStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.TotalValidProxies != 2 {
		t.Errorf("expected 2 total valid proxies, got %d", got.TotalValidProxies)
	}
	if got.ProxyCountBySession["CoinMarketCap"] != 2 {
		t.Errorf("expected 2 proxies for CoinMarketCap, got %d", got.ProxyCountBySession["CoinMarketCap"])
	}
}

func TestFetchContentRejectsEmptySession(t *testing.T) {
	s, _ := newTestServer()
	rr := doJSON(t, s.handleFetchContent, fetchContentRequest{URL: "http://example.com", Session: ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestFetchContentRejectsUnknownSession(t *testing.T) {
	s, _ := newTestServer()
	rr := doJSON(t, s.handleFetchContent, fetchContentRequest{URL: "http://example.com", Session: "Nope"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var got rpcError
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Message != "Sesión no encontrada" {
		t.Errorf("unexpected message: %q", got.Message)
	}
}
