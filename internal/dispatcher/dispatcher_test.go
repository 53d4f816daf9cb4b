package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fetchbroker/internal/config"
	"fetchbroker/internal/validator"
)

func newTestDispatcher() *Dispatcher {
	return New(nil, validator.NewValidProxyMap(), nil, config.Default(), nil)
}

func TestFetchRejectsEmptySession(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.Fetch(context.Background(), "http://example.com", "", false)
	if err != ErrEmptySession {
		t.Errorf("expected ErrEmptySession, got %v", err)
	}
}

func TestFetchRejectsUnknownSession(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.Fetch(context.Background(), "http://example.com", "NoSuchSession", false)
	if err != ErrUnknownSession {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
}

func TestFetchHTTPDirectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") == "" {
			t.Error("expected the session's Accept-Language header to be forwarded")
		}
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	d := newTestDispatcher()
	sess, ok := config.Lookup("CoinMarketCap")
	if !ok {
		t.Fatal("expected CoinMarketCap session to be registered")
	}

	body, err := d.fetchHTTP(context.Background(), srv.URL, sess, "", "test-agent/1.0")
	if err != nil {
		t.Fatalf("fetchHTTP returned error: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("expected body %q, got %q", "hello", body)
	}
}

func TestFetchHTTPNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	d := newTestDispatcher()
	sess, _ := config.Lookup("CoinMarketCap")

	if _, err := d.fetchHTTP(context.Background(), srv.URL, sess, "", ""); err == nil {
		t.Error("expected a non-2xx response to be an error")
	}
}
