package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPFetcherReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "proxypool-test" {
			t.Errorf("unexpected user agent %q", ua)
		}
		_, _ = w.Write([]byte("1.1.1.1:80\n2.2.2.2:8080\n"))
	}))
	defer srv.Close()

	body, errFetch := NewHTTPFetcher("proxypool-test").Fetch(context.Background(), srv.URL, time.Second)
	if errFetch != nil {
		t.Fatalf("fetch: %v", errFetch)
	}
	if string(body) != "1.1.1.1:80\n2.2.2.2:8080\n" {
		t.Fatalf("unexpected body %q", string(body))
	}
}

func TestHTTPFetcherFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, errFetch := NewHTTPFetcher("").Fetch(context.Background(), srv.URL, time.Second)
	if errFetch == nil || !strings.Contains(errFetch.Error(), "status=410") {
		t.Fatalf("expected status error, got %v", errFetch)
	}
}

func TestHTTPFetcherNilReceiver(t *testing.T) {
	var f *HTTPFetcher
	if _, errFetch := f.Fetch(context.Background(), "http://example.invalid", time.Second); errFetch == nil {
		t.Fatal("expected error from nil fetcher")
	}
}
