// Package fetch downloads remote proxy entry lists.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single remote list download.
const DefaultTimeout = 10 * time.Second

// Fetcher downloads the body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// HTTPFetcher is the resty-backed Fetcher.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher constructs a fetcher that identifies itself with userAgent.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	client := resty.New().
		SetLogger(log.StandardLogger()).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond)
	if ua := strings.TrimSpace(userAgent); ua != "" {
		client.SetHeader("User-Agent", ua)
	}
	return &HTTPFetcher{client: client}
}

// Fetch performs a GET and returns the body of a 2xx response.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if f == nil || f.client == nil {
		return nil, fmt.Errorf("fetch: client not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, errGet := f.client.R().SetContext(ctx).Get(url)
	if errGet != nil {
		return nil, fmt.Errorf("fetch: %w", errGet)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch: %s status=%d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}
