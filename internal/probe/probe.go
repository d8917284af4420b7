// Package probe checks proxy connectivity by asking public IP-echo services
// which address they see when contacted through the proxy.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	xproxy "golang.org/x/net/proxy"
)

// DefaultServices lists the IP-echo endpoints used when none are configured.
var DefaultServices = []string{
	"https://api.ipify.org",
	"https://checkip.amazonaws.com",
	"https://icanhazip.com",
	"https://ifconfig.me/ip",
	"https://ipinfo.io/ip",
}

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxBodyBytes     = 256
)

var (
	// ErrUnsupportedScheme is returned for proxy URLs other than http, https and socks5.
	ErrUnsupportedScheme = errors.New("probe: unsupported proxy scheme")
	// ErrMalformedResponse is returned when an echo service does not answer with an IP.
	ErrMalformedResponse = errors.New("probe: malformed response")
	// ErrNoServices is returned when the client has no echo services configured.
	ErrNoServices = errors.New("probe: no echo services configured")
)

// Prober resolves the external IP seen through a proxy.
type Prober interface {
	Probe(ctx context.Context, proxyURL string, timeout time.Duration) (string, error)
}

// Client is the resty-backed Prober.
type Client struct {
	services  []string
	userAgent string
	shuffle   bool
}

// Option configures a Client.
type Option func(*Client)

// WithServices overrides the echo services.
func WithServices(services []string) Option {
	return func(c *Client) {
		cleaned := make([]string, 0, len(services))
		for _, s := range services {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			c.services = cleaned
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if strings.TrimSpace(ua) != "" {
			c.userAgent = strings.TrimSpace(ua)
		}
	}
}

// WithFixedOrder disables service shuffling (for testing).
func WithFixedOrder() Option {
	return func(c *Client) { c.shuffle = false }
}

// NewClient builds a probe client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		services:  append([]string(nil), DefaultServices...),
		userAgent: defaultUserAgent,
		shuffle:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Probe connects through proxyURL to the echo services in turn and returns the first
// IP address reported. The whole probe is bounded by timeout.
func (c *Client) Probe(ctx context.Context, proxyURL string, timeout time.Duration) (string, error) {
	if c == nil || len(c.services) == 0 {
		return "", ErrNoServices
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	transport, errTransport := newTransport(proxyURL, timeout)
	if errTransport != nil {
		return "", errTransport
	}
	defer transport.CloseIdleConnections()

	client := resty.New().
		SetTransport(transport).
		SetLogger(log.StandardLogger()).
		SetHeader("User-Agent", c.userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(3))
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	var lastErr error
	for _, service := range c.order() {
		if ctx.Err() != nil {
			break
		}
		ip, errFetch := fetchIP(ctx, client, service)
		if errFetch == nil {
			return ip, nil
		}
		lastErr = errFetch
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return "", fmt.Errorf("probe: all echo services failed: %w", lastErr)
}

func (c *Client) order() []string {
	out := append([]string(nil), c.services...)
	if c.shuffle {
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

func fetchIP(ctx context.Context, client *resty.Client, service string) (string, error) {
	resp, errGet := client.R().SetContext(ctx).Get(service)
	if errGet != nil {
		return "", errGet
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("probe: %s status=%d", service, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) > maxBodyBytes {
		return "", fmt.Errorf("%w: %s body too large", ErrMalformedResponse, service)
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%w: %s returned %q", ErrMalformedResponse, service, ip)
	}
	return ip, nil
}

// newTransport builds a single-use transport that routes through the proxy.
func newTransport(proxyURL string, timeout time.Duration) (*http.Transport, error) {
	parsed, errParse := url.Parse(strings.TrimSpace(proxyURL))
	if errParse != nil {
		return nil, fmt.Errorf("probe: parse proxy url: %w", errParse)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("probe: proxy url has no host")
	}

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: -1}
	transport := &http.Transport{
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		DialContext:           dialer.DialContext,
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		socksDialer, errSocks := xproxy.FromURL(parsed, dialer)
		if errSocks != nil {
			return nil, fmt.Errorf("probe: socks5 dialer: %w", errSocks)
		}
		contextDialer, ok := socksDialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("probe: socks5 dialer does not support context")
		}
		transport.DialContext = contextDialer.DialContext
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, parsed.Scheme)
	}
	return transport, nil
}
