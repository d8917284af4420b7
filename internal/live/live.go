// Package live turns healthy proxy records into the caller-facing live list.
package live

import (
	"github.com/router-for-me/ProxyPool/internal/models"
)

// Options narrows the live list after the base status/recency query.
type Options struct {
	UniqueIP       bool // keep one proxy per external IP
	ExcludeGateway bool // keep only proxies known to exit through their own host
}

// Filter applies gateway exclusion and IP de-duplication, preserving input order.
func Filter(proxies []models.Proxy, opts Options) []models.Proxy {
	out := proxies
	if opts.ExcludeGateway {
		out = DirectOnly(out)
	}
	if opts.UniqueIP {
		out = UniqueByIP(out)
	}
	return out
}

// DirectOnly keeps proxies whose gateway status is known to be false.
// Proxies without an observed external IP are dropped as well.
func DirectOnly(proxies []models.Proxy) []models.Proxy {
	out := make([]models.Proxy, 0, len(proxies))
	for i := range proxies {
		gateway, known := proxies[i].Gateway()
		if known && !gateway {
			out = append(out, proxies[i])
		}
	}
	return out
}

// UniqueByIP keeps the first proxy per external IP and appends all proxies
// with an unknown IP after them, unchanged.
func UniqueByIP(proxies []models.Proxy) []models.Proxy {
	seen := make(map[string]struct{}, len(proxies))
	withIP := make([]models.Proxy, 0, len(proxies))
	withoutIP := make([]models.Proxy, 0)
	for i := range proxies {
		ip := proxies[i].ExternalIP
		if ip == nil || *ip == "" {
			withoutIP = append(withoutIP, proxies[i])
			continue
		}
		if _, dup := seen[*ip]; dup {
			continue
		}
		seen[*ip] = struct{}{}
		withIP = append(withIP, proxies[i])
	}
	return append(withIP, withoutIP...)
}

// URLs extracts the proxy URLs in order.
func URLs(proxies []models.Proxy) []string {
	out := make([]string, 0, len(proxies))
	for i := range proxies {
		out = append(out, proxies[i].URL)
	}
	return out
}
