package models

import (
	"fmt"
	"strings"
)

// Status is the health state of a proxy.
type Status string

const (
	StatusUnknown Status = "UNKNOWN" // Never checked.
	StatusOK      Status = "OK"      // Last check succeeded.
	StatusDown    Status = "DOWN"    // Last check failed.
)

// ParseStatus validates a status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusUnknown:
		return StatusUnknown, nil
	case StatusOK:
		return StatusOK, nil
	case StatusDown:
		return StatusDown, nil
	default:
		return "", fmt.Errorf("unknown status: %q", raw)
	}
}

// Protocol is the proxy protocol family.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolSOCKS5 Protocol = "socks5"
)

// ParseProtocol validates a protocol string.
func ParseProtocol(raw string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(raw))) {
	case ProtocolHTTP:
		return ProtocolHTTP, nil
	case ProtocolSOCKS5:
		return ProtocolSOCKS5, nil
	default:
		return "", fmt.Errorf("unknown protocol: %q", raw)
	}
}

// Scheme returns the URL scheme used for the protocol.
func (p Protocol) Scheme() string {
	switch p {
	case ProtocolSOCKS5:
		return "socks5"
	case ProtocolHTTP:
		return "http"
	default:
		return "http"
	}
}

// ProtocolFromURL derives the protocol from a proxy URL scheme.
// Both http:// and https:// proxies are treated as HTTP.
func ProtocolFromURL(rawURL string) Protocol {
	if strings.HasPrefix(strings.ToLower(rawURL), "http") {
		return ProtocolHTTP
	}
	return ProtocolSOCKS5
}
