package models

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MaxCheckHistory caps the number of remembered check outcomes per proxy.
const MaxCheckHistory = 100

// ErrInvalidProxyURL indicates a proxy URL without a usable hostname.
var ErrInvalidProxyURL = errors.New("invalid proxy url")

// Proxy represents a single checkable proxy endpoint harvested from a source.
type Proxy struct {
	ID       string   `gorm:"type:varchar(36);primaryKey"`      // Primary key (UUIDv7).
	Source   string   `gorm:"type:varchar(255);not null;index"` // Owning source ID.
	URL      string   `gorm:"type:text;not null;uniqueIndex"`   // Full proxy URL.
	Protocol Protocol `gorm:"type:varchar(16);not null;index"`  // Protocol derived from the URL scheme.

	ExternalIP *string `gorm:"type:varchar(64);index"`                          // IP observed through the proxy.
	Status     Status  `gorm:"type:varchar(16);not null;default:UNKNOWN;index"` // Current health status.

	CheckHistory datatypes.JSONSlice[bool] `gorm:"type:jsonb"` // Recent outcomes, most recent first.

	CreatedAt time.Time  `gorm:"not null;index"` // Creation timestamp.
	CheckedAt *time.Time `gorm:"index"`          // Last check timestamp.
	LastOKAt  *time.Time `gorm:"index"`          // Last successful check timestamp.
}

// NewProxy builds an unchecked proxy record for the given source and URL.
func NewProxy(source, rawURL string, now time.Time) (Proxy, error) {
	parsed, errParse := url.Parse(rawURL)
	if errParse != nil || parsed.Hostname() == "" {
		return Proxy{}, fmt.Errorf("%w (no hostname): %s", ErrInvalidProxyURL, rawURL)
	}
	return Proxy{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Source:       source,
		URL:          rawURL,
		Protocol:     ProtocolFromURL(rawURL),
		Status:       StatusUnknown,
		CheckHistory: datatypes.JSONSlice[bool]{},
		CreatedAt:    now.UTC(),
	}, nil
}

// Endpoint returns the proxy address in host:port form.
func (p *Proxy) Endpoint() string {
	parsed, errParse := url.Parse(p.URL)
	if errParse != nil {
		return ""
	}
	return net.JoinHostPort(parsed.Hostname(), parsed.Port())
}

// Hostname returns the host part of the proxy URL.
func (p *Proxy) Hostname() string {
	parsed, errParse := url.Parse(p.URL)
	if errParse != nil {
		return ""
	}
	return parsed.Hostname()
}

// Gateway reports whether the proxy exits through a different IP than its own host.
// The second return value is false while the external IP is unknown.
func (p *Proxy) Gateway() (gateway bool, known bool) {
	if p.ExternalIP == nil || strings.TrimSpace(*p.ExternalIP) == "" {
		return false, false
	}
	return *p.ExternalIP != p.Hostname(), true
}

// HistoryOKCount counts successful checks in the history.
func (p *Proxy) HistoryOKCount() int {
	n := 0
	for _, ok := range p.CheckHistory {
		if ok {
			n++
		}
	}
	return n
}

// HistoryDownCount counts failed checks in the history.
func (p *Proxy) HistoryDownCount() int {
	return len(p.CheckHistory) - p.HistoryOKCount()
}

// IsTimeToDelete reports whether the proxy has been failing long enough to be dropped:
// it was OK once but not within maxAge, or it was never OK and is older than maxAge.
func (p *Proxy) IsTimeToDelete(now time.Time, maxAge time.Duration) bool {
	cutoff := now.Add(-maxAge)
	if p.LastOKAt != nil {
		return p.LastOKAt.Before(cutoff)
	}
	return p.CreatedAt.Before(cutoff)
}

// PrependHistory returns a new history with outcome first, capped at MaxCheckHistory.
func PrependHistory(history []bool, outcome bool) datatypes.JSONSlice[bool] {
	size := len(history) + 1
	if size > MaxCheckHistory {
		size = MaxCheckHistory
	}
	out := make(datatypes.JSONSlice[bool], 0, size)
	out = append(out, outcome)
	for _, v := range history {
		if len(out) == size {
			break
		}
		out = append(out, v)
	}
	return out
}
