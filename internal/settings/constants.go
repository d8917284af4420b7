package settings

// DB config keys and defaults for runtime settings.
const (
	// LiveLastOKMinutesKey is the liveness window in minutes.
	LiveLastOKMinutesKey = "LIVE_LAST_OK_MINUTES"
	// ProxiesCheckKey toggles the periodic proxy sweep.
	ProxiesCheckKey = "PROXIES_CHECK"
	// MaxProxiesCheckKey caps the number of proxies checked per sweep.
	MaxProxiesCheckKey = "MAX_PROXIES_CHECK"
	// ProxyCheckTimeoutKey is the per-probe timeout in seconds.
	ProxyCheckTimeoutKey = "PROXY_CHECK_TIMEOUT"

	// DefaultLiveLastOKMinutes is the fallback liveness window.
	DefaultLiveLastOKMinutes = 15
	// DefaultProxiesCheck enables the sweep by default.
	DefaultProxiesCheck = true
	// DefaultMaxProxiesCheck is the fallback batch quota.
	DefaultMaxProxiesCheck = 30
	// DefaultProxyCheckTimeoutSeconds is the fallback probe timeout.
	DefaultProxyCheckTimeoutSeconds = 5.1
)

// Keys lists every recognized settings key.
var Keys = []string{
	LiveLastOKMinutesKey,
	ProxiesCheckKey,
	MaxProxiesCheckKey,
	ProxyCheckTimeoutKey,
}

// IsKnownKey reports whether key is a recognized settings key.
func IsKnownKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}
