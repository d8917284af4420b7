package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnknownKey is returned when saving a key that is not a recognized setting.
	ErrUnknownKey = errors.New("settings: unknown key")
	// ErrInvalidValue is returned when a setting value does not parse for its key.
	ErrInvalidValue = errors.New("settings: invalid value")
)

// Values is a typed view over the runtime settings.
type Values struct {
	LiveLastOKMinutes int           `json:"live_last_ok_minutes"`
	ProxiesCheck      bool          `json:"proxies_check"`
	MaxProxiesCheck   int           `json:"max_proxies_check"`
	ProxyCheckTimeout time.Duration `json:"-"`
}

// MarshalJSON renders the probe timeout in seconds.
func (v Values) MarshalJSON() ([]byte, error) {
	type alias Values
	return json.Marshal(struct {
		alias
		ProxyCheckTimeoutSeconds float64 `json:"proxy_check_timeout"`
	}{alias: alias(v), ProxyCheckTimeoutSeconds: v.ProxyCheckTimeout.Seconds()})
}

// LiveWindow returns the liveness window as a duration.
func (v Values) LiveWindow() time.Duration {
	return time.Duration(v.LiveLastOKMinutes) * time.Minute
}

// Defaults returns the built-in setting values.
func Defaults() Values {
	return Values{
		LiveLastOKMinutes: DefaultLiveLastOKMinutes,
		ProxiesCheck:      DefaultProxiesCheck,
		MaxProxiesCheck:   DefaultMaxProxiesCheck,
		ProxyCheckTimeout: secondsToDuration(DefaultProxyCheckTimeoutSeconds),
	}
}

// Current resolves the runtime settings from the DB snapshot, falling back to defaults.
func Current() Values {
	v := Defaults()
	if raw, ok := DBConfigValue(LiveLastOKMinutesKey); ok {
		if n, okParse := parseDBConfigInt(raw); okParse && n > 0 {
			v.LiveLastOKMinutes = n
		}
	}
	if raw, ok := DBConfigValue(ProxiesCheckKey); ok {
		if b, okParse := parseDBConfigBool(raw); okParse {
			v.ProxiesCheck = b
		}
	}
	if raw, ok := DBConfigValue(MaxProxiesCheckKey); ok {
		if n, okParse := parseDBConfigInt(raw); okParse && n > 0 {
			v.MaxProxiesCheck = n
		}
	}
	if raw, ok := DBConfigValue(ProxyCheckTimeoutKey); ok {
		if f, okParse := parseDBConfigFloat(raw); okParse && f > 0 {
			v.ProxyCheckTimeout = secondsToDuration(f)
		}
	}
	return v
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// validateValue checks that raw parses for the given key.
func validateValue(key string, raw json.RawMessage) error {
	var ok bool
	switch key {
	case LiveLastOKMinutesKey, MaxProxiesCheckKey:
		var n int
		n, ok = parseDBConfigInt(raw)
		ok = ok && n > 0
	case ProxiesCheckKey:
		_, ok = parseDBConfigBool(raw)
	case ProxyCheckTimeoutKey:
		var f float64
		f, ok = parseDBConfigFloat(raw)
		ok = ok && f > 0
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if !ok {
		return fmt.Errorf("%w for %s: %s", ErrInvalidValue, key, string(raw))
	}
	return nil
}

// parseDBConfigBool parses a boolean from JSON config payloads.
func parseDBConfigBool(raw json.RawMessage) (bool, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false, false
	}
	var parsedBool bool
	if errUnmarshalBool := json.Unmarshal(raw, &parsedBool); errUnmarshalBool == nil {
		return parsedBool, true
	}
	var parsedString string
	if errUnmarshalString := json.Unmarshal(raw, &parsedString); errUnmarshalString == nil {
		switch strings.ToLower(strings.TrimSpace(parsedString)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
		return false, false
	}
	var parsedNumber float64
	if errUnmarshalNumber := json.Unmarshal(raw, &parsedNumber); errUnmarshalNumber == nil {
		return parsedNumber != 0, true
	}
	if inner, ok := unwrapValue(raw); ok {
		return parseDBConfigBool(inner)
	}
	return false, false
}

// parseDBConfigFloat parses a finite number from JSON config payloads.
func parseDBConfigFloat(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if errParse == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0) {
			return parsed, true
		}
		return 0, false
	}
	if inner, ok := unwrapValue(raw); ok {
		return parseDBConfigFloat(inner)
	}
	return 0, false
}

// parseDBConfigInt parses a whole number from JSON config payloads.
func parseDBConfigInt(raw json.RawMessage) (int, bool) {
	f, ok := parseDBConfigFloat(raw)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// unwrapValue extracts the payload of a {"value": ...} wrapper.
func unwrapValue(raw json.RawMessage) (json.RawMessage, bool) {
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal != nil || len(wrapper.Value) == 0 {
		return nil, false
	}
	return wrapper.Value, true
}
