package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces sensitive values in logs.
const RedactedValue = "[REDACTED]"

// Keys that never carry secrets. Addresses and amounts are public on-chain
// data and stay readable.
var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"component":  {},
	"backend":    {},
	"error":      {},
	"reason":     {},
	"address":    {},
	"op":         {},
	"caller":     {},
	"asset":      {},
	"market":     {},
	"target":     {},
	"amount":     {},
	"request_id": {},
}

// IsAllowlisted reports whether key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns the placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskURL keeps the scheme and host of an endpoint and drops credentials,
// path and query, where hosted RPC providers embed API keys.
func MaskURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return RedactedValue
	}
	masked := parsed.Scheme + "://" + parsed.Host
	if parsed.User != nil || (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" {
		masked += "/" + RedactedValue
	}
	return masked
}
