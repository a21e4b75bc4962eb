package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secret material in log output.
const RedactedValue = "[REDACTED]"

// secretKeys are attribute names that never reach the log verbatim. Keys are
// compared case-insensitively with '_' and '-' removed.
var secretKeys = map[string]struct{}{
	"apikey":        {},
	"secret":        {},
	"apisecret":     {},
	"secretkey":     {},
	"privatekey":    {},
	"seed":          {},
	"passphrase":    {},
	"token":         {},
	"authorization": {},
	"signature":     {},
}

func normaliseKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

// IsSecretKey reports whether attributes named key are masked.
func IsSecretKey(key string) bool {
	_, ok := secretKeys[normaliseKey(key)]
	return ok
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is masked when key names secret
// material.
func MaskField(key, value string) slog.Attr {
	if IsSecretKey(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}

// Fingerprint keeps the first and last four characters of a long value so
// signatures and keys can be correlated across services without being logged.
func Fingerprint(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 12 {
		return MaskValue(value)
	}
	return value[:4] + "..." + value[len(value)-4:]
}

func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindString && IsSecretKey(attr.Key) {
		attr.Value = slog.StringValue(MaskValue(attr.Value.String()))
	}
	return attr
}
