package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers are matched as substrings of lower-cased attribute keys.
var sensitiveMarkers = []string{"password", "secret", "token", "apikey", "authorization", "headers", "privkey"}

// Sensitive reports whether values logged under key must be masked.
func Sensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.NewReplacer("_", "", "-", "").Replace(normalized)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// redactAttr masks string values under sensitive keys.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || attr.Value.String() == "" {
		return attr
	}
	if Sensitive(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	return attr
}

// DSN strips credentials from a database connection string. Both URL
// ("postgres://user:pw@host/db") and keyword ("host=x password=pw") forms are
// handled; anything else is returned unchanged.
func DSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}
	fields := strings.Fields(dsn)
	for i, field := range fields {
		if key, _, ok := strings.Cut(field, "="); ok && Sensitive(key) {
			fields[i] = key + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}
