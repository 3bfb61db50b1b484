package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log lines.
const RedactedValue = "[REDACTED]"

// safeKeys may be logged verbatim. Everything else passed through MaskField is
// masked.
var safeKeys = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"method":     {},
	"path":       {},
	"status":     {},
	"request_id": {},
	"order_id":   {},
	"caller":     {},
}

// IsAllowlisted reports whether key is exempt from masking. Matching ignores
// case and surrounding space.
func IsAllowlisted(key string) bool {
	_, ok := safeKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute for key whose value is masked unless the key
// is allowlisted or the value is blank.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskBearer keeps the scheme of an Authorization header and hides the
// credential.
func MaskBearer(header string) string {
	scheme, credential, found := strings.Cut(strings.TrimSpace(header), " ")
	if found && strings.TrimSpace(credential) != "" {
		return scheme + " " + RedactedValue
	}
	if strings.TrimSpace(header) == "" {
		return header
	}
	return RedactedValue
}
