package log

import (
	"strings"
)

// SanitizeField checks if the key contains sensitive keywords and sanitizes the value.
// Request payload text is masked entirely: the audit trail must never receive
// raw operation content, only counts and deltas.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	// Payload text is never logged verbatim
	payloadKeywords := []string{"payload", "prompt", "raw_text", "redacted_text"}
	for _, keyword := range payloadKeywords {
		if strings.Contains(lowerKey, keyword) {
			return maskAll(value)
		}
	}

	// Credential-like fields keep only a prefix/suffix hint
	sensitiveKeywords := []string{
		"password", "passwd", "pwd",
		"api_key", "apikey", "api-key",
		"token", "access_token", "refresh_token",
		"secret", "auth", "authorization",
		"credential", "private_key", "privatekey",
		"dsn", "proxy_url",
	}
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	return value
}

// sanitizeToken masks values showing only first 4 and last 4 characters
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		// For short strings, mask everything except first and last char
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	// For longer strings, show first 4 and last 4
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// maskAll replaces the whole value, keeping only its length visible
func maskAll(value string) string {
	const maxMask = 16
	n := len(value)
	if n > maxMask {
		n = maxMask
	}
	return strings.Repeat("*", n)
}
