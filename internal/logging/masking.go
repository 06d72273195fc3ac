// Package logging provides the service logger and helpers that keep
// credentials, capability tokens and photo payloads out of log output.
package logging

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Redacted replaces values that must never appear in logs.
const Redacted = "[REDACTED]"

// binaryField holds base64 photo payloads; it is summarized by size, never logged.
const binaryField = "base64"

// MaskHeader redacts sensitive header values based on header name.
//
// Rules:
//   - Secret headers, cookies and provider signatures: "[REDACTED]"
//   - Bearer tokens and ops keys: "****" + last 4 chars
//   - Other headers: returned unchanged
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	if strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "password") ||
		lowerName == "cookie" ||
		lowerName == "set-cookie" ||
		lowerName == "x-signature" {
		return Redacted
	}

	if lowerName == "authorization" ||
		lowerName == "x-ops-key" ||
		lowerName == "x-api-key" {
		return lastFour(value)
	}

	return value
}

// MaskToken hides the signature half of a capability token while keeping the
// expiry readable, e.g. "1712345678000.****9f3a".
func MaskToken(token string) string {
	exp, sig, ok := strings.Cut(token, ".")
	if !ok {
		return lastFour(token)
	}
	return exp + "." + lastFour(sig)
}

// MaskQuery masks the capability token ("t") and any access_token in a raw
// query string. Unparseable input is redacted entirely.
func MaskQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Redacted
	}
	if t := values.Get("t"); t != "" {
		values.Set("t", MaskToken(t))
	}
	if values.Has("access_token") {
		values.Set("access_token", Redacted)
	}
	return values.Encode()
}

// MaskJSONBody redacts non-allowlisted fields in a JSON body.
//
// If allowlist is nil, only base64 payload fields are summarized.
// If allowlist is non-nil, only fields in the allowlist keep their value;
// all other primitive fields become "[REDACTED]".
//
// Returns the original body if it is not valid JSON.
func MaskJSONBody(body []byte, allowlist []string) []byte {
	if len(body) == 0 {
		return body
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	var allowed map[string]bool
	if allowlist != nil {
		allowed = make(map[string]bool, len(allowlist))
		for _, field := range allowlist {
			allowed[field] = true
		}
	}

	result, err := json.Marshal(maskJSONValue(data, allowed))
	if err != nil {
		return body
	}
	return result
}

// maskJSONValue walks value; a nil allowlist keeps every field.
func maskJSONValue(value any, allowlist map[string]bool) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			if s, ok := val.(string); ok && key == binaryField {
				result[key] = FormatBinaryData([]byte(s))
				continue
			}
			switch val.(type) {
			case map[string]any, []any:
				result[key] = maskJSONValue(val, allowlist)
			default:
				if allowlist == nil || allowlist[key] {
					result[key] = val
				} else {
					result[key] = Redacted
				}
			}
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = maskJSONValue(item, allowlist)
		}
		return result
	default:
		return value
	}
}

// FormatBinaryData formats binary data for logging.
func FormatBinaryData(data []byte) string {
	return fmt.Sprintf("[BINARY: %d bytes]", len(data))
}

func lastFour(value string) string {
	if len(value) < 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
