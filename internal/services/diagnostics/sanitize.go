package diagnostics

import (
	"net/url"
	"regexp"
	"strings"
)

const mask = "****"

var sensitiveQueryKeys = []string{"token", "api_key", "apikey", "key", "secret", "password", "auth", "signature"}

var (
	bearerPattern   = regexp.MustCompile(`(?i)(Bearer\s+)\S+`)
	queryKeyPattern = regexp.MustCompile(`(?i)([?&](?:token|api[_-]?key|key|secret|signature|auth|password)=)[^&\s]+`)
)

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, entry := range sensitiveQueryKeys {
		if strings.Contains(key, entry) {
			return true
		}
	}
	return false
}

// SanitizeWebhookURL hides credentials in a webhook URL so it can be
// shown or copied. User info and the values of secret-looking query
// parameters are masked; the order of parameters is kept. Strings that
// do not parse as absolute URLs get a best-effort pattern redaction.
func SanitizeWebhookURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redact(raw)
	}

	userinfo := ""
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			userinfo = mask + ":" + mask + "@"
		} else if u.User.Username() != "" {
			userinfo = mask + "@"
		}
		u.User = nil
	}

	if u.RawQuery != "" {
		parts := strings.Split(u.RawQuery, "&")
		for i, part := range parts {
			name, _, found := strings.Cut(part, "=")
			key, err := url.QueryUnescape(name)
			if err != nil {
				key = name
			}
			if isSensitiveKey(key) {
				if found || name != "" {
					parts[i] = name + "=" + mask
				}
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	prefix := u.Scheme + "://"
	return prefix + userinfo + strings.TrimPrefix(u.String(), prefix)
}

func redact(raw string) string {
	out := bearerPattern.ReplaceAllString(raw, "${1}"+mask)
	return queryKeyPattern.ReplaceAllString(out, "${1}"+mask)
}
