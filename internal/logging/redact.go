package logging

import (
	"regexp"
	"strings"
)

var (
	// key=value and key: value credentials, quoted or not.
	credentialPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|api[_-]?secret|access[_-]?token|request[_-]?token|password)(["']?\s*[=:]\s*["']?)([^\s"'&,;]+)`)
	// Kite's "Authorization: token api_key:access_token" header.
	kiteAuthPattern = regexp.MustCompile(`(?i)(token\s+)([A-Za-z0-9]+):([A-Za-z0-9]+)`)
)

// MaskSecret hides all but the ends of a credential.
func MaskSecret(value string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= 4:
		return strings.Repeat("*", len(value))
	case len(value) <= 8:
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks credentials embedded in free text such as error messages.
func Redact(s string) string {
	s = credentialPattern.ReplaceAllStringFunc(s, func(m string) string {
		g := credentialPattern.FindStringSubmatch(m)
		return g[1] + g[2] + MaskSecret(g[3])
	})
	return kiteAuthPattern.ReplaceAllStringFunc(s, func(m string) string {
		g := kiteAuthPattern.FindStringSubmatch(m)
		return g[1] + MaskSecret(g[2]) + ":" + MaskSecret(g[3])
	})
}
