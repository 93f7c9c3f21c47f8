// Package urls normalizes and validates job source URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"

	schemeSep = "://"
)

// IsValid reports whether raw is an absolute http(s) URL with a host.
func IsValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// Normalize trims raw and adds an https scheme when none is given.
// Example: example.com/v/1 => https://example.com/v/1
// Unparseable input is returned trimmed so validation can reject it.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}

	if !strings.Contains(raw, schemeSep) {
		raw = schemeHTTPS + schemeSep + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.String()
}
