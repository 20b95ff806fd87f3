package model

import (
	"net/url"
	"net"
	"strings"
)

// ValidAccountHash reports whether s is an acceptable opaque tenant
// identifier: at least 8 characters.
func ValidAccountHash(s string) bool {
	return len(s) >= 8
}

// ValidDownloadURL reports whether raw is an HTTPS URL whose host is a
// literal apple.com subdomain, not a bare IP address.
func ValidDownloadURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return false
	}
	return strings.HasSuffix(host, ".apple.com")
}
