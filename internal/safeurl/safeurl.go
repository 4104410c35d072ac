// Package safeurl validates upstream provider and EPG URLs before this
// relay ever dials them, rejecting non-http(s) schemes and hostnames
// that can't be normalized to ASCII. Host normalization is ported from
// ManuGH-xg2g's internal/platform/net.NormalizeHost.
package safeurl

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https
// and a hostname that normalizes cleanly. Used to reject file://, ftp://,
// and other schemes that could lead to SSRF or local file access, and to
// reject unresolvable/homograph hostnames before they're ever dialed.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if s := parsed.Scheme; s != "http" && s != "https" {
		return false
	}
	if parsed.Hostname() == "" {
		return false
	}
	_, err = NormalizeHost(parsed.Hostname())
	return err == nil
}

// NormalizeHost lowercases and IDNA-normalizes a bare hostname (no
// scheme, path, userinfo or port), matching the ManuGH-xg2g
// NormalizeHost contract this is ported from.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", errEmptyHost
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", errEmptyHost
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

var errEmptyHost = &hostError{"host is empty"}

type hostError struct{ msg string }

func (e *hostError) Error() string { return e.msg }
