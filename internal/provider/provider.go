// Package provider identifies which LLM API a captured exchange talked to.
// Detection is by host only; content extraction stays shape-driven so that
// records merge correctly even when detection fails.
package provider

import (
	"net/url"
	"strings"
)

// Provider identifies one LLM API by its hosts.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string

	// DetectHost returns true when this provider handles the given host.
	DetectHost(host string) bool
}

// MatchDomainSuffix reports whether host (with optional :port) matches the
// given domain suffix. It performs case-insensitive comparison and requires
// an exact match or a subdomain boundary (dot-separated).
//
// Examples:
//
//	MatchDomainSuffix("api.anthropic.com", "anthropic.com")   => true
//	MatchDomainSuffix("anthropic.com:443", "anthropic.com")   => true
//	MatchDomainSuffix("misanthropic.com",  "anthropic.com")   => false
func MatchDomainSuffix(host, suffix string) bool {
	// Strip port if present
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}

	host = strings.ToLower(host)
	suffix = strings.ToLower(suffix)

	if host == suffix {
		return true
	}

	// Must end with "."+suffix to be a subdomain match
	return strings.HasSuffix(host, "."+suffix)
}

// HostFromURL extracts the host portion of a captured URL. Unparseable
// URLs yield an empty host, which no provider matches.
func HostFromURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Host
}
