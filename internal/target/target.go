// Package target decides whether a relay target URL points at loopback or
// private (RFC1918) address space.
//
// The same predicate runs on the server before a command is dispatched and on
// the agent before the fetch is performed. Both sides must import this package
// rather than re-implementing the rules.
package target

import (
	"net/netip"
	"net/url"
	"strings"
)

var allowedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
}

// IsAllowed reports whether rawURL is an http(s) URL whose host is lexically
// localhost, a loopback literal or a private-range IPv4 literal. Hostnames are
// never resolved. Malformed input is rejected.
func IsAllowed(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	return IsAllowedHost(u.Hostname())
}

// IsAllowedHost applies the host part of IsAllowed to a bare hostname or IP
// literal (without port or brackets).
func IsAllowedHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	if addr.Zone() != "" {
		return false
	}
	addr = addr.Unmap()
	for _, p := range allowedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
