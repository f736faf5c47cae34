// Package security holds origin normalization and the guards applied to
// page-supplied data and outbound RPC traffic.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"yakkl-background/internal/domain"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain reduces an origin, URL or bare host to the canonical form
// used as a connection key: lowercase hostname without port, trailing dot or
// leading "www.". Hosts that are themselves public suffixes are rejected.
func NormalizeDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrInvalidDomain
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidDomain, err)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", domain.ErrInvalidDomain
	}

	if host == "localhost" || net.ParseIP(host) != nil {
		return host, nil
	}

	if strings.ContainsAny(host, " /\\@") {
		return "", domain.ErrInvalidDomain
	}

	suffix, _ := publicsuffix.PublicSuffix(host)
	if suffix == host {
		return "", fmt.Errorf("%w: %q is a public suffix", domain.ErrInvalidDomain, host)
	}

	return host, nil
}

// RegistrableDomain returns the eTLD+1 of a normalized host, or the host
// itself for localhost and IP addresses.
func RegistrableDomain(host string) string {
	if host == "localhost" || net.ParseIP(host) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}
