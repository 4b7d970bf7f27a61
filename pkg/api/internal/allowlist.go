package internal

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// ParsePrefixes parses CIDR blocks and bare addresses ("77.75.156.11") into prefixes.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid network %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", v, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Allowlist rejects requests whose client IP is outside the configured networks
type Allowlist struct {
	prefixes []netip.Prefix
	clientIP func(*http.Request) string
}

// NewAllowlist creates an allowlist; an empty prefix list allows every client
func NewAllowlist(prefixes []netip.Prefix, clientIP func(*http.Request) string) *Allowlist {
	if clientIP == nil {
		clientIP = RemoteIP
	}
	return &Allowlist{prefixes: prefixes, clientIP: clientIP}
}

// Contains reports whether ip falls inside any configured network
func (a *Allowlist) Contains(ip string) bool {
	if len(a.prefixes) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Middleware answers 403 for clients outside the allowlist
func (a *Allowlist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Contains(a.clientIP(r)) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
