package auth

import (
	"net"
	"net/http"
	"strings"
)

// normalizeIP strips brackets, zone identifiers, and a trailing port,
// then folds IPv4-mapped IPv6 (`::ffff:a.b.c.d`) down to its IPv4 form
// so allow-list comparisons happen on a single canonical representation
// (§4.F.3).
func normalizeIP(raw string) net.IP {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "]"); end != -1 {
			s = s[1:end]
		}
	} else if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	if zoneIdx := strings.Index(s, "%"); zoneIdx != -1 {
		s = s[:zoneIdx]
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// matchesAllowlist reports whether ip satisfies any verbatim-IP or
// CIDR entry in list. An empty list means unrestricted.
func matchesAllowlist(ip net.IP, list []string) bool {
	if len(list) == 0 {
		return true
	}
	if ip == nil {
		return false
	}
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if candidate := normalizeIP(entry); candidate != nil && candidate.Equal(ip) {
			return true
		}
	}
	return false
}

// ClientIP exposes clientIP to other packages (the gateway's
// suspicious-path flood log keys on the same resolved address the
// auth pipeline itself uses).
func ClientIP(header http.Header, socketRemoteAddr string, trustedProxy bool) net.IP {
	return clientIP(header, socketRemoteAddr, trustedProxy)
}

// clientIP resolves the address to authenticate against: when
// trustedProxy is set, the left-most X-Forwarded-For entry or RFC-7239
// `Forwarded: for=` value; otherwise the raw socket peer address
// (§4.F.3).
func clientIP(header http.Header, socketRemoteAddr string, trustedProxy bool) net.IP {
	if trustedProxy {
		if xff := header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := normalizeIP(parts[0]); ip != nil {
				return ip
			}
		}
		if fwd := header.Get("Forwarded"); fwd != "" {
			for _, directive := range strings.Split(fwd, ";") {
				directive = strings.TrimSpace(directive)
				if strings.HasPrefix(strings.ToLower(directive), "for=") {
					val := directive[len("for="):]
					val = strings.Trim(val, `"`)
					if ip := normalizeIP(val); ip != nil {
						return ip
					}
				}
			}
		}
	}
	return normalizeIP(socketRemoteAddr)
}
