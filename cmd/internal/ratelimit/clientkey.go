package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientKey identifies the caller of r.
//
// With trustProxy, the first X-Forwarded-For entry is used if it is an IP
// literal, then X-Real-IP. Otherwise, or when neither header holds an IP,
// the transport peer address is used.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
