package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is the bucket shared by every request that carries no
// client-identifying header.
const UnknownClient = "unknown"

// ClientKey derives the limiter key for r: the first X-Forwarded-For hop,
// else X-Real-IP, else UnknownClient. The remote address is not consulted.
func ClientKey(r *http.Request) string {
	return KeyFrom(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"))
}

// KeyFrom is ClientKey over raw header values, for transports that are not
// net/http.
func KeyFrom(forwardedFor, realIP string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP = strings.TrimSpace(realIP); realIP != "" {
		return realIP
	}
	return UnknownClient
}

// HostOnly strips the port from a host:port peer address.
func HostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
