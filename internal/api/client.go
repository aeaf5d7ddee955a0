package api

import (
	"net"
	"net/http"
	"strings"
)

const headerForwardedFor = "X-Forwarded-For"

// clientAddr resolves the caller address for logs: first X-Forwarded-For hop,
// then the connection's remote host.
func clientAddr(req *http.Request) string {
	if ip := parseForwardedIP(req.Header.Get(headerForwardedFor)); ip != "" {
		return ip
	}
	return parseRemoteIP(req.RemoteAddr)
}

func parseForwardedIP(value string) string {
	if value == "" {
		return ""
	}
	first, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(first)
}

func parseRemoteIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}
	return remoteAddr
}
