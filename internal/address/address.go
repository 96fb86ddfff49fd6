package address

import (
	"net"
	"strings"
)

const DefaultHost = "0.0.0.0"

// Normalize fills in the default host if only the port is given.
func Normalize(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return DefaultHost + addr
	}

	return addr
}

// IsLocalhost reports whether the address points at the local machine.
func IsLocalhost(addr string) bool {
	host := Host(addr)
	if strings.EqualFold(host, "localhost") {
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Host strips the port, if any.
func Host(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}
