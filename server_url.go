package main

import (
	"net"
	"strings"
)

// diagnosticsTarget returns the gRPC target a local operator dials to reach a
// diagnostics listener bound to address.
func diagnosticsTarget(address string) string {
	return "dns:///" + normaliseHostPort(address)
}

// normaliseHostPort turns wildcard listen addresses into a reachable host:port.
func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
