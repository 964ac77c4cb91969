package connection

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
)

// Resolver turns a user supplied server address into a dialable host:port.
type Resolver interface {
	Resolve(ctx context.Context, address string) (string, error)
}

// NetResolver resolves host names through the system resolver and appends
// the default port when the address carries none.
type NetResolver struct {
	DefaultPort int
	Lookup      func(ctx context.Context, host string) ([]string, error)
}

// NewNetResolver builds a resolver backed by net.DefaultResolver.
func NewNetResolver(defaultPort int) *NetResolver {
	return &NetResolver{DefaultPort: defaultPort, Lookup: net.DefaultResolver.LookupHost}
}

// Resolve implements Resolver.
func (r *NetResolver) Resolve(ctx context.Context, address string) (string, error) {
	host, port, err := SplitAddress(address, r.DefaultPort)
	if err != nil {
		return "", err
	}
	//1.- Literal IPs need no lookup.
	if ip := net.ParseIP(host); ip != nil {
		return net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
	}
	lookup := r.Lookup
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	//2.- Prefer the first address the resolver returns.
	addrs, err := lookup(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", errors.New("host has no addresses")
	}
	return net.JoinHostPort(addrs[0], strconv.Itoa(port)), nil
}

// SplitAddress separates host and port, applying defaultPort when absent.
func SplitAddress(address string, defaultPort int) (string, int, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", 0, errors.New("address must not be empty")
	}
	host, rawPort, err := net.SplitHostPort(trimmed)
	if err != nil {
		//1.- No port: the whole string is the host, brackets stripped for IPv6.
		host = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
		return host, defaultPort, nil
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, errors.New("invalid port " + strconv.Quote(rawPort))
	}
	if host == "" {
		return "", 0, errors.New("address has no host")
	}
	return host, port, nil
}
