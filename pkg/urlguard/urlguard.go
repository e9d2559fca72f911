// Package urlguard validates externally supplied target URLs against
// protocol and private-network policy before any outbound call is built.
// It is the SSRF perimeter: only http/https schemes pass, and hostnames
// resolving into private or internal ranges are rejected, with an explicit
// development exception for loopback.
package urlguard

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// privateBlocks are the IPv4/IPv6 ranges classified as internal.
// Loopback is intentionally absent; it is handled by the development
// exception, which is checked before these rules.
var privateBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"255.0.0.0/8",
	"fc00::/7",  // unique-local
	"fe80::/10", // link-local
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("urlguard: bad cidr %s: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// Guard validates target URLs. The zero value uses the system resolver;
// tests inject Resolver to avoid DNS.
type Guard struct {
	// Resolver maps a hostname to addresses. Defaults to net.LookupHost.
	Resolver func(host string) ([]string, error)
}

// New returns a Guard using the system resolver.
func New() *Guard {
	return &Guard{}
}

// Validate accepts only http/https URLs whose host does not land in a
// private or internal range. The returned error carries the human-readable
// policy reason.
func (g *Guard) Validate(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		if scheme == "" {
			return fmt.Errorf("missing protocol, only http and https are allowed")
		}
		return fmt.Errorf("protocol %q is not allowed, only http and https", scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}

	// Development exception, checked before the private-range rules.
	if isLocalhostName(host) {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(host, ip)
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.LookupHost
	}
	addrs, err := resolver(host)
	if err != nil {
		return fmt.Errorf("host %q did not resolve: %v", host, err)
	}
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		if err := g.checkIP(host, ip); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) checkIP(host string, ip net.IP) error {
	if ip.IsLoopback() {
		// 127.0.0.0/8 and ::1 are explicitly allowed for development.
		return nil
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return fmt.Errorf("host %q resolves to private address %s (%s)", host, ip, block)
		}
	}
	return nil
}

func isLocalhostName(host string) bool {
	h := strings.ToLower(host)
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}

// IsPrivateIP classifies a single address string against the private-range
// policy. Loopback returns false: the development exception applies before
// the general rule.
func IsPrivateIP(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return false
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
