// Package urlvalidation guards outbound delivery targets against SSRF.
// Sink URLs are attacker-controlled input; anything that resolves into a
// private or reserved range must be rejected before the service connects.
package urlvalidation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Option configures URL validation behavior.
type Option func(*validationConfig)

type validationConfig struct {
	allowPrivate bool
}

// AllowPrivateIPs disables the private IP check. Use only in tests.
func AllowPrivateIPs() Option {
	return func(c *validationConfig) {
		c.allowPrivate = true
	}
}

// reservedNets covers every range that must never receive an outbound
// delivery.
var reservedNets = mustCIDRs(
	// RFC 1918 private ranges.
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	// Loopback and link-local, v4 and v6.
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fe80::/10",
	// IPv6 unique local.
	"fc00::/7",
	// Shared address space (CGN), "this" network, broadcast.
	"100.64.0.0/10",
	"0.0.0.0/8",
	"255.255.255.255/32",
	// IETF protocol assignments, test nets, benchmarking.
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"198.18.0.0/15",
	// Multicast and reserved.
	"224.0.0.0/4",
	"240.0.0.0/4",
)

// ValidateWebhookURL checks that a URL is safe to receive event deliveries.
// It rejects non-HTTP schemes and hostnames resolving to private or reserved
// IPs.
func ValidateWebhookURL(rawURL string, opts ...Option) error {
	var cfg validationConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return fmt.Errorf("URL scheme %q not allowed; use http or https", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	// Resolve the hostname to check for private IPs.
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve hostname %q: %w", host, err)
	}

	if !cfg.allowPrivate {
		for _, ipStr := range ips {
			ip := net.ParseIP(ipStr)
			if ip == nil {
				continue
			}
			if isPrivateIP(ip) {
				return fmt.Errorf("URL resolves to private/reserved IP %s", ipStr)
			}
		}
	}

	return nil
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range reservedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, s := range cidrs {
		_, network, err := net.ParseCIDR(s)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", s, err))
		}
		nets = append(nets, network)
	}
	return nets
}
