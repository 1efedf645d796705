package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are servers raced when the system resolver cannot find the relay,
// which happens on captive exam-hall networks with broken local DNS.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
}

// Resolver looks up hosts with the system resolver first and races public
// resolvers when that fails.
type Resolver struct {
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration
}

// NewResolver returns a Resolver using the built-in public server list.
func NewResolver() *Resolver {
	return &Resolver{
		Servers:      publicDNS,
		LocalTimeout: time.Second,
		RaceTimeout:  2 * time.Second,
	}
}

// Lookup resolves a hostname to a single IP address, preferring IPv4.
// Literal IPs are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ip, err := lookupWith(localCtx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}

	return r.race(ctx, host)
}

// DialContext dials addr after resolving its host through Lookup. It matches
// the signature websocket.Dialer.NetDialContext expects.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no fallback servers", host)
	}

	type result struct {
		ip  string
		err error
	}

	results := make(chan result, len(r.Servers))
	ctx, cancel := context.WithTimeout(ctx, r.RaceTimeout)
	defer cancel()

	for _, server := range r.Servers {
		go func(server string) {
			ip, err := lookupWith(ctx, pinnedResolver(server), host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("DNS lookup timed out during public DNS race")
		}
	}

	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

// pinnedResolver sends every query to server:53.
func pinnedResolver(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

func lookupWith(ctx context.Context, res *net.Resolver, host string) (string, error) {
	ips, err := res.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}

	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
