package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PublicDNS are servers queried when the system resolver cannot resolve the
// signaling host.
var PublicDNS = []string{
	"1.1.1.1",         // Cloudflare
	"1.0.0.1",         // Cloudflare
	"8.8.8.8",         // Google
	"8.8.4.4",         // Google
	"9.9.9.9",         // Quad9
	"149.112.112.112", // Quad9
}

// Resolver turns a host name into a dialable IP address.
type Resolver interface {
	Lookup(ctx context.Context, host string) (string, error)
}

// FallbackResolver tries the system resolver first and races the public
// servers when that fails.
type FallbackResolver struct {
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration
}

// DefaultResolver is used by clients that do not set their own.
var DefaultResolver Resolver = &FallbackResolver{
	Servers:      PublicDNS,
	LocalTimeout: time.Second,
	RaceTimeout:  2 * time.Second,
}

// Lookup implements Resolver. IP literals are returned as is.
func (r *FallbackResolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ip, err := lookupWith(localCtx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}
	if len(r.Servers) == 0 {
		return "", WrapError("resolve", ErrDNSUnavailable, host)
	}
	return r.race(ctx, host)
}

// race queries every public server at once and keeps the first answer.
func (r *FallbackResolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.RaceTimeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ip, err := lookupWith(ctx, viaServer(server), host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", WrapError("resolve", ErrDNSUnavailable, fmt.Sprintf("%s: %v", host, ctx.Err()))
		}
	}
	return "", WrapError("resolve", ErrDNSUnavailable, fmt.Sprintf("%s: all %d servers failed", host, len(r.Servers)))
}

func viaServer(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

// lookupWith resolves host and prefers an IPv4 answer.
func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no addresses returned")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
