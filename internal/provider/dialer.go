package provider

import (
	"context"
	"net"
	"time"

	"github.com/rs/dnscache"
)

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// NewDialer returns a DialFunc bounded by timeout (zero means no limit) that
// resolves hosts through resolver when it is non-nil. Only the first resolved
// address is tried; signals are best effort.
func NewDialer(resolver *dnscache.Resolver, timeout time.Duration) DialFunc {
	d := &net.Dialer{Timeout: timeout}
	if resolver == nil {
		return d.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
	}
}
