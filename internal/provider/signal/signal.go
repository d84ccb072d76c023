// Package signal implements a cache provider that populates and purges
// pages by firing a GET request at the origin cache and hanging up without
// reading the response.
package signal

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/circuitbreaker"
	"github.com/eugener/cachemgr/internal/provider"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultTimeout     = time.Second
	DefaultPurgeHeader = "X-Nginx-Cache-Purge"
	DefaultPurgeValue  = "1"
	DefaultUserAgent   = "cachemgr-signal"
)

// Config controls signal dispatch.
type Config struct {
	Timeout     time.Duration // bounds dial, handshake and write
	VerifyTLS   bool
	PurgeHeader string
	PurgeValue  string
	// OriginAddr, if set, is dialed instead of the URL's host (host:port).
	OriginAddr string
	UserAgent  string
	// Breakers, if set, skips signals to origins that keep failing.
	Breakers *circuitbreaker.Registry
}

// Provider is a Creatable and Refreshable cache provider.
type Provider struct {
	cfg  Config
	dial provider.DialFunc
}

var (
	_ pagecache.Creator   = (*Provider)(nil)
	_ pagecache.Refresher = (*Provider)(nil)
)

// New returns a signal Provider. A nil dial uses a plain net.Dialer.
func New(cfg Config, dial provider.DialFunc) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PurgeHeader == "" {
		cfg.PurgeHeader = DefaultPurgeHeader
	}
	if cfg.PurgeValue == "" {
		cfg.PurgeValue = DefaultPurgeValue
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if dial == nil {
		dial = provider.NewDialer(nil, cfg.Timeout)
	}
	return &Provider{cfg: cfg, dial: dial}
}

// Name returns "signal".
func (p *Provider) Name() string { return "signal" }

// Create requests u so the origin cache stores it.
func (p *Provider) Create(ctx context.Context, u string) bool {
	return p.fire(ctx, u, nil)
}

// Refresh requests u with the purge header so the origin cache discards
// and re-fetches it.
func (p *Provider) Refresh(ctx context.Context, u string) bool {
	return p.fire(ctx, u, http.Header{p.cfg.PurgeHeader: {p.cfg.PurgeValue}})
}

// fire reports whether the request bytes were written. The response is
// never read.
func (p *Provider) fire(ctx context.Context, raw string, extra http.Header) bool {
	target, err := url.Parse(raw)
	if err != nil || target.Host == "" {
		slog.Warn("signal: bad url", "url", raw, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	addr := p.cfg.OriginAddr
	if addr == "" {
		addr = hostPort(target)
	}
	var breaker *circuitbreaker.Breaker
	if p.cfg.Breakers != nil {
		breaker = p.cfg.Breakers.For(addr)
		if !breaker.Allow() {
			slog.Debug("signal: origin circuit open, skipped", "url", raw, "addr", addr)
			return false
		}
	}

	err = p.send(ctx, target, addr, extra)
	if breaker != nil {
		breaker.Record(circuitbreaker.ClassifyError(err))
	}
	if err != nil {
		slog.Warn("signal: send failed", "url", raw, "addr", addr, "error", err)
		return false
	}
	slog.Debug("signal sent", "url", raw, "purge", extra != nil)
	return true
}

// send dials addr and writes the request for target. The response is never
// read.
func (p *Provider) send(ctx context.Context, target *url.URL, addr string, extra http.Header) error {
	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if target.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         target.Hostname(),
			InsecureSkipVerify: !p.cfg.VerifyTLS, //nolint:gosec // configurable for self-signed origins
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Connection", "close")
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if err := req.Write(conn); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}
