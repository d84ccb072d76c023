package signal

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/dnscache"

	"github.com/eugener/cachemgr/internal/circuitbreaker"
	"github.com/eugener/cachemgr/internal/provider"
)

type seen struct {
	path   string
	host   string
	header http.Header
}

func recordingServer(t *testing.T, tls bool) (*httptest.Server, <-chan seen) {
	t.Helper()
	ch := make(chan seen, 4)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch <- seen{path: r.URL.Path, host: r.Host, header: r.Header.Clone()}
		// A slow response must not hold up the sender.
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	})
	var srv *httptest.Server
	if tls {
		srv = httptest.NewTLSServer(h)
	} else {
		srv = httptest.NewServer(h)
	}
	t.Cleanup(srv.Close)
	return srv, ch
}

func receive(t *testing.T, ch <-chan seen) seen {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("origin never received the signal")
		return seen{}
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()
	srv, ch := recordingServer(t, false)
	p := New(Config{}, nil)

	start := time.Now()
	if !p.Create(context.Background(), srv.URL+"/foo?x=1") {
		t.Fatal("Create = false")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Create waited %v for the response", elapsed)
	}

	got := receive(t, ch)
	if got.path != "/foo" {
		t.Errorf("path = %q, want /foo", got.path)
	}
	if got.header.Get(DefaultPurgeHeader) != "" {
		t.Error("Create must not send the purge header")
	}
	if got.header.Get("User-Agent") != DefaultUserAgent {
		t.Errorf("User-Agent = %q", got.header.Get("User-Agent"))
	}
}

func TestRefreshSendsPurgeHeader(t *testing.T) {
	t.Parallel()
	srv, ch := recordingServer(t, false)
	p := New(Config{}, nil)

	if !p.Refresh(context.Background(), srv.URL+"/bar") {
		t.Fatal("Refresh = false")
	}
	got := receive(t, ch)
	if got.header.Get("X-Nginx-Cache-Purge") != "1" {
		t.Errorf("purge header = %q, want 1", got.header.Get("X-Nginx-Cache-Purge"))
	}
}

func TestRefreshCustomHeader(t *testing.T) {
	t.Parallel()
	srv, ch := recordingServer(t, false)
	p := New(Config{PurgeHeader: "X-Purge", PurgeValue: "yes"}, nil)

	p.Refresh(context.Background(), srv.URL+"/")
	if got := receive(t, ch).header.Get("X-Purge"); got != "yes" {
		t.Errorf("X-Purge = %q, want yes", got)
	}
}

func TestOriginAddr(t *testing.T) {
	t.Parallel()
	srv, ch := recordingServer(t, false)
	p := New(Config{OriginAddr: srv.Listener.Addr().String()}, nil)

	if !p.Create(context.Background(), "http://example.com/foo") {
		t.Fatal("Create = false")
	}
	got := receive(t, ch)
	if got.host != "example.com" {
		t.Errorf("Host = %q, want example.com", got.host)
	}
}

func TestTLS(t *testing.T) {
	t.Parallel()
	srv, ch := recordingServer(t, true)

	insecure := New(Config{VerifyTLS: false}, nil)
	if !insecure.Create(context.Background(), srv.URL+"/secure") {
		t.Fatal("Create over TLS without verification = false")
	}
	if got := receive(t, ch); got.path != "/secure" {
		t.Errorf("path = %q", got.path)
	}

	strict := New(Config{VerifyTLS: true}, nil)
	if strict.Create(context.Background(), srv.URL+"/secure") {
		t.Error("Create against self-signed origin with verification = true")
	}
}

func TestTransportFailureReturnsFalse(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := New(Config{Timeout: 200 * time.Millisecond}, nil)
	if p.Create(context.Background(), "http://"+addr+"/foo") {
		t.Error("Create to closed port = true")
	}
	if p.Refresh(context.Background(), "::not-a-url") {
		t.Error("Refresh with bad url = true")
	}
}

func TestWithCachingDialer(t *testing.T) {
	t.Parallel()
	srv, ch := recordingServer(t, false)
	p := New(Config{}, provider.NewDialer(&dnscache.Resolver{}, time.Second))

	if !p.Create(context.Background(), srv.URL+"/cached") {
		t.Fatal("Create = false")
	}
	receive(t, ch)
}

func TestBreakerSkipsFailingOrigin(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	refuse := func(context.Context, string, string) (net.Conn, error) {
		dials.Add(1)
		return nil, &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureRate: 0.5, MinSamples: 2, Window: 4, Cooldown: time.Hour,
	})
	p := New(Config{Breakers: breakers}, refuse)

	for range 5 {
		if p.Create(context.Background(), "http://origin.test/foo") {
			t.Fatal("Create to refusing origin = true")
		}
	}
	if got := dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2 before the circuit opens", got)
	}
	if st := breakers.States()["origin.test:80"]; st != "open" {
		t.Errorf("breaker state = %q, want open", st)
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := New(Config{}, nil).Name(); got != "signal" {
		t.Errorf("Name = %q", got)
	}
}
