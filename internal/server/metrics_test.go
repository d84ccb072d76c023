package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eugener/cachemgr/internal/ratelimit"
	"github.com/eugener/cachemgr/internal/telemetry"
	"github.com/eugener/cachemgr/internal/testutil"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	metrics := telemetry.NewMetrics(reg)
	env := newTestEnv(t, testutil.FakeAuth{}, func(d *Deps) {
		d.Metrics = metrics
		d.Gatherer = reg
	})

	// Hit a normal endpoint first to generate metrics.
	if rec := env.do(http.MethodGet, "/v1/capabilities", ""); rec.Code != http.StatusOK {
		t.Fatalf("capabilities: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	// Now check /metrics.
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "cachemgr_requests_total") {
		t.Error("metrics should contain cachemgr_requests_total")
	}
	if !strings.Contains(body, `path="/v1/capabilities"`) {
		t.Error("metrics should label requests by route pattern")
	}
}

func TestMetricsMiddleware_IncrementsCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	metrics := telemetry.NewMetrics(reg)
	env := newTestEnv(t, testutil.FakeAuth{}, func(d *Deps) { d.Metrics = metrics })

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, f := range families {
		if f.GetName() != "cachemgr_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" && l.GetValue() == "/healthz" {
					found = true
					if m.GetCounter().GetValue() != 3 {
						t.Errorf("requests_total for /healthz = %f, want 3", m.GetCounter().GetValue())
					}
				}
			}
		}
	}
	if !found {
		t.Error("cachemgr_requests_total for /healthz not found")
	}
}

func TestRateLimitRejectMetric(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	metrics := telemetry.NewMetrics(reg)
	env := newTestEnv(t, testutil.FakeAuth{}, func(d *Deps) {
		d.Metrics = metrics
		d.RateLimiter = ratelimit.NewRegistry()
		d.Limits.RPM = 1
	})

	env.do(http.MethodGet, "/v1/capabilities", "")
	if rec := env.do(http.MethodGet, "/v1/capabilities", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var got float64
	for _, f := range families {
		if f.GetName() != "cachemgr_ratelimit_rejects_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "type" && l.GetValue() == "rpm" {
					got = m.GetCounter().GetValue()
				}
			}
		}
	}
	if got != 1 {
		t.Errorf("ratelimit_rejects_total{type=rpm} = %f, want 1", got)
	}
}
