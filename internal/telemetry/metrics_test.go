package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ActiveRequests == nil {
		t.Error("ActiveRequests is nil")
	}
	if m.ProviderOpDuration == nil {
		t.Error("ProviderOpDuration is nil")
	}
	if m.ProviderOpResults == nil {
		t.Error("ProviderOpResults is nil")
	}
	if m.CacheOpsTotal == nil {
		t.Error("CacheOpsTotal is nil")
	}
	if m.RateLimitRejects == nil {
		t.Error("RateLimitRejects is nil")
	}
	if m.PurgeQueueLength == nil {
		t.Error("PurgeQueueLength is nil")
	}
	if m.PurgesDropped == nil {
		t.Error("PurgesDropped is nil")
	}

	// Verify metrics can be gathered without error.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "/v1/cache/{action}", "200").Inc()
	m.ProviderOpResults.WithLabelValues("fastcgi", "delete", "true").Inc()
	m.CacheOpsTotal.WithLabelValues("delete", "lifecycle", "true").Inc()
	m.ActiveRequests.Set(5)
	m.RequestDuration.WithLabelValues("POST", "/v1/cache/{action}").Observe(0.123)
	m.ProviderOpDuration.WithLabelValues("signal", "refresh").Observe(0.004)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"cachemgr_requests_total",
		"cachemgr_provider_op_results_total",
		"cachemgr_cache_ops_total",
		"cachemgr_active_requests",
		"cachemgr_request_duration_seconds",
		"cachemgr_provider_op_duration_seconds",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("sampler(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
