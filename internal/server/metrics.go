package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/cachemgr/internal/telemetry"
)

// statusLabels holds the label value of every status code so the hot path
// never formats an integer.
var statusLabels = func() (out [600]string) {
	for code := range out {
		out[code] = strconv.Itoa(code)
	}
	return out
}()

func statusLabel(code int) string {
	if code < 0 || code >= len(statusLabels) {
		return strconv.Itoa(code)
	}
	return statusLabels[code]
}

// metricsMiddleware counts requests per route and status, observes their
// latency and tracks how many are in flight.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			sw := wrapStatus(w)
			defer sw.release()

			start := time.Now()
			next.ServeHTTP(sw, r)
			took := time.Since(start).Seconds()

			route := routePattern(r)
			m.RequestsTotal.WithLabelValues(r.Method, route, statusLabel(sw.status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(took)
		})
	}
}

// routePattern returns the matched chi pattern (e.g. /v1/cache/{action}),
// or the raw path when no route matched.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
