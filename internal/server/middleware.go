package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/ratelimit"
	"github.com/eugener/cachemgr/internal/telemetry"
)

// statusWriterPool eliminates 1 alloc/req from &statusWriter{} escaping to heap.
// Reset fields on Get, nil ResponseWriter on Put to avoid retaining references.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

var tracer = telemetry.Tracer("github.com/eugener/cachemgr/internal/server")

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeFail(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader uses the canonical MIME form so direct map access skips
// textproto.CanonicalMIMEHeaderKey.
const requestIDHeader = "X-Request-Id"

// requestID adds a UUID v7 request ID to the context and response header.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 && vals[0] != "" {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := pagecache.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrapStatus(w)
		defer sw.release()
		next.ServeHTTP(sw, r)
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", pagecache.RequestIDFromContext(r.Context())),
		}
		if id := pagecache.IdentityFromContext(r.Context()); id != nil {
			attrs = append(attrs, slog.String("subject", id.Subject))
		}
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request", attrs...)
	})
}

// tracing wraps each request in a server span named after its route pattern.
func (s *server) tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("request.id", pagecache.RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		sw := wrapStatus(w)
		defer sw.release()
		r = r.WithContext(ctx)
		next.ServeHTTP(sw, r)

		span.SetName(r.Method + " " + routePattern(r))
		span.SetAttributes(attribute.Int("http.response.status_code", sw.status))
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

// authenticate validates credentials and injects Identity into context.
// When requestMeta already exists in context (set by requestID middleware),
// the identity is stored by mutation -- no new context or request copy needed.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := pagecache.ContextWithIdentity(r.Context(), identity)
		if ctx == r.Context() {
			next.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// requirePerm rejects callers whose identity lacks p.
func requirePerm(p pagecache.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := pagecache.IdentityFromContext(r.Context())
			if id == nil || !id.Can(p) {
				writeFail(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limiterKey identifies the bucket owner of an identity.
func limiterKey(id *pagecache.Identity) string {
	if id.TokenID != "" {
		return id.TokenID
	}
	return id.Subject
}

// limitsFor returns the effective limits of id.
func (s *server) limitsFor(id *pagecache.Identity) ratelimit.Limits {
	l := ratelimit.Limits{RPM: s.deps.Limits.RPM, Actions: s.deps.Limits.Actions}
	if id.RPMLimit > 0 {
		l.RPM = id.RPMLimit
	}
	return l
}

// rateLimit enforces the per-token request rate.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		id := pagecache.IdentityFromContext(r.Context())
		if id == nil {
			next.ServeHTTP(w, r)
			return
		}
		res := s.deps.RateLimiter.GetOrCreate(limiterKey(id), s.limitsFor(id)).AllowRPM()
		if !res.Allowed {
			s.rejectRateLimited(w, "rpm", res)
			return
		}
		if res.Limit > 0 {
			w.Header().Set("X-Ratelimit-Limit-Requests", strconv.FormatInt(res.Limit, 10))
			w.Header().Set("X-Ratelimit-Remaining-Requests", strconv.FormatInt(res.Remaining, 10))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) rejectRateLimited(w http.ResponseWriter, kind string, res ratelimit.Result) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RateLimitRejects.WithLabelValues(kind).Inc()
	}
	if res.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfterSeconds))))
	}
	writeFail(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
// WriteHeader records only the first status code; subsequent calls are
// forwarded to the underlying writer but do not update the captured value.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter, allowing http.ResponseController
// and similar utilities to find interface implementations.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// wrapStatus takes a statusWriter from the pool, defaulting to 200.
func wrapStatus(w http.ResponseWriter) *statusWriter {
	sw := statusWriterPool.Get().(*statusWriter)
	sw.ResponseWriter = w
	sw.status = http.StatusOK
	sw.wroteHeader = false
	return sw
}

// release drops the wrapped writer and returns sw to the pool.
func (sw *statusWriter) release() {
	sw.ResponseWriter = nil
	statusWriterPool.Put(sw)
}
