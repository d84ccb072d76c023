package server

import "net/http"

// Pre-allocated response body and header value slice.
// okBody avoids a []byte("ok") heap escape per call.
// plainCT avoids the []string{v} alloc from Header.Set (see respond.go:jsonCT).
var (
	okBody          = []byte("ok")
	notReadyBody    = []byte("not ready")
	noProvidersBody = []byte("no cache providers registered")
	plainCT         = []string{"text/plain"}
)

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

// handleReadyz fails until at least one cache provider is registered and the
// store answers.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header()["Content-Type"] = plainCT
	if s.deps.Coordinator != nil && s.deps.Coordinator.Cache().Len() == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write(noProvidersBody)
		return
	}
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(notReadyBody)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}
