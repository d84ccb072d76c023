package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/app"
	"github.com/eugener/cachemgr/internal/provider"
)

// pageRequest builds the page description from query parameters.
func pageRequest(r *http.Request) (app.PageRequest, bool) {
	q := r.URL.Query()
	req := app.PageRequest{
		Path:   q.Get("path"),
		Screen: q.Get("screen"),
		Action: q.Get("action"),
		URL:    q.Get("url"),
		Secure: r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	}
	if raw := q.Get("content_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, false
		}
		req.ContentID = id
	}
	return req, true
}

func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	req, ok := pageRequest(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid content_id")
		return
	}
	page, err := s.deps.Coordinator.Bind(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeFail(w, http.StatusBadRequest, "url is required")
		return
	}
	st, err := s.deps.Coordinator.Status(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type capabilitiesResponse struct {
	State        string                  `json:"state"`
	Capabilities []string                `json:"capabilities"`
	Providers    []provider.ProviderInfo `json:"providers"`
}

func (s *server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	c := s.deps.Coordinator
	writeJSON(w, http.StatusOK, capabilitiesResponse{
		State:        c.State().String(),
		Capabilities: c.Cache().Capabilities().List(),
		Providers:    c.Cache().Providers(),
	})
}

type cacheActionRequest struct {
	Path string `json:"path"`
}

type cacheActionResponse struct {
	Action  pagecache.Action `json:"action"`
	Path    string           `json:"path,omitempty"`
	Success bool             `json:"success"`
}

// flushWeight is the action-bucket cost of a full flush.
const flushWeight = 10

func (s *server) handleCacheAction(w http.ResponseWriter, r *http.Request) {
	action, ok := pagecache.ParseAction(chi.URLParam(r, "action"))
	if !ok {
		writeFail(w, http.StatusNotFound, "unknown cache action")
		return
	}
	var req cacheActionRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if req.Path == "" {
		req.Path = r.URL.Query().Get("path")
	}

	id := pagecache.IdentityFromContext(r.Context())
	weight := int64(1)
	reserved := false
	if action == pagecache.ActionFlush {
		if !id.Can(pagecache.PermFlushAll) {
			writeFail(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		weight = flushWeight
		if s.deps.Quota != nil {
			if !s.deps.Quota.Reserve(id.Subject, s.deps.Limits.FlushPerDay) {
				if s.deps.Metrics != nil {
					s.deps.Metrics.RateLimitRejects.WithLabelValues("flush_quota").Inc()
				}
				writeFail(w, http.StatusTooManyRequests, "daily flush quota exceeded")
				return
			}
			reserved = true
			defer func() {
				if reserved {
					s.deps.Quota.Release(id.Subject)
				}
			}()
		}
	}
	if s.deps.RateLimiter != nil {
		res := s.deps.RateLimiter.GetOrCreate(limiterKey(id), s.limitsFor(id)).AllowAction(weight)
		if !res.Allowed {
			s.rejectRateLimited(w, "actions", res)
			return
		}
	}

	done, err := s.deps.Coordinator.Perform(r.Context(), action, req.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reserved && done {
		s.deps.Quota.Commit(id.Subject)
		reserved = false
	}
	resp := cacheActionResponse{Action: action, Success: done}
	if action != pagecache.ActionFlush {
		resp.Path = req.Path
	}
	writeJSON(w, http.StatusOK, resp)
}
