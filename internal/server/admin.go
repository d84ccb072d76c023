package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/app"
)

// --- Purge log ---

func (s *server) handleListPurges(w http.ResponseWriter, r *http.Request) {
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := pagecache.PurgeFilter{
		Trigger: pagecache.Trigger(q.Get("trigger")),
		URL:     q.Get("url"),
		Subject: q.Get("subject"),
		Since:   since,
		Until:   until,
	}
	if raw := q.Get("action"); raw != "" {
		a, ok := pagecache.ParseAction(raw)
		if !ok {
			writeFail(w, http.StatusBadRequest, "invalid action")
			return
		}
		f.Action = a
	}
	switch f.Trigger {
	case "", pagecache.TriggerAction, pagecache.TriggerLifecycle:
	default:
		writeFail(w, http.StatusBadRequest, "invalid trigger")
		return
	}
	f.Offset, f.Limit = parsePagination(r)

	events, err := s.deps.Store.ListPurges(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, _ := s.deps.Store.CountPurges(r.Context(), f)
	if events == nil {
		events = []pagecache.PurgeEvent{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       events,
		Pagination: pagination{Offset: f.Offset, Limit: f.Limit, Total: total},
	})
}

// --- Tokens ---

// tokenCreateRequest is the payload for creating a new admin token.
type tokenCreateRequest struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	RPMLimit *int64 `json:"rpm_limit"`
}

// tokenCreateResponse includes the plaintext token (shown only once).
type tokenCreateResponse struct {
	*pagecache.Token
	Plaintext string `json:"token"`
}

type tokenUpdateRequest struct {
	Blocked *bool `json:"blocked"`
}

func (s *server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	tokens, err := s.deps.Tokens.ListTokens(r.Context(), offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []*pagecache.Token{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       tokens,
		Pagination: pagination{Offset: offset, Limit: limit, Total: len(tokens)},
	})
}

func (s *server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeFail(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.RPMLimit != nil && *req.RPMLimit < 0 {
		writeFail(w, http.StatusBadRequest, "rpm_limit must not be negative")
		return
	}
	plaintext, tok, err := s.deps.Tokens.CreateToken(r.Context(), app.CreateTokenOpts{
		Name:     req.Name,
		Role:     req.Role,
		RPMLimit: req.RPMLimit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/tokens/"+tok.ID)
	writeJSON(w, http.StatusCreated, tokenCreateResponse{Token: tok, Plaintext: plaintext})
}

func (s *server) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Blocked == nil {
		writeFail(w, http.StatusBadRequest, "blocked is required")
		return
	}
	id := chi.URLParam(r, "id")
	if caller := pagecache.IdentityFromContext(r.Context()); caller.TokenID == id && *req.Blocked {
		writeFail(w, http.StatusBadRequest, "cannot block the calling token")
		return
	}
	tok, err := s.deps.Tokens.SetBlocked(r.Context(), id, *req.Blocked)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tokens.DeleteToken(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
