package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/app"
)

func contentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeFail(w, http.StatusBadRequest, "invalid content id")
		return 0, false
	}
	return id, true
}

func (s *server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}
	item, err := s.deps.Store.GetContent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type contentRequest struct {
	Type      string                  `json:"type"`
	Permalink string                  `json:"permalink"`
	Status    pagecache.ContentStatus `json:"status"`
}

type contentResponse struct {
	*pagecache.Content
	Invalidated bool `json:"invalidated"`
}

func (s *server) handlePutContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Permalink == "" {
		writeFail(w, http.StatusBadRequest, "permalink is required")
		return
	}
	if !req.Status.Valid() {
		writeFail(w, http.StatusBadRequest, "invalid status")
		return
	}
	if req.Type == "" {
		req.Type = "post"
	}
	if _, err := s.deps.Store.GetContentType(r.Context(), req.Type); err != nil {
		if errorStatus(err) == http.StatusNotFound {
			writeFail(w, http.StatusBadRequest, "unknown content type")
			return
		}
		writeError(w, r, err)
		return
	}

	item := &pagecache.Content{ID: id, Type: req.Type, Permalink: req.Permalink, Status: req.Status}
	invalidated, err := s.deps.Coordinator.SaveContent(r.Context(), item)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse{Content: item, Invalidated: invalidated})
}

// handleDeleteContent treats removal as a move to trash before dropping the
// catalog entry.
func (s *server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	id, ok := contentID(w, r)
	if !ok {
		return
	}
	item, err := s.deps.Store.GetContent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.deps.Coordinator.OnContentTransition(r.Context(), pagecache.StatusTrash, item.Status,
		app.ContentRef{ID: item.ID, Permalink: item.Permalink}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Store.DeleteContent(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListContentTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.deps.Store.ListContentTypes(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if types == nil {
		types = []*pagecache.ContentType{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       types,
		Pagination: pagination{Offset: 0, Limit: len(types), Total: len(types)},
	})
}

type contentTypeRequest struct {
	Public bool `json:"public"`
}

func (s *server) handlePutContentType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeFail(w, http.StatusBadRequest, "name is required")
		return
	}
	var req contentTypeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ct := &pagecache.ContentType{Name: name, Public: req.Public}
	if err := s.deps.Store.PutContentType(r.Context(), ct); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ct)
}

type transitionResponse struct {
	ContentID   int64  `json:"content_id,omitempty"`
	Invalidated bool   `json:"invalidated"`
	NewStatus   string `json:"new_status"`
	OldStatus   string `json:"old_status"`
}

// handleTransitionHook accepts status change notifications from the CMS.
// Both the flat form and a nested "post" object are understood:
//
//	{"new_status":"draft","old_status":"publish","content_id":12,"permalink":"/a/"}
//	{"new_status":"draft","old_status":"publish","post":{"ID":12,"permalink":"/a/"}}
//
// When old_status is omitted the stored status of the content is used.
func (s *server) handleTransitionHook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil || !gjson.ValidBytes(body) {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	newStatus := pagecache.ContentStatus(gjson.GetBytes(body, "new_status").String())
	oldStatus := pagecache.ContentStatus(gjson.GetBytes(body, "old_status").String())
	ref := app.ContentRef{
		ID:        firstInt(body, "post.ID", "content_id"),
		Permalink: firstString(body, "post.permalink", "permalink"),
	}
	if !newStatus.Valid() {
		writeFail(w, http.StatusBadRequest, "invalid new_status")
		return
	}
	if ref.ID <= 0 && ref.Permalink == "" {
		writeFail(w, http.StatusBadRequest, "content_id or permalink is required")
		return
	}

	var stored *pagecache.Content
	if ref.ID > 0 {
		stored, err = s.deps.Store.GetContent(r.Context(), ref.ID)
		if err != nil && errorStatus(err) != http.StatusNotFound {
			writeError(w, r, err)
			return
		}
	}
	if oldStatus == "" && stored != nil {
		oldStatus = stored.Status
	}
	if !oldStatus.Valid() {
		writeFail(w, http.StatusBadRequest, "invalid old_status")
		return
	}

	invalidated, err := s.deps.Coordinator.OnContentTransition(r.Context(), newStatus, oldStatus, ref)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if stored != nil {
		stored.Status = newStatus
		if ref.Permalink != "" {
			stored.Permalink = ref.Permalink
		}
		stored.UpdatedAt = time.Now().UTC()
		if err := s.deps.Store.PutContent(r.Context(), stored); err != nil {
			writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, transitionResponse{
		ContentID:   ref.ID,
		Invalidated: invalidated,
		NewStatus:   string(newStatus),
		OldStatus:   string(oldStatus),
	})
}

func firstInt(body []byte, paths ...string) int64 {
	for _, p := range paths {
		if v := gjson.GetBytes(body, p); v.Exists() {
			return v.Int()
		}
	}
	return 0
}

func firstString(body []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(body, p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
