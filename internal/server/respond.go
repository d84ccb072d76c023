package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	pagecache "github.com/eugener/cachemgr/internal"
)

// maxBody is the maximum allowed request body size (1 MB).
const maxBody = 1 << 20

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// errorType names the class of failure a status code stands for.
func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case status >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "invalid_request"
	}
}

// writeFail writes a JSON error body for status.
func writeFail(w http.ResponseWriter, status int, msg string) {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = errorType(status)
	writeJSON(w, status, e)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, pagecache.ErrInvalidURL), errors.Is(err, pagecache.ErrInvalidArgument), errors.Is(err, pagecache.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, pagecache.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pagecache.ErrForbidden), errors.Is(err, pagecache.ErrTokenBlocked):
		return http.StatusForbidden
	case errors.Is(err, pagecache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pagecache.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, pagecache.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, pagecache.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to its status. Client errors carry the error text;
// server errors are logged and sanitized to avoid leaking internals
// (e.g. SQLite errors).
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeFail(w, status, "internal error")
		return
	}
	writeFail(w, status, err.Error())
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseSinceUntil validates optional since/until RFC3339 query params.
// Writes 400 and returns false on invalid format.
func parseSinceUntil(w http.ResponseWriter, r *http.Request) (since, until string, ok bool) {
	q := r.URL.Query()
	since, until = q.Get("since"), q.Get("until")
	// SQLite datetime() silently returns NULL on malformed strings.
	if since != "" {
		if _, err := time.Parse(time.RFC3339, since); err != nil {
			writeFail(w, http.StatusBadRequest, "invalid since format, use RFC3339")
			return "", "", false
		}
	}
	if until != "" {
		if _, err := time.Parse(time.RFC3339, until); err != nil {
			writeFail(w, http.StatusBadRequest, "invalid until format, use RFC3339")
			return "", "", false
		}
	}
	return since, until, true
}
