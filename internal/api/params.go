package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// UserIDParam parses the {userID} route parameter, writing a 400 on failure.
func UserIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return UUIDParam(w, r, "userID", ErrInvalidUserID)
}

// UUIDParam parses a uuid route parameter and writes onErr when it is malformed.
func UUIDParam(w http.ResponseWriter, r *http.Request, name string, onErr *AppError) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		HandleError(w, onErr)
		return uuid.Nil, false
	}
	return id, true
}

// PageParams reads page and page_size query values, falling back to 1 and 20.
func PageParams(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, 20
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 && ps <= 100 {
		pageSize = ps
	}
	return page, pageSize
}
