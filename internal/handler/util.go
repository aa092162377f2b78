package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/streamchat/internal/middleware"
	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/store"
)

// maxBodyBytes bounds request bodies; chat requests may carry inline images.
const maxBodyBytes = 8 << 20

const maxPageSize = 100

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, &model.ErrorResponse{Error: message})
}

// writeRetryError writes a JSON error response with a Retry-After hint.
func writeRetryError(w http.ResponseWriter, status int, message string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeJSON(w, status, &model.ErrorResponse{Error: message, RetryAfter: retryAfter})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// writeStoreError maps persistence errors to a status.
func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// conversationParam returns the validated {id} route parameter. On failure it
// writes a 400 and returns false.
func conversationParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// turnParams returns the validated {id} and {turnID} route parameters.
func turnParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return "", "", false
	}
	turnID := chi.URLParam(r, "turnID")
	if err := middleware.ValidateTurnID(turnID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return conversationID, turnID, true
}

// pageParams reads limit and offset, ignoring values out of range.
func pageParams(r *http.Request) (limit, offset int) {
	limit = store.DefaultListLimit
	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= maxPageSize {
		limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}
