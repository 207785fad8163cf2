package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/chat"
	"github.com/eldtechnologies/batepapo/internal/store"
)

// UserHeader carries the acting participant's name.
const UserHeader = "User"

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	chat    *chat.Service
	store   store.DataStore
	logger  zerolog.Logger
	started time.Time
}

// NewHandler creates a new Handler.
func NewHandler(svc *chat.Service, ds store.DataStore, logger zerolog.Logger) *Handler {
	return &Handler{chat: svc, store: ds, logger: logger, started: time.Now()}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// chatError maps service errors onto HTTP responses. Validation failures
// are returned as a list of messages.
func (h *Handler) chatError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		h.JSON(w, http.StatusUnprocessableEntity, verr.Messages)
	case errors.Is(err, chat.ErrConflict):
		h.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("store error")
		h.Error(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched so that validation reports the missing fields.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
