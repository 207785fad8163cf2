package handlers

import (
	"net/http"

	"github.com/eldtechnologies/batepapo/internal/chat"
)

// PostMessage stores a message sent by the participant named in the user header.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.chat.PostMessage(r.Context(), r.Header.Get(UserHeader), req)
	if err != nil {
		h.chatError(w, r, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}

// GetMessages returns the messages visible to the user header, newest first.
// The optional limit query parameter must be a positive integer.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := chat.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.chatError(w, r, err)
		return
	}

	messages, err := h.chat.Messages(r.Context(), r.Header.Get(UserHeader), limit)
	if err != nil {
		h.chatError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, messages)
}
