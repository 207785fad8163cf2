package handlers

import (
	"net/http"
)

// Status records a heartbeat for the participant in the user header.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Heartbeat(r.Context(), r.Header.Get(UserHeader)); err != nil {
		h.chatError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
