package handlers

import (
	"net/http"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name string `json:"name"`
}

// Register handles participant registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	participant, err := h.chat.Register(r.Context(), req.Name)
	if err != nil {
		h.chatError(w, r, err)
		return
	}

	h.JSON(w, http.StatusCreated, participant)
}

// ListParticipants returns every live participant.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.chat.Participants(r.Context())
	if err != nil {
		h.chatError(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, participants)
}
