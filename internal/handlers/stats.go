package handlers

import (
	"net/http"

	"github.com/eldtechnologies/batepapo/internal/models"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	Participants   int64            `json:"participants"`
	TotalMessages  int64            `json:"total_messages"`
	RecentMessages []models.Message `json:"recent_messages"`
}

// Stats returns room statistics and the latest public activity.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.store.Counts(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count store contents")
		return
	}

	// An empty viewer sees broadcasts and public messages only
	recent, err := h.store.VisibleMessages(ctx, "", 5)
	if err != nil {
		// Non-fatal, continue with empty messages
		recent = []models.Message{}
	}

	for i := range recent {
		if text := []rune(recent[i].Text); len(text) > 200 {
			recent[i].Text = string(text[:197]) + "..."
		}
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		Participants:   counts.Participants,
		TotalMessages:  counts.Messages,
		RecentMessages: recent,
	})
}
