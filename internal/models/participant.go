package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant represents a registered chat participant.
// LastStatus is serialized as Unix milliseconds.
type Participant struct {
	ID         uuid.UUID `json:"_id"`
	Name       string    `json:"name"`
	LastStatus int64     `json:"lastStatus"`
}

// NewParticipant creates a participant seen at the given time.
func NewParticipant(name string, now time.Time) *Participant {
	return &Participant{
		ID:         uuid.Must(uuid.NewV7()),
		Name:       name,
		LastStatus: now.UnixMilli(),
	}
}

// SeenAt returns LastStatus as a time.Time.
func (p *Participant) SeenAt() time.Time {
	return time.UnixMilli(p.LastStatus)
}
