package store

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/batepapo/internal/models"
)

var (
	// ErrConflict is returned when a participant with the same name exists.
	ErrConflict = errors.New("participant already exists")
	// ErrNotFound is returned when a participant does not exist.
	ErrNotFound = errors.New("participant not found")
)

// ParticipantStore holds live participants keyed by name.
type ParticipantStore interface {
	// InsertParticipant stores p unless a participant with the same name
	// exists, in which case it returns ErrConflict. The check and the insert
	// are a single atomic operation.
	InsertParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, name string) (*models.Participant, error)
	// TouchParticipant sets lastStatus for an existing participant or
	// returns ErrNotFound.
	TouchParticipant(ctx context.Context, name string, at time.Time) error
	ListParticipants(ctx context.Context) ([]models.Participant, error)
	// ExpiredParticipants returns participants whose lastStatus is before cutoff.
	ExpiredParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error)
	RemoveParticipants(ctx context.Context, names []string) error
}

// MessageStore is an append-only message log.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	// AppendMessages stores all messages or none of them.
	AppendMessages(ctx context.Context, msgs []*models.Message) error
	// VisibleMessages returns messages visible to viewer, newest first.
	// A limit of zero means no limit.
	VisibleMessages(ctx context.Context, viewer string, limit int) ([]models.Message, error)
}

// Counts holds aggregate store statistics.
type Counts struct {
	Participants int64
	Messages     int64
}

// DataStore is implemented by every storage backend.
type DataStore interface {
	ParticipantStore
	MessageStore

	Ping(ctx context.Context) error
	Counts(ctx context.Context) (Counts, error)
	Close() error
}
