package store

import (
	"context"
	"sync"
	"time"

	"github.com/eldtechnologies/batepapo/internal/models"
)

// MemoryStore keeps participants and messages in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant
	order        []string // registration order
	messages     []models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{participants: make(map[string]*models.Participant)}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// InsertParticipant stores p if its name is free.
func (s *MemoryStore) InsertParticipant(ctx context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.Name]; ok {
		return ErrConflict
	}
	cp := *p
	s.participants[p.Name] = &cp
	s.order = append(s.order, p.Name)
	return nil
}

// GetParticipant returns the participant with the given name.
func (s *MemoryStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// TouchParticipant refreshes lastStatus.
func (s *MemoryStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[name]
	if !ok {
		return ErrNotFound
	}
	p.LastStatus = at.UnixMilli()
	return nil
}

// ListParticipants returns participants in registration order.
func (s *MemoryStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Participant, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.participants[name])
	}
	return out, nil
}

// ExpiredParticipants returns participants last seen before cutoff.
func (s *MemoryStore) ExpiredParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Participant
	for _, name := range s.order {
		p := s.participants[name]
		if p.LastStatus < cutoff.UnixMilli() {
			out = append(out, *p)
		}
	}
	return out, nil
}

// RemoveParticipants deletes participants by name. Unknown names are ignored.
func (s *MemoryStore) RemoveParticipants(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		delete(s.participants, name)
	}
	order := s.order[:0]
	for _, name := range s.order {
		if _, ok := s.participants[name]; ok {
			order = append(order, name)
		}
	}
	s.order = order
	return nil
}

// AppendMessage appends a message to the log.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.AppendMessages(ctx, []*models.Message{msg})
}

// AppendMessages appends all messages under one lock.
func (s *MemoryStore) AppendMessages(ctx context.Context, msgs []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, msg := range msgs {
		msg.Stamp(now)
		s.messages = append(s.messages, *msg)
	}
	return nil
}

// VisibleMessages walks the log backwards collecting visible messages.
func (s *MemoryStore) VisibleMessages(ctx context.Context, viewer string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, 0)
	for i := len(s.messages) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if s.messages[i].VisibleTo(viewer) {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

// Counts returns the number of participants and messages.
func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Counts{
		Participants: int64(len(s.participants)),
		Messages:     int64(len(s.messages)),
	}, nil
}
