// Package chat implements participant registration, presence heartbeats,
// message posting and the per-viewer message query on top of the stores.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/metrics"
	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
)

// MessageRequest is the user-supplied part of a message.
type MessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
}

type participantInput struct {
	Name string `json:"name" validate:"required"`
}

type messageInput struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
	Text string `json:"text" validate:"required"`
	Type string `json:"type" validate:"required,oneof=message private_message"`
}

// Service coordinates the participant and message stores.
type Service struct {
	participants store.ParticipantStore
	messages     store.MessageStore
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService creates a Service using the wall clock.
func NewService(participants store.ParticipantStore, messages store.MessageStore, logger zerolog.Logger) *Service {
	return &Service{
		participants: participants,
		messages:     messages,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register adds a participant and announces the arrival. A failure to store
// the arrival message is logged; the registration still stands.
func (s *Service) Register(ctx context.Context, name string) (*models.Participant, error) {
	in := participantInput{Name: Sanitize(name)}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	now := s.now()
	p := models.NewParticipant(in.Name, now)
	if err := s.participants.InsertParticipant(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	metrics.ParticipantsRegistered.Inc()

	arrival := models.StatusMessage(p.Name, models.ArrivalText, now)
	if err := s.messages.AppendMessage(ctx, arrival); err != nil {
		s.logger.Error().Err(err).Str("name", p.Name).Msg("failed to store arrival message")
	} else {
		metrics.MessagesPosted.WithLabelValues(models.TypeStatus).Inc()
	}

	return p, nil
}

// Heartbeat refreshes the participant's last status.
func (s *Service) Heartbeat(ctx context.Context, name string) error {
	name = Sanitize(name)
	if name == "" {
		return ErrNotFound
	}
	if err := s.participants.TouchParticipant(ctx, name, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("touch participant: %w", err)
	}
	metrics.Heartbeats.Inc()
	return nil
}

// Participants lists all live participants.
func (s *Service) Participants(ctx context.Context) ([]models.Participant, error) {
	list, err := s.participants.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return list, nil
}

// PostMessage validates and stores a message from a registered participant.
func (s *Service) PostMessage(ctx context.Context, from string, req MessageRequest) (*models.Message, error) {
	in := messageInput{
		From: Sanitize(from),
		To:   Sanitize(req.To),
		Text: Sanitize(req.Text),
		Type: Sanitize(req.Type),
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	if _, err := s.participants.GetParticipant(ctx, in.From); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid(fmt.Sprintf("%q is not a registered participant", in.From))
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}

	msg := &models.Message{From: in.From, To: in.To, Text: in.Text, Type: in.Type}
	msg.Stamp(s.now())
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	metrics.MessagesPosted.WithLabelValues(msg.Type).Inc()
	return msg, nil
}

// Messages returns messages visible to viewer, newest first. A limit of
// zero returns the full history; negative limits are rejected.
func (s *Service) Messages(ctx context.Context, viewer string, limit int) ([]models.Message, error) {
	if limit < 0 {
		return nil, invalid(`"limit" must be a positive integer`)
	}
	msgs, err := s.messages.VisibleMessages(ctx, Sanitize(viewer), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return msgs, nil
}

// ParseLimit parses the limit query parameter. An empty string means no
// limit; anything but a positive integer is a ValidationError.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, invalid(`"limit" must be a positive integer`)
	}
	return n, nil
}
