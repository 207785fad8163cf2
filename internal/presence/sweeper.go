// Package presence evicts participants that stopped sending heartbeats.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/eldtechnologies/batepapo/internal/metrics"
	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
)

const (
	DefaultTTL    = 10 * time.Second
	DefaultPeriod = 15 * time.Second
)

// Sweeper periodically removes participants whose last heartbeat is older
// than the TTL, announcing each departure in the message log first.
type Sweeper struct {
	participants store.ParticipantStore
	messages     store.MessageStore
	logger       zerolog.Logger
	ttl          time.Duration
	period       time.Duration
	now          func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a stopped sweeper. Zero durations fall back to the defaults.
func NewSweeper(participants store.ParticipantStore, messages store.MessageStore, logger zerolog.Logger, ttl, period time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Sweeper{
		participants: participants,
		messages:     messages,
		logger:       logger.With().Str("component", "presence_sweeper").Logger(),
		ttl:          ttl,
		period:       period,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	s.logger.Info().
		Dur("ttl", s.ttl).
		Dur("period", s.period).
		Msg("presence sweeper started")
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info().Msg("presence sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed, retrying next tick")
			}
		}
	}
}

// Tick runs one sweep and returns the names that were removed. Departure
// messages are written before removal; if writing them fails nobody is removed.
func (s *Sweeper) Tick(ctx context.Context) (removed []string, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			removed, err = nil, fmt.Errorf("sweep panic: %v", r)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.SweepTicks.WithLabelValues(result).Inc()
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	expired, err := s.participants.ExpiredParticipants(ctx, now.Add(-s.ttl))
	if err != nil {
		return nil, fmt.Errorf("select expired participants: %w", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	names := lo.Map(expired, func(p models.Participant, _ int) string { return p.Name })
	departures := lo.Map(names, func(name string, _ int) *models.Message {
		return models.StatusMessage(name, models.DepartureText, now)
	})

	if err := s.messages.AppendMessages(ctx, departures); err != nil {
		return nil, fmt.Errorf("append departure messages: %w", err)
	}
	if err := s.participants.RemoveParticipants(ctx, names); err != nil {
		return nil, fmt.Errorf("remove participants: %w", err)
	}

	metrics.ParticipantsEvicted.Add(float64(len(names)))
	metrics.MessagesPosted.WithLabelValues(models.TypeStatus).Add(float64(len(names)))
	s.logger.Info().
		Int("count", len(names)).
		Strs("names", names).
		Msg("evicted inactive participants")
	return names, nil
}
