package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func register(t *testing.T, st *store.MemoryStore, name string, at time.Time) {
	t.Helper()
	require.NoError(t, st.InsertParticipant(context.Background(), models.NewParticipant(name, at)))
}

func departures(t *testing.T, st *store.MemoryStore) map[string]int {
	t.Helper()
	msgs, err := st.VisibleMessages(context.Background(), "observer", 0)
	require.NoError(t, err)
	out := make(map[string]int)
	for _, m := range msgs {
		if m.Type == models.TypeStatus && m.Text == models.DepartureText {
			require.Equal(t, models.Broadcast, m.To)
			out[m.From]++
		}
	}
	return out
}

func TestTick_EvictsExpiredOnly(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	sw := NewSweeper(st, st, zerolog.Nop(), 10*time.Second, 15*time.Second).WithClock(c.Now)

	register(t, st, "Idle", c.Now())
	register(t, st, "Chatty", c.Now())

	c.Advance(8 * time.Second)
	require.NoError(t, st.TouchParticipant(ctx, "Chatty", c.Now()))

	c.Advance(7 * time.Second) // Idle silent for 15s, Chatty for 7s
	removed, err := sw.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Idle"}, removed)

	list, err := st.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Chatty", list[0].Name)
	require.Equal(t, map[string]int{"Idle": 1}, departures(t, st))

	// a second tick does not announce Idle again
	removed, err = sw.Tick(ctx)
	require.NoError(t, err)
	require.Empty(t, removed)
	require.Equal(t, map[string]int{"Idle": 1}, departures(t, st))
}

func TestTick_HeartbeatingParticipantSurvives(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	sw := NewSweeper(st, st, zerolog.Nop(), 10*time.Second, 15*time.Second).WithClock(c.Now)

	register(t, st, "Alice", c.Now())
	for i := 0; i < 10; i++ {
		c.Advance(5 * time.Second)
		require.NoError(t, st.TouchParticipant(ctx, "Alice", c.Now()))
		removed, err := sw.Tick(ctx)
		require.NoError(t, err)
		require.Empty(t, removed)
	}
	require.Empty(t, departures(t, st))
}

func TestTick_ExactlyTTLIsNotExpired(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	sw := NewSweeper(st, st, zerolog.Nop(), 10*time.Second, 15*time.Second).WithClock(c.Now)

	register(t, st, "Alice", c.Now())
	c.Advance(10 * time.Second)
	removed, err := sw.Tick(ctx)
	require.NoError(t, err)
	require.Empty(t, removed)

	c.Advance(time.Millisecond)
	removed, err = sw.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Alice"}, removed)
}

type failingAppend struct{ store.MessageStore }

func (failingAppend) AppendMessages(ctx context.Context, msgs []*models.Message) error {
	return errors.New("write failed")
}

func TestTick_AppendFailureRemovesNobody(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	sw := NewSweeper(st, failingAppend{st}, zerolog.Nop(), 10*time.Second, 15*time.Second).WithClock(c.Now)

	register(t, st, "Alice", c.Now())
	register(t, st, "Bob", c.Now())
	c.Advance(time.Minute)

	removed, err := sw.Tick(ctx)
	require.Error(t, err)
	require.Empty(t, removed)

	list, err := st.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Empty(t, departures(t, st))

	// the next tick against a healthy store catches up
	sw.messages = st
	removed, err = sw.Tick(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Alice", "Bob"}, removed)
	require.Equal(t, map[string]int{"Alice": 1, "Bob": 1}, departures(t, st))
}

type panickingParticipants struct{ store.ParticipantStore }

func (panickingParticipants) ExpiredParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	panic("boom")
}

func TestTick_RecoversPanic(t *testing.T) {
	st := store.NewMemoryStore()
	sw := NewSweeper(panickingParticipants{st}, st, zerolog.Nop(), 0, 0)

	removed, err := sw.Tick(context.Background())
	require.ErrorContains(t, err, "boom")
	require.Nil(t, removed)
}

func TestStartStop_SweepsOnInterval(t *testing.T) {
	st := store.NewMemoryStore()
	register(t, st, "Alice", time.Now().Add(-time.Hour))

	sw := NewSweeper(st, st, zerolog.Nop(), 10*time.Second, 10*time.Millisecond)
	sw.Start(context.Background())
	sw.Start(context.Background()) // no-op while running

	require.Eventually(t, func() bool {
		c, err := st.Counts(context.Background())
		return err == nil && c.Participants == 0
	}, 2*time.Second, 10*time.Millisecond)

	sw.Stop()
	sw.Stop() // idempotent
	require.Equal(t, map[string]int{"Alice": 1}, departures(t, st))
}

func TestNewSweeper_Defaults(t *testing.T) {
	st := store.NewMemoryStore()
	sw := NewSweeper(st, st, zerolog.Nop(), 0, -1)
	require.Equal(t, DefaultTTL, sw.ttl)
	require.Equal(t, DefaultPeriod, sw.period)
}
