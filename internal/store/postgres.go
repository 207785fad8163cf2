package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/batepapo/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS participants (
	seq BIGSERIAL,
	id UUID NOT NULL,
	name TEXT PRIMARY KEY,
	last_status BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT UNIQUE NOT NULL,
	from_name TEXT NOT NULL,
	to_name TEXT NOT NULL,
	text TEXT NOT NULL,
	type TEXT NOT NULL,
	time TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_participants_last_status ON participants(last_status);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_name);
CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_name);
`

// RunMigrations creates the schema on the database at databaseURL.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, postgresSchema)
	return err
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertParticipant inserts p unless the name is taken.
func (s *PostgresStore) InsertParticipant(ctx context.Context, p *models.Participant) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO participants (id, name, last_status)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`, p.ID, p.Name, p.LastStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// GetParticipant retrieves a participant by name.
func (s *PostgresStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, last_status FROM participants WHERE name = $1
	`, name).Scan(&p.ID, &p.Name, &p.LastStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// TouchParticipant updates last_status for an existing participant.
func (s *PostgresStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE participants SET last_status = $1 WHERE name = $2
	`, at.UnixMilli(), name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListParticipants returns all participants in registration order.
func (s *PostgresStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.queryParticipants(ctx, `
		SELECT id, name, last_status FROM participants ORDER BY seq
	`)
}

// ExpiredParticipants returns participants last seen before cutoff.
func (s *PostgresStore) ExpiredParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	return s.queryParticipants(ctx, `
		SELECT id, name, last_status FROM participants
		WHERE last_status < $1
		ORDER BY seq
	`, cutoff.UnixMilli())
}

func (s *PostgresStore) queryParticipants(ctx context.Context, query string, args ...any) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]models.Participant, 0)
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.LastStatus); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// RemoveParticipants deletes participants by name.
func (s *PostgresStore) RemoveParticipants(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM participants WHERE name = ANY($1)`, names)
	return err
}

// AppendMessage stores a single message.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.AppendMessages(ctx, []*models.Message{msg})
}

// AppendMessages stores messages in one transaction.
func (s *PostgresStore) AppendMessages(ctx context.Context, msgs []*models.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	now := time.Now()
	for _, msg := range msgs {
		msg.Stamp(now)
		batch.Queue(`
			INSERT INTO messages (id, from_name, to_name, text, type, time)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, msg.ID, msg.From, msg.To, msg.Text, msg.Type, msg.Time)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// VisibleMessages returns messages visible to viewer, newest first.
func (s *PostgresStore) VisibleMessages(ctx context.Context, viewer string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, from_name, to_name, text, type, time
		FROM messages
		WHERE from_name = $1 OR to_name IN ($2, $1) OR type = $3
		ORDER BY seq DESC
	`
	args := []any{viewer, models.Broadcast, models.TypeMessage}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.Type, &m.Time); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Counts returns participant and message totals.
func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM participants), (SELECT COUNT(*) FROM messages)
	`).Scan(&c.Participants, &c.Messages)
	return c, err
}
