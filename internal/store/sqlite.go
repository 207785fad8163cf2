package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/batepapo/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/batepapo.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/batepapo.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS participants (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		name TEXT UNIQUE NOT NULL,
		last_status INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
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

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertParticipant inserts p unless the name is taken.
func (s *SQLiteStore) InsertParticipant(ctx context.Context, p *models.Participant) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, name, last_status)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, p.ID.String(), p.Name, p.LastStatus)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// GetParticipant retrieves a participant by name.
func (s *SQLiteStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	p := &models.Participant{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, last_status FROM participants WHERE name = ?
	`, name).Scan(&idStr, &p.Name, &p.LastStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TouchParticipant updates last_status for an existing participant.
func (s *SQLiteStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants SET last_status = ? WHERE name = ?
	`, at.UnixMilli(), name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListParticipants returns all participants in registration order.
func (s *SQLiteStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	return s.queryParticipants(ctx, `
		SELECT id, name, last_status FROM participants ORDER BY seq
	`)
}

// ExpiredParticipants returns participants last seen before cutoff.
func (s *SQLiteStore) ExpiredParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	return s.queryParticipants(ctx, `
		SELECT id, name, last_status FROM participants
		WHERE last_status < ?
		ORDER BY seq
	`, cutoff.UnixMilli())
}

func (s *SQLiteStore) queryParticipants(ctx context.Context, query string, args ...any) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]models.Participant, 0)
	for rows.Next() {
		var p models.Participant
		var idStr string
		if err := rows.Scan(&idStr, &p.Name, &p.LastStatus); err != nil {
			return nil, err
		}
		if p.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// RemoveParticipants deletes participants by name.
func (s *SQLiteStore) RemoveParticipants(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = name
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE name IN (`+placeholders+`)`, args...)
	return err
}

// AppendMessage stores a single message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.AppendMessages(ctx, []*models.Message{msg})
}

// AppendMessages stores messages in one transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, msgs []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, from_name, to_name, text, type, time)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, msg := range msgs {
		msg.Stamp(now)
		if _, err := stmt.ExecContext(ctx, msg.ID, msg.From, msg.To, msg.Text, msg.Type, msg.Time); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// VisibleMessages returns messages visible to viewer, newest first.
func (s *SQLiteStore) VisibleMessages(ctx context.Context, viewer string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, from_name, to_name, text, type, time
		FROM messages
		WHERE from_name = ? OR to_name IN (?, ?) OR type = ?
		ORDER BY seq DESC
	`
	args := []any{viewer, models.Broadcast, viewer, models.TypeMessage}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM participants), (SELECT COUNT(*) FROM messages)
	`).Scan(&c.Participants, &c.Messages)
	return c, err
}
