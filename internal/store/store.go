package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection for listen sessions.
type Store struct {
	conn *pgx.Conn
}

// Session is one run of the listen command.
type Session struct {
	ID        uuid.UUID
	Name      string
	StartedAt time.Time

	// EndedAt is nil while the session is still open.
	EndedAt  *time.Time
	Frames   int
	Reps     int
	MinAngle float64
	MaxAngle float64
}

// Duration is how long the session ran, up to now for open sessions.
func (s Session) Duration() time.Duration {
	end := time.Now()
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(s.StartedAt)
}

// RepEvent is one counted repetition.
type RepEvent struct {
	Arm        string
	ArmCount   int
	Total      int
	ElbowAngle float64
	At         time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the session tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			frames INT NOT NULL DEFAULT 0,
			reps INT NOT NULL DEFAULT 0,
			min_angle DOUBLE PRECISION NOT NULL,
			max_angle DOUBLE PRECISION NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rep_events (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			arm TEXT NOT NULL,
			arm_count INT NOT NULL,
			total INT NOT NULL,
			elbow_angle DOUBLE PRECISION NOT NULL,
			at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS rep_events_session_id_idx ON rep_events (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateSession opens a session with the thresholds it counts against.
func (s *Store) CreateSession(ctx context.Context, name string, minAngle, maxAngle float64) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sessions (id, name, started_at, min_angle, max_angle)
		VALUES ($1::uuid, $2, NOW(), $3, $4)
	`, id.String(), name, minAngle, maxAngle)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// InsertRep records one repetition and bumps the session total.
func (s *Store) InsertRep(ctx context.Context, sessionID uuid.UUID, rep RepEvent) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO rep_events (session_id, arm, arm_count, total, elbow_angle, at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)
	`, sessionID.String(), rep.Arm, rep.ArmCount, rep.Total, rep.ElbowAngle, rep.At); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE sessions SET reps = $1 WHERE id = $2::uuid", rep.Total, sessionID.String()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EndSession stamps the end time and final frame count.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, frames int) error {
	tag, err := s.conn.Exec(ctx, "UPDATE sessions SET ended_at = NOW(), frames = $1 WHERE id = $2::uuid", frames, id.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = "id::text, name, started_at, ended_at, frames, reps, min_angle, max_angle"

func scanSession(row pgx.Row) (Session, error) {
	var (
		sess Session
		id   string
	)
	if err := row.Scan(&id, &sess.Name, &sess.StartedAt, &sess.EndedAt, &sess.Frames, &sess.Reps, &sess.MinAngle, &sess.MaxAngle); err != nil {
		return Session{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Session{}, err
	}
	sess.ID = parsed
	return sess, nil
}

// ListSessions returns every session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.conn.Query(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns a session and its reps in order.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, []RepEvent, error) {
	sess, err := scanSession(s.conn.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = $1::uuid", id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, nil, ErrNotFound
	}
	if err != nil {
		return Session{}, nil, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT arm, arm_count, total, elbow_angle, at
		FROM rep_events WHERE session_id = $1::uuid ORDER BY at ASC, id ASC
	`, id.String())
	if err != nil {
		return Session{}, nil, err
	}
	defer rows.Close()

	var reps []RepEvent
	for rows.Next() {
		var r RepEvent
		if err := rows.Scan(&r.Arm, &r.ArmCount, &r.Total, &r.ElbowAngle, &r.At); err != nil {
			return Session{}, nil, err
		}
		reps = append(reps, r)
	}
	return sess, reps, rows.Err()
}

// RenameSession updates the name of a session.
func (s *Store) RenameSession(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE sessions SET name = $1 WHERE id = $2::uuid", name, id.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS rep_events CASCADE;
		DROP TABLE IF EXISTS sessions CASCADE;
	`)
	return err
}
