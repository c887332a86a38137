// Package sessionlog persists pipeline records to SQLite, one session per
// daemon run, and exports sessions as schema-validated JSON.
package sessionlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"cogstate/internal/engine"
	"cogstate/internal/features"
	"cogstate/internal/pipeline"
)

var (
	ErrSessionNotFound = errors.New("sessionlog: session not found")
	ErrWriterClosed    = errors.New("sessionlog: writer closed")
)

// Session describes one recorded run.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Host      string    `json:"host,omitempty"`
	Version   string    `json:"version,omitempty"`
	Records   int       `json:"records"`
}

// Open reports whether the session has not been ended.
func (s Session) Open() bool { return s.EndedAt.IsZero() }

// Store is the SQLite session store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// StartSession creates a new open session.
func (s *Store) StartSession(host, version string, at time.Time) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		StartedAt: at.UTC(),
		Host:      host,
		Version:   version,
	}
	_, err := s.db.Exec(
		"INSERT INTO sessions (id, started_at, host, version) VALUES (?, ?, ?, ?)",
		sess.ID, sess.StartedAt.UnixNano(), host, version,
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(id string, at time.Time) error {
	res, err := s.db.Exec("UPDATE sessions SET ended_at = ? WHERE id = ?", at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// InsertRecords appends records to a session in a single transaction.
func (s *Store) InsertRecords(sessionID string, recs []pipeline.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO records (
			session_id, kind, timestamp_ms, key_code, is_press,
			f1, f2, f3, f4, f5, f6,
			p_flow, p_incubation, p_stuck,
			observation, penalty, silence, outcome, native_script
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		f := r.Features
		b := r.Belief
		_, err := stmt.Exec(
			sessionID, string(r.Kind), int64(r.TimestampMs), int64(r.KeyCode), r.IsPress,
			f.F1, f.F2, f.F3, f.F4, f.F5, f.F6,
			b[engine.Flow], b[engine.Incubation], b[engine.Stuck],
			r.Observation, r.Penalty, r.Silence, r.Outcome, r.NativeScript,
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

// Session returns one session with its record count.
func (s *Store) Session(id string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT s.id, s.started_at, s.ended_at, s.host, s.version,
		       (SELECT COUNT(*) FROM records r WHERE r.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return sess, err
}

// Sessions lists every session, newest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.started_at, s.ended_at, s.host, s.version,
		       (SELECT COUNT(*) FROM records r WHERE r.session_id = s.id)
		FROM sessions s ORDER BY s.started_at DESC`)
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

// Records returns a session's records in insertion order.
func (s *Store) Records(sessionID string) ([]pipeline.Record, error) {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM sessions WHERE id = ?", sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT kind, timestamp_ms, key_code, is_press,
		       f1, f2, f3, f4, f5, f6,
		       p_flow, p_incubation, p_stuck,
		       observation, penalty, silence, outcome, native_script
		FROM records WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.Record
	for rows.Next() {
		var (
			r       pipeline.Record
			kind    string
			ts      int64
			keyCode int64
			f       features.Vector
			b       engine.Belief
			outcome sql.NullString
		)
		err := rows.Scan(
			&kind, &ts, &keyCode, &r.IsPress,
			&f.F1, &f.F2, &f.F3, &f.F4, &f.F5, &f.F6,
			&b[engine.Flow], &b[engine.Incubation], &b[engine.Stuck],
			&r.Observation, &r.Penalty, &r.Silence, &outcome, &r.NativeScript,
		)
		if err != nil {
			return nil, err
		}
		r.Kind = pipeline.RecordKind(kind)
		r.TimestampMs = uint64(ts)
		r.KeyCode = uint32(keyCode)
		r.Features = f
		r.Belief = b
		r.Outcome = outcome.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its records.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess    Session
		started int64
		ended   sql.NullInt64
		host    sql.NullString
		version sql.NullString
	)
	if err := sc.Scan(&sess.ID, &started, &ended, &host, &version, &sess.Records); err != nil {
		return Session{}, err
	}
	sess.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		sess.EndedAt = time.Unix(0, ended.Int64).UTC()
	}
	sess.Host = host.String
	sess.Version = version.String
	return sess, nil
}
