package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"interview-agent/internal/domain"
)

// SQLiteStore is a file-backed SessionStore for running the service locally.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		state BLOB NOT NULL,
		status TEXT NOT NULL,
		turns INTEGER NOT NULL,
		last_activity TEXT NOT NULL,
		ttl INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS records (
		session_id TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, state, status, turns, last_activity, ttl
		FROM sessions WHERE id = ?`, id)

	var out domain.Session
	err := row.Scan(&out.ID, &out.Name, &out.Version, &out.State, &out.Status, &out.Turns, &out.LastActivity, &out.TTL)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession scan: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess domain.Session, expectedVersion int) error {
	if err := checkVersion(sess, expectedVersion); err != nil {
		return fmt.Errorf("repository: SaveSession: %w", err)
	}
	if err := writeSession(ctx, s.db, stamp(sess, s.now()), expectedVersion); err != nil {
		return fmt.Errorf("repository: SaveSession: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, sess domain.Session, expectedVersion int, rec domain.InterviewRecord) error {
	if err := checkVersion(sess, expectedVersion); err != nil {
		return fmt.Errorf("repository: SaveRecord: %w", err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("repository: SaveRecord marshal record: %w", err)
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: SaveRecord begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := writeSession(ctx, tx, stamp(sess, now), expectedVersion); err != nil {
		return fmt.Errorf("repository: SaveRecord: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO records (session_id, record, created_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sess.ID, string(body), now.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("repository: SaveRecord insert record: %w", err)
	}
	if err := requireRow(res); err != nil {
		return fmt.Errorf("repository: SaveRecord: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: SaveRecord commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (domain.InterviewRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM records WHERE session_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InterviewRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.InterviewRecord{}, fmt.Errorf("repository: GetRecord scan: %w", err)
	}
	var rec domain.InterviewRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.InterviewRecord{}, fmt.Errorf("repository: GetRecord unmarshal: %w", err)
	}
	return rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeSession(ctx context.Context, db execer, s domain.Session, expectedVersion int) error {
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = db.ExecContext(ctx, `
			INSERT INTO sessions (id, name, version, state, status, turns, last_activity, ttl)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			s.ID, s.Name, s.Version, s.State, s.Status, s.Turns, s.LastActivity, s.TTL)
	} else {
		res, err = db.ExecContext(ctx, `
			UPDATE sessions
			SET name = ?, version = ?, state = ?, status = ?, turns = ?, last_activity = ?, ttl = ?
			WHERE id = ? AND version = ?`,
			s.Name, s.Version, s.State, s.Status, s.Turns, s.LastActivity, s.TTL, s.ID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}
