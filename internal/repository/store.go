package repository

import (
	"context"
	"errors"
	"time"

	"interview-agent/internal/domain"
)

const ttlDuration = 30 * 24 * time.Hour // 30-day TTL

var (
	// ErrNotFound is returned when a session or record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrVersionConflict is returned when the stored version differs from the expected one.
	ErrVersionConflict = errors.New("repository: version conflict")
)

// SessionStore persists interview sessions with optimistic versioning.
// A save succeeds only if the stored version still equals expectedVersion;
// zero means the session must not exist yet.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (domain.Session, error)
	SaveSession(ctx context.Context, s domain.Session, expectedVersion int) error
	SaveRecord(ctx context.Context, s domain.Session, expectedVersion int, rec domain.InterviewRecord) error
	GetRecord(ctx context.Context, id string) (domain.InterviewRecord, error)
}

func checkVersion(s domain.Session, expectedVersion int) error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if expectedVersion < 0 || s.Version != expectedVersion+1 {
		return errors.New("session version must be expected version + 1")
	}
	return nil
}

// stamp fills the activity timestamp and expiry from now.
func stamp(s domain.Session, now time.Time) domain.Session {
	s.LastActivity = now.UTC().Format(time.RFC3339)
	s.TTL = now.Add(ttlDuration).Unix()
	return s
}
