package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of an import session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionStopped   SessionStatus = "stopped"
	SessionError     SessionStatus = "error"
)

// SessionMode distinguishes a full re-import from a cursor resume.
type SessionMode string

const (
	ModeFull   SessionMode = "full"
	ModeResume SessionMode = "resume"
)

// ImportSession is one start-to-terminal run of the importer across some or
// all configured accounts. Sessions are created running and mutated only by
// the engine; once terminal they are immutable.
type ImportSession struct {
	ID                string        `json:"session_id" db:"session_id"`
	Mode              SessionMode   `json:"mode" db:"mode"`
	AccountFilter     string        `json:"account_filter,omitempty" db:"account_filter"`
	Status            SessionStatus `json:"status" db:"status"`
	StartTime         time.Time     `json:"start_time" db:"start_time"`
	EndTime           time.Time     `json:"end_time,omitempty" db:"end_time"`
	TotalAccounts     int           `json:"total_accounts" db:"total_accounts"`
	CompletedAccounts int           `json:"completed_accounts" db:"completed_accounts"`
	TotalTrades       int64         `json:"total_trades" db:"total_trades"`
	ErrorMessage      string        `json:"error_message,omitempty" db:"error_message"`
}

// NewImportSession creates a running session with a generated id.
func NewImportSession(mode SessionMode, accountFilter string, totalAccounts int) *ImportSession {
	return &ImportSession{
		ID:            uuid.NewString(),
		Mode:          mode,
		AccountFilter: accountFilter,
		Status:        SessionRunning,
		StartTime:     time.Now().UTC(),
		TotalAccounts: totalAccounts,
	}
}

// Validate checks field consistency.
func (s *ImportSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	switch s.Mode {
	case ModeFull, ModeResume:
	default:
		return fmt.Errorf("invalid session mode %q", s.Mode)
	}
	switch s.Status {
	case SessionRunning, SessionCompleted, SessionStopped, SessionError:
	default:
		return fmt.Errorf("invalid session status %q", s.Status)
	}
	if s.StartTime.IsZero() {
		return fmt.Errorf("session start time is required")
	}
	if s.TotalAccounts < 0 || s.CompletedAccounts < 0 || s.TotalTrades < 0 {
		return fmt.Errorf("session counters cannot be negative")
	}
	return nil
}

// IsRunning reports whether the session has not reached a terminal state.
func (s *ImportSession) IsRunning() bool {
	return s.Status == SessionRunning
}

// Complete transitions the session to completed.
// Returns an error if the session is not running.
func (s *ImportSession) Complete() error {
	return s.finish(SessionCompleted, "")
}

// Stop transitions the session to stopped after a cooperative stop request.
// Progress rows keep their current cursors so a later session can resume.
func (s *ImportSession) Stop() error {
	return s.finish(SessionStopped, "")
}

// Fail transitions the session to error with the given message.
func (s *ImportSession) Fail(msg string) error {
	return s.finish(SessionError, msg)
}

func (s *ImportSession) finish(status SessionStatus, msg string) error {
	if s.Status != SessionRunning {
		return fmt.Errorf("cannot finish session %s: status is %s, expected %s", s.ID, s.Status, SessionRunning)
	}
	s.Status = status
	s.ErrorMessage = msg
	s.EndTime = time.Now().UTC()
	return nil
}

// Duration returns the elapsed wall time of the session.
func (s *ImportSession) Duration() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if !s.EndTime.IsZero() {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}
