package models

import (
	"fmt"
	"time"
)

// ProgressStatus represents the lifecycle state of one account's import.
type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "pending"     // ProgressPending indicates the account has not been processed yet
	ProgressInProgress ProgressStatus = "in_progress" // ProgressInProgress indicates pages are being fetched for the account
	ProgressCompleted  ProgressStatus = "completed"   // ProgressCompleted indicates the account's history is fully imported
	ProgressError      ProgressStatus = "error"       // ProgressError indicates the account failed and needs attention
)

// AccountProgress is the durable import state for one (account, exchange)
// pair. Exactly one row exists per pair, independent of import sessions, so
// a later session can resume where a previous one stopped.
//
// The cursor is the exchange's own continuation token for the next unread
// page; it only moves forward while the account is in progress. TradeCount
// accumulates across sessions and only counts newly inserted rows, so
// replaying an already-persisted page leaves it unchanged.
type AccountProgress struct {
	Account       string         `json:"account" db:"account"`
	Exchange      ExchangeType   `json:"exchange" db:"exchange"`
	Cursor        string         `json:"cursor,omitempty" db:"last_cursor"`
	LastTimestamp int64          `json:"last_timestamp,omitempty" db:"last_timestamp"`
	TradeCount    int64          `json:"total_trades" db:"total_trades"`
	Status        ProgressStatus `json:"status" db:"status"`
	Completed     bool           `json:"completed" db:"completed"`
	ErrorCount    int            `json:"error_count" db:"error_count"`
	LastError     string         `json:"last_error,omitempty" db:"last_error"`
	LastUpdate    time.Time      `json:"last_update" db:"last_update"`
}

// NewAccountProgress returns the default pending record for a pair that has
// never been processed.
func NewAccountProgress(account string, exchange ExchangeType) *AccountProgress {
	return &AccountProgress{
		Account:    account,
		Exchange:   exchange,
		Status:     ProgressPending,
		LastUpdate: time.Now().UTC(),
	}
}

// Validate checks field consistency.
func (p *AccountProgress) Validate() error {
	if p.Account == "" {
		return fmt.Errorf("progress account is required")
	}
	if p.Exchange == "" {
		return fmt.Errorf("progress exchange is required")
	}
	switch p.Status {
	case ProgressPending, ProgressInProgress, ProgressCompleted, ProgressError:
	default:
		return fmt.Errorf("invalid progress status %q", p.Status)
	}
	if p.TradeCount < 0 {
		return fmt.Errorf("trade count cannot be negative")
	}
	if p.ErrorCount < 0 {
		return fmt.Errorf("error count cannot be negative")
	}
	if p.Completed && p.Status != ProgressCompleted {
		return fmt.Errorf("completed flag requires completed status, got %q", p.Status)
	}
	return nil
}

// BeginFresh resets the record for a full (non-resume) import starting at the
// configured lookback boundary. The cumulative trade count is preserved:
// trades are deduplicated on insert, so re-fetching old pages adds nothing.
func (p *AccountProgress) BeginFresh(lookbackStart time.Time) {
	p.Cursor = ""
	p.LastTimestamp = lookbackStart.UnixMilli()
	p.Status = ProgressInProgress
	p.Completed = false
	p.LastError = ""
	p.LastUpdate = time.Now().UTC()
}

// BeginResume marks the record in progress without touching the saved cursor.
func (p *AccountProgress) BeginResume() {
	p.Status = ProgressInProgress
	p.Completed = false
	p.LastUpdate = time.Now().UTC()
}

// Advance records a successfully persisted page: the cursor moves to the
// next continuation token and the trade count grows by the number of newly
// inserted rows. Counts never decrease.
func (p *AccountProgress) Advance(nextCursor string, lastTimestamp int64, inserted int64) error {
	if inserted < 0 {
		return fmt.Errorf("cannot advance by negative trade count: %d", inserted)
	}
	p.Cursor = nextCursor
	if lastTimestamp > p.LastTimestamp {
		p.LastTimestamp = lastTimestamp
	}
	p.TradeCount += inserted
	p.Status = ProgressInProgress
	p.LastUpdate = time.Now().UTC()
	return nil
}

// MarkCompleted marks the account's history as fully imported.
func (p *AccountProgress) MarkCompleted() {
	p.Status = ProgressCompleted
	p.Completed = true
	p.LastError = ""
	p.LastUpdate = time.Now().UTC()
}

// RecordError increments the error counter and stores the latest message.
// When terminal is true the account ends the run in error status; otherwise
// the status is left as-is so the page can be retried.
func (p *AccountProgress) RecordError(msg string, terminal bool) {
	p.ErrorCount++
	p.LastError = msg
	if terminal {
		p.Status = ProgressError
		p.Completed = false
	}
	p.LastUpdate = time.Now().UTC()
}

// Terminal reports whether the account needs no further work in this run.
func (p *AccountProgress) Terminal() bool {
	return p.Status == ProgressCompleted || p.Status == ProgressError
}
