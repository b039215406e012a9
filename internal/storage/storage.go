// Package storage defines the progress-store interfaces for the trade
// importer and provides DuckDB and in-memory implementations.
//
// The store owns three kinds of durable state: trade records (idempotent on
// their natural key), per-account import progress, and import sessions. The
// central contract is CommitPage: a page's trades and its advanced cursor are
// committed together, so a crash mid-page simply re-fetches that page on
// resume.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

// TradeStore persists executed trades.
type TradeStore interface {
	// CommitPage atomically inserts a page of trades and upserts the
	// account's progress record. Trades that already exist (same account,
	// exchange, execution id) are ignored; the returned count is the
	// number of newly inserted rows, and the progress record is persisted
	// with its TradeCount increased by exactly that number so the durable
	// count can never drift from the durable cursor. Either both the
	// trades and the progress are durable, or neither.
	CommitPage(ctx context.Context, trades []models.TradeRecord, progress models.AccountProgress) (int64, error)

	// CountTrades returns the number of stored trades for one account, or
	// for all accounts when account is empty.
	CountTrades(ctx context.Context, account string) (int64, error)

	// QueryTrades retrieves stored trades for inspection, newest first.
	QueryTrades(ctx context.Context, req TradeQuery) ([]models.TradeRecord, error)
}

// ProgressStore persists per-account import progress.
type ProgressStore interface {
	// GetProgress returns the progress record for the pair, or a default
	// pending record when the pair has never been processed.
	GetProgress(ctx context.Context, account string, exchange models.ExchangeType) (*models.AccountProgress, error)

	// UpsertProgress atomically creates or overwrites the record keyed by
	// (account, exchange).
	UpsertProgress(ctx context.Context, progress models.AccountProgress) error

	// ListAllProgress returns every progress record ordered by account
	// name for stable presentation.
	ListAllProgress(ctx context.Context) ([]models.AccountProgress, error)
}

// SessionStore persists import sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session models.ImportSession) error
	UpdateSession(ctx context.Context, session models.ImportSession) error

	// GetSession returns the session by id, or nil when unknown.
	GetSession(ctx context.Context, id string) (*models.ImportSession, error)

	// LatestSession returns the most recently started session, or nil
	// when no session has ever run.
	LatestSession(ctx context.Context) (*models.ImportSession, error)
}

// Manager handles storage lifecycle and operational concerns.
type Manager interface {
	// Initialize prepares the backend (schema creation). Idempotent.
	Initialize(ctx context.Context) error

	// ResetAll deletes all trades, progress records and sessions. The
	// caller is responsible for ensuring no session is running; the store
	// itself does not check.
	ResetAll(ctx context.Context) error

	// GetStats returns operational statistics.
	GetStats(ctx context.Context) (*Stats, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// FullStorage combines all storage capabilities. This is the interface the
// import engine and session controller depend on.
type FullStorage interface {
	TradeStore
	ProgressStore
	SessionStore
	Manager
}

// TradeQuery filters stored trades.
type TradeQuery struct {
	Account  string
	Exchange models.ExchangeType
	Symbol   string
	Limit    int
}

// Stats summarizes store contents for monitoring.
type Stats struct {
	TotalTrades   int64
	TotalAccounts int
	TotalSessions int
	EarliestTrade time.Time
	LatestTrade   time.Time
}

// StorageError provides structured error information for store operations.
type StorageError struct {
	Operation string
	Table     string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError creates a StorageError with the provided context.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}
