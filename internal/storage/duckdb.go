package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

// DuckDBStorage implements FullStorage on DuckDB. DuckDB runs embedded, so
// the importer needs no external database service; the single-writer
// connection pattern keeps per-page transactions simple.
type DuckDBStorage struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewDuckDBStorage creates a DuckDB storage instance. The dbPath can be
// ":memory:" for tests or a file path for persistent storage.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer as recommended for DuckDB.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}, nil
}

// Initialize implements Manager.Initialize.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)

	statements := []struct {
		table string
		query string
	}{
		{"trades", `
			CREATE TABLE IF NOT EXISTS trades (
				account VARCHAR NOT NULL,
				exchange VARCHAR NOT NULL,
				exec_id VARCHAR NOT NULL,
				order_id VARCHAR,
				symbol VARCHAR NOT NULL,
				side VARCHAR,
				price VARCHAR NOT NULL,
				size VARCHAR NOT NULL,
				fee VARCHAR,
				executed_at TIMESTAMPTZ NOT NULL,
				raw VARCHAR,
				created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
				CONSTRAINT trades_pk PRIMARY KEY (account, exchange, exec_id)
			)`},
		{"import_progress", `
			CREATE TABLE IF NOT EXISTS import_progress (
				account VARCHAR NOT NULL,
				exchange VARCHAR NOT NULL,
				last_cursor VARCHAR,
				last_timestamp BIGINT DEFAULT 0,
				total_trades BIGINT DEFAULT 0,
				status VARCHAR NOT NULL DEFAULT 'pending',
				completed BOOLEAN DEFAULT FALSE,
				error_count INTEGER DEFAULT 0,
				last_error VARCHAR,
				last_update TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
				CONSTRAINT import_progress_pk PRIMARY KEY (account, exchange),
				CONSTRAINT import_progress_status_valid CHECK (status IN ('pending', 'in_progress', 'completed', 'error'))
			)`},
		{"import_sessions", `
			CREATE TABLE IF NOT EXISTS import_sessions (
				session_id VARCHAR PRIMARY KEY,
				mode VARCHAR NOT NULL,
				account_filter VARCHAR,
				status VARCHAR NOT NULL DEFAULT 'running',
				start_time TIMESTAMPTZ NOT NULL,
				end_time TIMESTAMPTZ,
				total_accounts INTEGER DEFAULT 0,
				completed_accounts INTEGER DEFAULT 0,
				total_trades BIGINT DEFAULT 0,
				error_message VARCHAR,
				CONSTRAINT import_sessions_status_valid CHECK (status IN ('running', 'completed', 'stopped', 'error'))
			)`},
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt.query); err != nil {
			return NewStorageError("initialize", stmt.table, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_trades_account ON trades (account, exchange)",
		"CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades (executed_at)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON import_sessions (start_time)",
	}
	for _, idx := range indexes {
		if _, err := d.db.ExecContext(ctx, idx); err != nil {
			return NewStorageError("initialize", "", fmt.Errorf("failed to create index: %w", err))
		}
	}

	return nil
}

// CommitPage implements TradeStore.CommitPage. The trade inserts and the
// progress upsert share one transaction; duplicates on the natural key are
// ignored so replaying a page is safe.
func (d *DuckDBStorage) CommitPage(ctx context.Context, trades []models.TradeRecord, progress models.AccountProgress) (int64, error) {
	if err := progress.Validate(); err != nil {
		return 0, NewStorageError("commit_page", "import_progress", err)
	}
	for i := range trades {
		if err := trades[i].Validate(); err != nil {
			return 0, NewStorageError("commit_page", "trades", fmt.Errorf("invalid trade at index %d: %w", i, err))
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewStorageError("commit_page", "", err)
	}
	defer tx.Rollback()

	var inserted int64
	for _, t := range trades {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO trades
				(account, exchange, exec_id, order_id, symbol, side, price, size, fee, executed_at, raw)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Account, string(t.Exchange), t.ExecID, t.OrderID, t.Symbol, t.Side,
			t.Price, t.Size, t.Fee, t.ExecutedAt, t.Raw,
		)
		if err != nil {
			return 0, NewStorageError("commit_page", "trades", fmt.Errorf("failed to insert trade %s: %w", t.Key(), err))
		}
		if rows, err := res.RowsAffected(); err == nil {
			inserted += rows
		}
	}

	// The durable count moves with the durable cursor: a replayed page
	// inserts zero rows and therefore adds zero to the count.
	progress.TradeCount += inserted
	if err := upsertProgressTx(ctx, tx, progress); err != nil {
		return 0, NewStorageError("commit_page", "import_progress", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, NewStorageError("commit_page", "", err)
	}

	d.logger.Debug("committed page",
		"account", progress.Account,
		"page_trades", len(trades),
		"inserted", inserted)

	return inserted, nil
}

func upsertProgressTx(ctx context.Context, tx *sql.Tx, p models.AccountProgress) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO import_progress
			(account, exchange, last_cursor, last_timestamp, total_trades, status, completed, error_count, last_error, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, exchange) DO UPDATE SET
			last_cursor = excluded.last_cursor,
			last_timestamp = excluded.last_timestamp,
			total_trades = excluded.total_trades,
			status = excluded.status,
			completed = excluded.completed,
			error_count = excluded.error_count,
			last_error = excluded.last_error,
			last_update = excluded.last_update`,
		p.Account, string(p.Exchange), p.Cursor, p.LastTimestamp, p.TradeCount,
		string(p.Status), p.Completed, p.ErrorCount, p.LastError, p.LastUpdate,
	)
	return err
}

// CountTrades implements TradeStore.CountTrades.
func (d *DuckDBStorage) CountTrades(ctx context.Context, account string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := "SELECT COUNT(*) FROM trades"
	args := []interface{}{}
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, NewStorageError("count", "trades", err)
	}
	return count, nil
}

// QueryTrades implements TradeStore.QueryTrades.
func (d *DuckDBStorage) QueryTrades(ctx context.Context, req TradeQuery) ([]models.TradeRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var conditions []string
	var args []interface{}

	if req.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, req.Account)
	}
	if req.Exchange != "" {
		conditions = append(conditions, "exchange = ?")
		args = append(args, string(req.Exchange))
	}
	if req.Symbol != "" {
		conditions = append(conditions, "symbol = ?")
		args = append(args, req.Symbol)
	}

	query := "SELECT account, exchange, exec_id, order_id, symbol, side, price, size, fee, executed_at, raw FROM trades"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY executed_at DESC"
	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("query", "trades", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var exchange string
		var orderID, side, fee, raw sql.NullString
		if err := rows.Scan(&t.Account, &exchange, &t.ExecID, &orderID, &t.Symbol,
			&side, &t.Price, &t.Size, &fee, &t.ExecutedAt, &raw); err != nil {
			return nil, NewStorageError("query", "trades", err)
		}
		t.Exchange = models.ExchangeType(exchange)
		t.OrderID = orderID.String
		t.Side = side.String
		t.Fee = fee.String
		t.Raw = raw.String
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("query", "trades", err)
	}

	return trades, nil
}

// GetProgress implements ProgressStore.GetProgress.
func (d *DuckDBStorage) GetProgress(ctx context.Context, account string, exchange models.ExchangeType) (*models.AccountProgress, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRowContext(ctx, `
		SELECT account, exchange, last_cursor, last_timestamp, total_trades, status, completed, error_count, last_error, last_update
		FROM import_progress
		WHERE account = ? AND exchange = ?`,
		account, string(exchange),
	)

	p, err := scanProgress(row)
	if err == sql.ErrNoRows {
		return models.NewAccountProgress(account, exchange), nil
	}
	if err != nil {
		return nil, NewStorageError("get", "import_progress", err)
	}
	return p, nil
}

// UpsertProgress implements ProgressStore.UpsertProgress.
func (d *DuckDBStorage) UpsertProgress(ctx context.Context, progress models.AccountProgress) error {
	if err := progress.Validate(); err != nil {
		return NewStorageError("upsert", "import_progress", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("upsert", "import_progress", err)
	}
	defer tx.Rollback()

	if err := upsertProgressTx(ctx, tx, progress); err != nil {
		return NewStorageError("upsert", "import_progress", err)
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("upsert", "import_progress", err)
	}
	return nil
}

// ListAllProgress implements ProgressStore.ListAllProgress.
func (d *DuckDBStorage) ListAllProgress(ctx context.Context) ([]models.AccountProgress, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT account, exchange, last_cursor, last_timestamp, total_trades, status, completed, error_count, last_error, last_update
		FROM import_progress
		ORDER BY account ASC`)
	if err != nil {
		return nil, NewStorageError("list", "import_progress", err)
	}
	defer rows.Close()

	var records []models.AccountProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, NewStorageError("list", "import_progress", err)
		}
		records = append(records, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("list", "import_progress", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row rowScanner) (*models.AccountProgress, error) {
	var p models.AccountProgress
	var exchange, status string
	var cursor, lastError sql.NullString
	var lastTimestamp sql.NullInt64

	err := row.Scan(&p.Account, &exchange, &cursor, &lastTimestamp, &p.TradeCount,
		&status, &p.Completed, &p.ErrorCount, &lastError, &p.LastUpdate)
	if err != nil {
		return nil, err
	}

	p.Exchange = models.ExchangeType(exchange)
	p.Status = models.ProgressStatus(status)
	p.Cursor = cursor.String
	p.LastTimestamp = lastTimestamp.Int64
	p.LastError = lastError.String
	return &p, nil
}

// CreateSession implements SessionStore.CreateSession.
func (d *DuckDBStorage) CreateSession(ctx context.Context, s models.ImportSession) error {
	if err := s.Validate(); err != nil {
		return NewStorageError("insert", "import_sessions", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO import_sessions
			(session_id, mode, account_filter, status, start_time, end_time, total_accounts, completed_accounts, total_trades, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Mode), s.AccountFilter, string(s.Status), s.StartTime,
		nullTime(s.EndTime), s.TotalAccounts, s.CompletedAccounts, s.TotalTrades, s.ErrorMessage,
	)
	if err != nil {
		return NewStorageError("insert", "import_sessions", err)
	}
	return nil
}

// UpdateSession implements SessionStore.UpdateSession.
func (d *DuckDBStorage) UpdateSession(ctx context.Context, s models.ImportSession) error {
	if err := s.Validate(); err != nil {
		return NewStorageError("update", "import_sessions", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.ExecContext(ctx, `
		UPDATE import_sessions
		SET status = ?, end_time = ?, completed_accounts = ?, total_trades = ?, error_message = ?
		WHERE session_id = ?`,
		string(s.Status), nullTime(s.EndTime), s.CompletedAccounts, s.TotalTrades, s.ErrorMessage, s.ID,
	)
	if err != nil {
		return NewStorageError("update", "import_sessions", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return NewStorageError("update", "import_sessions", fmt.Errorf("session %s not found", s.ID))
	}
	return nil
}

// GetSession implements SessionStore.GetSession.
func (d *DuckDBStorage) GetSession(ctx context.Context, id string) (*models.ImportSession, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRowContext(ctx, sessionSelect+" WHERE session_id = ?", id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("get", "import_sessions", err)
	}
	return s, nil
}

// LatestSession implements SessionStore.LatestSession.
func (d *DuckDBStorage) LatestSession(ctx context.Context) (*models.ImportSession, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRowContext(ctx, sessionSelect+" ORDER BY start_time DESC LIMIT 1")
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("get", "import_sessions", err)
	}
	return s, nil
}

const sessionSelect = `
	SELECT session_id, mode, account_filter, status, start_time, end_time, total_accounts, completed_accounts, total_trades, error_message
	FROM import_sessions`

func scanSession(row rowScanner) (*models.ImportSession, error) {
	var s models.ImportSession
	var mode, status string
	var accountFilter, errorMessage sql.NullString
	var endTime sql.NullTime

	err := row.Scan(&s.ID, &mode, &accountFilter, &status, &s.StartTime, &endTime,
		&s.TotalAccounts, &s.CompletedAccounts, &s.TotalTrades, &errorMessage)
	if err != nil {
		return nil, err
	}

	s.Mode = models.SessionMode(mode)
	s.Status = models.SessionStatus(status)
	s.AccountFilter = accountFilter.String
	s.ErrorMessage = errorMessage.String
	if endTime.Valid {
		s.EndTime = endTime.Time
	}
	return &s, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// ResetAll implements Manager.ResetAll.
func (d *DuckDBStorage) ResetAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("reset", "", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"trades", "import_progress", "import_sessions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return NewStorageError("reset", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("reset", "", err)
	}

	d.logger.Info("storage reset: all trades, progress and sessions deleted")
	return nil
}

// GetStats implements Manager.GetStats.
func (d *DuckDBStorage) GetStats(ctx context.Context) (*Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := &Stats{}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades").Scan(&stats.TotalTrades); err != nil {
		return nil, NewStorageError("stats", "trades", err)
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM import_progress").Scan(&stats.TotalAccounts); err != nil {
		return nil, NewStorageError("stats", "import_progress", err)
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM import_sessions").Scan(&stats.TotalSessions); err != nil {
		return nil, NewStorageError("stats", "import_sessions", err)
	}

	if stats.TotalTrades > 0 {
		if err := d.db.QueryRowContext(ctx,
			"SELECT MIN(executed_at), MAX(executed_at) FROM trades",
		).Scan(&stats.EarliestTrade, &stats.LatestTrade); err != nil {
			return nil, NewStorageError("stats", "trades", err)
		}
	}

	return stats, nil
}

// HealthCheck implements Manager.HealthCheck.
func (d *DuckDBStorage) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()

	if db == nil {
		return NewStorageError("health_check", "", fmt.Errorf("database connection is closed"))
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", err)
	}
	return nil
}

// Close implements Manager.Close.
func (d *DuckDBStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		d.logger.Info("closing DuckDB storage")
		if err := d.db.Close(); err != nil {
			return NewStorageError("close", "", err)
		}
		d.db = nil
	}
	return nil
}

// Compile-time interface compliance check
var _ FullStorage = (*DuckDBStorage)(nil)
