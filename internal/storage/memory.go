package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

// MemoryStorage implements FullStorage with in-memory maps. Used in tests and
// for throwaway runs where durability does not matter.
type MemoryStorage struct {
	mu sync.RWMutex

	// trades is keyed by TradeRecord.Key(), progress by account|exchange.
	trades   map[string]models.TradeRecord
	progress map[string]models.AccountProgress
	sessions map[string]models.ImportSession

	logger      *slog.Logger
	initialized bool
	closed      bool
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage(logger *slog.Logger) *MemoryStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStorage{
		trades:   make(map[string]models.TradeRecord),
		progress: make(map[string]models.AccountProgress),
		sessions: make(map[string]models.ImportSession),
		logger:   logger,
	}
}

func progressKey(account string, exchange models.ExchangeType) string {
	return account + "|" + string(exchange)
}

// Initialize implements Manager.Initialize.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewStorageError("initialize", "", fmt.Errorf("storage is closed"))
	}
	m.initialized = true
	return nil
}

func (m *MemoryStorage) checkReady() error {
	if m.closed {
		return NewStorageError("check", "", fmt.Errorf("storage is closed"))
	}
	if !m.initialized {
		return NewStorageError("check", "", fmt.Errorf("storage not initialized"))
	}
	return nil
}

// CommitPage implements TradeStore.CommitPage.
func (m *MemoryStorage) CommitPage(ctx context.Context, trades []models.TradeRecord, progress models.AccountProgress) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := progress.Validate(); err != nil {
		return 0, NewStorageError("commit_page", "import_progress", err)
	}
	for i := range trades {
		if err := trades[i].Validate(); err != nil {
			return 0, NewStorageError("commit_page", "trades", fmt.Errorf("invalid trade at index %d: %w", i, err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkReady(); err != nil {
		return 0, err
	}

	var inserted int64
	for _, t := range trades {
		key := t.Key()
		if _, exists := m.trades[key]; exists {
			continue
		}
		m.trades[key] = t
		inserted++
	}
	progress.TradeCount += inserted
	m.progress[progressKey(progress.Account, progress.Exchange)] = progress

	return inserted, nil
}

// CountTrades implements TradeStore.CountTrades.
func (m *MemoryStorage) CountTrades(ctx context.Context, account string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReady(); err != nil {
		return 0, err
	}

	if account == "" {
		return int64(len(m.trades)), nil
	}
	var count int64
	for _, t := range m.trades {
		if t.Account == account {
			count++
		}
	}
	return count, nil
}

// QueryTrades implements TradeStore.QueryTrades.
func (m *MemoryStorage) QueryTrades(ctx context.Context, req TradeQuery) ([]models.TradeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReady(); err != nil {
		return nil, err
	}

	var result []models.TradeRecord
	for _, t := range m.trades {
		if req.Account != "" && t.Account != req.Account {
			continue
		}
		if req.Exchange != "" && t.Exchange != req.Exchange {
			continue
		}
		if req.Symbol != "" && t.Symbol != req.Symbol {
			continue
		}
		result = append(result, t)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExecutedAt.After(result[j].ExecutedAt)
	})
	if req.Limit > 0 && len(result) > req.Limit {
		result = result[:req.Limit]
	}
	return result, nil
}

// GetProgress implements ProgressStore.GetProgress.
func (m *MemoryStorage) GetProgress(ctx context.Context, account string, exchange models.ExchangeType) (*models.AccountProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReady(); err != nil {
		return nil, err
	}

	if p, ok := m.progress[progressKey(account, exchange)]; ok {
		copied := p
		return &copied, nil
	}
	return models.NewAccountProgress(account, exchange), nil
}

// UpsertProgress implements ProgressStore.UpsertProgress.
func (m *MemoryStorage) UpsertProgress(ctx context.Context, progress models.AccountProgress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := progress.Validate(); err != nil {
		return NewStorageError("upsert", "import_progress", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkReady(); err != nil {
		return err
	}

	m.progress[progressKey(progress.Account, progress.Exchange)] = progress
	return nil
}

// ListAllProgress implements ProgressStore.ListAllProgress.
func (m *MemoryStorage) ListAllProgress(ctx context.Context) ([]models.AccountProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReady(); err != nil {
		return nil, err
	}

	records := make([]models.AccountProgress, 0, len(m.progress))
	for _, p := range m.progress {
		records = append(records, p)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Account != records[j].Account {
			return records[i].Account < records[j].Account
		}
		return records[i].Exchange < records[j].Exchange
	})
	return records, nil
}

// CreateSession implements SessionStore.CreateSession.
func (m *MemoryStorage) CreateSession(ctx context.Context, session models.ImportSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return NewStorageError("insert", "import_sessions", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkReady(); err != nil {
		return err
	}

	if _, exists := m.sessions[session.ID]; exists {
		return NewStorageError("insert", "import_sessions", fmt.Errorf("session %s already exists", session.ID))
	}
	m.sessions[session.ID] = session
	return nil
}

// UpdateSession implements SessionStore.UpdateSession.
func (m *MemoryStorage) UpdateSession(ctx context.Context, session models.ImportSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return NewStorageError("update", "import_sessions", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkReady(); err != nil {
		return err
	}

	if _, exists := m.sessions[session.ID]; !exists {
		return NewStorageError("update", "import_sessions", fmt.Errorf("session %s not found", session.ID))
	}
	m.sessions[session.ID] = session
	return nil
}

// GetSession implements SessionStore.GetSession.
func (m *MemoryStorage) GetSession(ctx context.Context, id string) (*models.ImportSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReady(); err != nil {
		return nil, err
	}

	if s, ok := m.sessions[id]; ok {
		copied := s
		return &copied, nil
	}
	return nil, nil
}

// LatestSession implements SessionStore.LatestSession.
func (m *MemoryStorage) LatestSession(ctx context.Context) (*models.ImportSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReady(); err != nil {
		return nil, err
	}

	var latest *models.ImportSession
	for id := range m.sessions {
		s := m.sessions[id]
		if latest == nil || s.StartTime.After(latest.StartTime) {
			copied := s
			latest = &copied
		}
	}
	return latest, nil
}

// ResetAll implements Manager.ResetAll.
func (m *MemoryStorage) ResetAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkReady(); err != nil {
		return err
	}

	m.trades = make(map[string]models.TradeRecord)
	m.progress = make(map[string]models.AccountProgress)
	m.sessions = make(map[string]models.ImportSession)
	return nil
}

// GetStats implements Manager.GetStats.
func (m *MemoryStorage) GetStats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkReady(); err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalTrades:   int64(len(m.trades)),
		TotalAccounts: len(m.progress),
		TotalSessions: len(m.sessions),
	}

	var earliest, latest time.Time
	for _, t := range m.trades {
		if earliest.IsZero() || t.ExecutedAt.Before(earliest) {
			earliest = t.ExecutedAt
		}
		if latest.IsZero() || t.ExecutedAt.After(latest) {
			latest = t.ExecutedAt
		}
	}
	stats.EarliestTrade = earliest
	stats.LatestTrade = latest
	return stats, nil
}

// HealthCheck implements Manager.HealthCheck.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkReady()
}

// Close implements Manager.Close.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Compile-time interface compliance check
var _ FullStorage = (*MemoryStorage)(nil)
