package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

func newTestDuckDB(t *testing.T) *DuckDBStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "import_test.db")
	s, err := NewDuckDBStorage(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDuckDBStorage_InitializeIsIdempotent(t *testing.T) {
	s := newTestDuckDB(t)
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.HealthCheck(context.Background()))
}

func TestDuckDBStorage_CommitPage_AtomicAndIdempotent(t *testing.T) {
	s := newTestDuckDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	trades := []models.TradeRecord{
		testTrade("acct-x", "e1", now),
		testTrade("acct-x", "e2", now.Add(time.Second)),
	}
	progress := testProgress("acct-x")
	progress.Cursor = "page-2"

	inserted, err := s.CommitPage(ctx, trades, progress)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	reloaded, err := s.GetProgress(ctx, "acct-x", models.ExchangeBybit)
	require.NoError(t, err)
	require.Equal(t, int64(2), reloaded.TradeCount)

	// Replaying the same page inserts nothing but still rewrites progress.
	reloaded.Cursor = "page-3"
	inserted, err = s.CommitPage(ctx, trades, *reloaded)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)

	count, err := s.CountTrades(ctx, "acct-x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	stored, err := s.GetProgress(ctx, "acct-x", models.ExchangeBybit)
	require.NoError(t, err)
	assert.Equal(t, "page-3", stored.Cursor)
	assert.Equal(t, int64(2), stored.TradeCount)
}

func TestDuckDBStorage_ProgressRoundTrip(t *testing.T) {
	s := newTestDuckDB(t)
	ctx := context.Background()

	p := testProgress("acct-y")
	p.Exchange = models.ExchangeBlofin
	p.Cursor = "fill-900"
	p.LastTimestamp = time.Now().UnixMilli()
	p.TradeCount = 7
	p.ErrorCount = 1
	p.LastError = "transient timeout"

	require.NoError(t, s.UpsertProgress(ctx, p))

	stored, err := s.GetProgress(ctx, "acct-y", models.ExchangeBlofin)
	require.NoError(t, err)
	assert.Equal(t, p.Cursor, stored.Cursor)
	assert.Equal(t, p.LastTimestamp, stored.LastTimestamp)
	assert.Equal(t, p.TradeCount, stored.TradeCount)
	assert.Equal(t, p.ErrorCount, stored.ErrorCount)
	assert.Equal(t, p.LastError, stored.LastError)
	assert.Equal(t, models.ProgressInProgress, stored.Status)
}

func TestDuckDBStorage_GetProgress_DefaultWhenAbsent(t *testing.T) {
	s := newTestDuckDB(t)

	p, err := s.GetProgress(context.Background(), "unseen", models.ExchangeBybit)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.ProgressPending, p.Status)
	assert.False(t, p.Completed)
}

func TestDuckDBStorage_SessionLifecycle(t *testing.T) {
	s := newTestDuckDB(t)
	ctx := context.Background()

	session := models.NewImportSession(models.ModeResume, "acct-x", 1)
	require.NoError(t, s.CreateSession(ctx, *session))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ModeResume, got.Mode)
	assert.Equal(t, "acct-x", got.AccountFilter)
	assert.True(t, got.EndTime.IsZero())

	require.NoError(t, session.Stop())
	require.NoError(t, s.UpdateSession(ctx, *session))

	got, err = s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, got.Status)
	assert.False(t, got.EndTime.IsZero())

	// Updating a nonexistent session fails.
	ghost := models.NewImportSession(models.ModeFull, "", 0)
	require.NoError(t, ghost.Complete())
	assert.Error(t, s.UpdateSession(ctx, *ghost))
}

func TestDuckDBStorage_LatestSession(t *testing.T) {
	s := newTestDuckDB(t)
	ctx := context.Background()

	latest, err := s.LatestSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := models.NewImportSession(models.ModeFull, "", 2)
	first.StartTime = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.CreateSession(ctx, *first))

	second := models.NewImportSession(models.ModeFull, "", 2)
	require.NoError(t, s.CreateSession(ctx, *second))

	latest, err = s.LatestSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}

func TestDuckDBStorage_ResetAll(t *testing.T) {
	s := newTestDuckDB(t)
	ctx := context.Background()

	_, err := s.CommitPage(ctx, []models.TradeRecord{testTrade("acct-x", "e1", time.Now().UTC())}, testProgress("acct-x"))
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(ctx, *models.NewImportSession(models.ModeFull, "", 1)))

	require.NoError(t, s.ResetAll(ctx))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalTrades)
	assert.Equal(t, 0, stats.TotalAccounts)
	assert.Equal(t, 0, stats.TotalSessions)
}

func TestDuckDBStorage_QueryTrades_Filters(t *testing.T) {
	s := newTestDuckDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	a := testTrade("acct-a", "e1", base)
	b := testTrade("acct-a", "e2", base.Add(time.Minute))
	c := testTrade("acct-b", "e3", base.Add(2*time.Minute))
	c.Symbol = "ETHUSDT"

	_, err := s.CommitPage(ctx, []models.TradeRecord{a, b, c}, testProgress("acct-a"))
	require.NoError(t, err)

	result, err := s.QueryTrades(ctx, TradeQuery{Account: "acct-a"})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "e2", result[0].ExecID)

	result, err = s.QueryTrades(ctx, TradeQuery{Symbol: "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "acct-b", result[0].Account)
}

func TestDuckDBStorage_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist_test.db")
	ctx := context.Background()

	s, err := NewDuckDBStorage(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx))

	p := testProgress("acct-x")
	p.Cursor = "survives-restart"
	_, err = s.CommitPage(ctx, []models.TradeRecord{testTrade("acct-x", "e1", time.Now().UTC())}, p)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewDuckDBStorage(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Initialize(ctx))
	defer reopened.Close()

	stored, err := reopened.GetProgress(ctx, "acct-x", models.ExchangeBybit)
	require.NoError(t, err)
	assert.Equal(t, "survives-restart", stored.Cursor)

	count, err := reopened.CountTrades(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
