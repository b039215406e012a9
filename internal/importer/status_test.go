package importer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

func TestPercentComplete(t *testing.T) {
	tests := []struct {
		name      string
		running   bool
		completed int
		total     int
		want      float64
	}{
		{"no accounts", false, 0, 0, 0},
		{"nothing done", true, 0, 3, 0},
		{"one of three", true, 1, 3, 100.0 / 3},
		{"all done but still running caps at 95", true, 3, 3, 95},
		{"all done and finished", false, 3, 3, 100},
		{"finished with failures stays below 100", false, 2, 3, 200.0 / 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, percentComplete(tt.running, tt.completed, tt.total), 0.001)
		})
	}
}

func TestEstimateETA(t *testing.T) {
	// Two of four accounts done in one minute: two more minutes to go.
	assert.Equal(t, int64(120), estimateETA(time.Minute, 2, 4))

	// No completed accounts yet: no basis for an estimate.
	assert.Equal(t, int64(0), estimateETA(time.Minute, 0, 4))

	// Everything done.
	assert.Equal(t, int64(0), estimateETA(time.Minute, 4, 4))
}

func TestStatusMessage(t *testing.T) {
	running := &Status{Running: true, CurrentAccount: "acct-b", CompletedAccounts: 1, TotalAccounts: 3}
	assert.Equal(t, "importing acct-b (1/3 accounts done)", statusMessage(running, nil))

	between := &Status{Running: true, CompletedAccounts: 2, TotalAccounts: 3}
	assert.Equal(t, "import running (2/3 accounts done)", statusMessage(between, nil))

	idle := &Status{}
	assert.Equal(t, "no import has run yet", statusMessage(idle, nil))

	failed := models.NewImportSession(models.ModeFull, "", 2)
	require.NoError(t, failed.Fail("disk full"))
	assert.Equal(t, "last import failed: disk full", statusMessage(idle, failed))

	stopped := models.NewImportSession(models.ModeFull, "", 2)
	stopped.TotalTrades = 7
	require.NoError(t, stopped.Stop())
	assert.Equal(t, "last import stopped with 7 trades imported", statusMessage(idle, stopped))

	done := models.NewImportSession(models.ModeFull, "", 2)
	done.TotalTrades = 42
	require.NoError(t, done.Complete())
	assert.Equal(t, "last import completed with 42 trades imported", statusMessage(idle, done))
}

func TestStatusOf_AggregatesProgress(t *testing.T) {
	c, store := newControllerFixture(t, newBlockingFetcher(),
		testAccount("acct-a"), testAccount("acct-b"), testAccount("acct-c"))
	ctx := context.Background()

	done := models.NewAccountProgress("acct-a", models.ExchangeBybit)
	done.TradeCount = 100
	done.MarkCompleted()
	require.NoError(t, store.UpsertProgress(ctx, *done))

	failed := models.NewAccountProgress("acct-b", models.ExchangeBybit)
	failed.RecordError("credentials rejected", true)
	require.NoError(t, store.UpsertProgress(ctx, *failed))

	active := models.NewAccountProgress("acct-c", models.ExchangeBybit)
	active.BeginResume()
	active.TradeCount = 25
	require.NoError(t, store.UpsertProgress(ctx, *active))

	status, err := StatusOf(ctx, c, true)
	require.NoError(t, err)

	assert.False(t, status.Running)
	assert.Equal(t, 3, status.TotalAccounts)
	assert.Equal(t, 1, status.CompletedAccounts)
	assert.Equal(t, 1, status.ErrorAccounts)
	assert.Equal(t, int64(125), status.TotalTrades)
	assert.Equal(t, "acct-c", status.CurrentAccount)
	assert.InDelta(t, 100.0/3, status.PercentComplete, 0.001)
	assert.Len(t, status.Accounts, 3)
	assert.NotEmpty(t, status.Message)
}

func TestStatusOf_IncludesDefaultsForUnprocessedAccounts(t *testing.T) {
	c, _ := newControllerFixture(t, newBlockingFetcher(),
		testAccount("acct-a"), testAccount("acct-b"))

	status, err := StatusOf(context.Background(), c, true)
	require.NoError(t, err)

	assert.Equal(t, 2, status.TotalAccounts)
	assert.Equal(t, 0, status.CompletedAccounts)
	assert.Equal(t, float64(0), status.PercentComplete)
	require.Len(t, status.Accounts, 2)
	for _, p := range status.Accounts {
		assert.Equal(t, models.ProgressPending, p.Status)
	}
}
