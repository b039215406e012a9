// Package importer contains the progressive import engine, the session
// controller and the status aggregator.
//
// The engine walks the configured accounts in a stable order and pages
// through each account's trade history. Every page is committed atomically
// together with the advanced cursor, so the importer can be interrupted at
// any page boundary and resumed without losing or double counting trades.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/config"
	apperrors "github.com/OnlineSolution24/trading-dashboard-sub000/internal/errors"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/exchange"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/metrics"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/storage"
)

// Options tunes the engine's pacing and retry behavior.
type Options struct {
	// LookbackDays bounds a full import to this many days of history.
	LookbackDays int

	// PageSize is the number of trades requested per page.
	PageSize int

	// MaxPages caps the pages fetched per account in one run. An account
	// that hits the cap is left in progress with its cursor saved.
	MaxPages int

	// MaxRetries bounds retries of a single page on transient failures.
	MaxRetries int

	// MaxEmptyPages is the number of consecutive empty pages tolerated
	// before the account is considered exhausted.
	MaxEmptyPages int

	// PageDelay is the pause between successive page fetches.
	PageDelay time.Duration

	// AccountDelay is the pause between accounts.
	AccountDelay time.Duration

	// RateLimitBackoff is the pause after a rate-limit response that did
	// not carry its own Retry-After.
	RateLimitBackoff time.Duration

	// MaxRateLimitPauses bounds how many rate-limit pauses a single page
	// fetch absorbs before the error counts against MaxRetries like any
	// other transient failure.
	MaxRateLimitPauses int
}

// OptionsFromConfig builds engine options from the importer configuration.
func OptionsFromConfig(cfg config.ImporterConfig) Options {
	return Options{
		LookbackDays:     cfg.LookbackDays,
		PageSize:         cfg.PageSize,
		MaxPages:         cfg.MaxPages,
		MaxRetries:       cfg.MaxRetries,
		MaxEmptyPages:    cfg.MaxEmptyPages,
		PageDelay:        config.ParseDuration(cfg.PageDelay, time.Second),
		AccountDelay:     config.ParseDuration(cfg.AccountDelay, 3*time.Second),
		RateLimitBackoff: config.ParseDuration(cfg.RateLimitBackoff, 5*time.Second),
	}
}

func (o Options) withDefaults() Options {
	if o.LookbackDays <= 0 {
		o.LookbackDays = 90
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 100
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.MaxEmptyPages <= 0 {
		o.MaxEmptyPages = 3
	}
	if o.RateLimitBackoff <= 0 {
		o.RateLimitBackoff = 5 * time.Second
	}
	if o.MaxRateLimitPauses <= 0 {
		o.MaxRateLimitPauses = 10
	}
	return o
}

// RunRequest describes one engine run.
type RunRequest struct {
	// Accounts is the resolved account list for this run, already filtered
	// by the controller.
	Accounts []models.Account

	// Resume continues each account from its saved cursor instead of
	// restarting at the lookback boundary. Accounts already completed are
	// skipped entirely.
	Resume bool
}

// Engine imports trade history for a set of accounts, one account at a time.
type Engine struct {
	store    storage.FullStorage
	registry exchange.Registry
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.ImportMetrics

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates an import engine.
func NewEngine(store storage.FullStorage, registry exchange.Registry, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logger,
		metrics:  metrics.New(),
		now:      time.Now,
	}
}

// Metrics exposes the engine's operational counters.
func (e *Engine) Metrics() *metrics.ImportMetrics { return e.metrics }

// Run executes one import session to a terminal state. The session must be
// freshly created and already persisted by the caller. Cancellation of ctx is
// the cooperative stop signal: the engine finishes the page in flight,
// persists progress and marks the session stopped.
//
// Run returns an error only when the session could not reach a clean
// terminal state; per-account failures are recorded in the progress rows and
// do not fail the run.
func (e *Engine) Run(ctx context.Context, session *models.ImportSession, req RunRequest) error {
	accounts := make([]models.Account, len(req.Accounts))
	copy(accounts, req.Accounts)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })

	lookbackStart := e.now().UTC().AddDate(0, 0, -e.opts.LookbackDays)

	e.metrics.SessionStarted()
	e.logger.Info("import session started",
		"session_id", session.ID,
		"mode", session.Mode,
		"accounts", len(accounts),
		"lookback_start", lookbackStart)

	stopped := false
	for i, account := range accounts {
		if err := ctx.Err(); err != nil {
			stopped = true
			break
		}
		if i > 0 && e.opts.AccountDelay > 0 {
			if !sleepCtx(ctx, e.opts.AccountDelay) {
				stopped = true
				break
			}
		}

		completed, trades, err := e.importAccount(ctx, account, req.Resume, lookbackStart)
		session.TotalTrades += trades
		if completed {
			session.CompletedAccounts++
		}

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			stopped = true
		case apperrors.IsStoreFailure(err):
			// Cannot make durable progress; end the whole run.
			e.logger.Error("import session failed on store error",
				"session_id", session.ID, "account", account.Name, "error", err)
			if ferr := session.Fail(err.Error()); ferr == nil {
				e.persistSession(session)
			}
			return err
		default:
			// Account-level failure already recorded in its progress row.
			e.logger.Warn("account import failed",
				"session_id", session.ID, "account", account.Name, "error", err)
		}

		if stopped {
			break
		}
		e.persistSession(session)
	}

	if stopped {
		if err := session.Stop(); err != nil {
			return err
		}
		e.persistSession(session)
		e.logger.Info("import session stopped",
			"session_id", session.ID,
			"completed_accounts", session.CompletedAccounts,
			"total_trades", session.TotalTrades)
		return nil
	}

	// The session completes even when some accounts errored; their state is
	// visible in the progress rows.
	if err := session.Complete(); err != nil {
		return err
	}
	e.persistSession(session)
	e.logger.Info("import session completed",
		"session_id", session.ID,
		"completed_accounts", session.CompletedAccounts,
		"total_accounts", session.TotalAccounts,
		"total_trades", session.TotalTrades,
		"duration", session.Duration())
	return nil
}

// importAccount pages through one account's history. It returns whether the
// account finished completed, and how many new trades were inserted in this
// run.
func (e *Engine) importAccount(ctx context.Context, account models.Account, resume bool, lookbackStart time.Time) (bool, int64, error) {
	log := e.logger.With("account", account.Name, "exchange", account.Exchange)

	progress, err := e.store.GetProgress(ctx, account.Name, account.Exchange)
	if err != nil {
		return false, 0, apperrors.NewStoreError("get_progress", err)
	}

	if resume && progress.Completed {
		log.Debug("account already completed, skipping")
		return true, 0, nil
	}

	if !account.HasCredentials() {
		progress.RecordError("missing credentials", true)
		if uerr := e.store.UpsertProgress(ctx, *progress); uerr != nil {
			return false, 0, apperrors.NewStoreError("upsert_progress", uerr)
		}
		e.metrics.AccountFailed()
		return false, 0, apperrors.NewAccountFatal(account.Name, "missing credentials", nil)
	}

	fetcher, err := e.registry.FetcherFor(account)
	if err != nil {
		progress.RecordError(err.Error(), true)
		if uerr := e.store.UpsertProgress(ctx, *progress); uerr != nil {
			return false, 0, apperrors.NewStoreError("upsert_progress", uerr)
		}
		e.metrics.AccountFailed()
		return false, 0, apperrors.NewAccountFatal(account.Name, "no adapter", err)
	}

	if resume && progress.Status != models.ProgressPending {
		progress.BeginResume()
	} else {
		progress.BeginFresh(lookbackStart)
	}
	if err := e.store.UpsertProgress(ctx, *progress); err != nil {
		return false, 0, apperrors.NewStoreError("upsert_progress", err)
	}

	log.Info("importing account",
		"resume", resume,
		"cursor", progress.Cursor,
		"existing_trades", progress.TradeCount)

	var runTrades int64
	emptyPages := 0
	exhausted := false

	for page := 0; page < e.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			// Cooperative stop at the page boundary. Progress through the
			// previous page is already durable.
			return false, runTrades, err
		}
		if page > 0 && e.opts.PageDelay > 0 {
			if !sleepCtx(ctx, e.opts.PageDelay) {
				return false, runTrades, ctx.Err()
			}
		}

		resp, err := e.fetchPage(ctx, fetcher, exchange.FetchRequest{
			StartTime: time.UnixMilli(progress.LastTimestamp).UTC(),
			Cursor:    progress.Cursor,
			Limit:     e.opts.PageSize,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false, runTrades, err
			}
			terminal := apperrors.IsAccountFatal(err)
			progress.RecordError(err.Error(), terminal)
			if uerr := e.store.UpsertProgress(ctx, *progress); uerr != nil {
				return false, runTrades, apperrors.NewStoreError("upsert_progress", uerr)
			}
			if terminal {
				e.metrics.AccountFailed()
				return false, runTrades, err
			}
			// Transient failure that survived all retries. Leave the
			// account in progress so a resume can pick it up.
			return false, runTrades, fmt.Errorf("account %s: page %d failed: %w", account.Name, page, err)
		}

		if len(resp.Trades) == 0 {
			// An empty page with no cursor is the normal end of listing,
			// regardless of what cursor led here. This is also how a
			// resume at the end of history answers.
			emptyPages++
			if resp.NextCursor == "" || emptyPages >= e.opts.MaxEmptyPages {
				exhausted = true
				break
			}
			progress.Cursor = resp.NextCursor
			continue
		}
		emptyPages = 0

		lastTs := progress.LastTimestamp
		for _, t := range resp.Trades {
			if ms := t.ExecutedAt.UnixMilli(); ms > lastTs {
				lastTs = ms
			}
		}

		committed := *progress
		committed.Cursor = resp.NextCursor
		if lastTs > committed.LastTimestamp {
			committed.LastTimestamp = lastTs
		}
		committed.LastUpdate = e.now().UTC()

		inserted, err := e.store.CommitPage(ctx, resp.Trades, committed)
		if err != nil {
			return false, runTrades, apperrors.NewStoreError("commit_page", err)
		}
		if err := progress.Advance(resp.NextCursor, lastTs, inserted); err != nil {
			return false, runTrades, err
		}
		runTrades += inserted
		e.metrics.PageFetched(len(resp.Trades), inserted)

		log.Debug("page committed",
			"page", page,
			"page_trades", len(resp.Trades),
			"inserted", inserted,
			"next_cursor", resp.NextCursor != "")

		if resp.NextCursor == "" {
			exhausted = true
			break
		}
	}

	if exhausted {
		progress.MarkCompleted()
	}
	// A run that hit MaxPages leaves the account in progress with its
	// cursor saved for the next session.

	if err := e.store.UpsertProgress(ctx, *progress); err != nil {
		return false, runTrades, apperrors.NewStoreError("upsert_progress", err)
	}

	log.Info("account import finished",
		"status", progress.Status,
		"run_trades", runTrades,
		"total_trades", progress.TradeCount)

	if progress.Status == models.ProgressCompleted {
		e.metrics.AccountCompleted()
	}
	return progress.Status == models.ProgressCompleted, runTrades, nil
}

// fetchPage retries a single page fetch on transient failures. Rate-limit
// pauses have their own, larger allowance before they start consuming retry
// attempts, so a persistently throttling exchange cannot hold the page loop
// open forever; the cursor never moves here.
func (e *Engine) fetchPage(ctx context.Context, fetcher exchange.TradeFetcher, req exchange.FetchRequest) (*exchange.FetchResponse, error) {
	var lastErr error
	attempts := 0
	pauses := 0
	for attempts <= e.opts.MaxRetries {
		resp, err := fetcher.FetchTrades(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if apperrors.IsRateLimit(err) {
			e.metrics.RateLimited()
			if pauses < e.opts.MaxRateLimitPauses {
				pauses++
				pause := apperrors.RetryAfter(err)
				if pause <= 0 {
					pause = e.opts.RateLimitBackoff
				}
				e.logger.Debug("rate limited, pausing", "pause", pause)
				if !sleepCtx(ctx, pause) {
					return nil, ctx.Err()
				}
				continue
			}
		} else if !apperrors.IsRetryable(err) {
			return nil, err
		}

		attempts++
		if attempts > e.opts.MaxRetries {
			break
		}
		e.metrics.Retried()
		if !sleepCtx(ctx, e.opts.PageDelay) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// persistSession updates the session row, logging rather than failing on
// error: the session record is bookkeeping, the trades and cursors are the
// durable state that matters.
func (e *Engine) persistSession(session *models.ImportSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateSession(ctx, *session); err != nil {
		e.logger.Error("failed to persist session", "session_id", session.ID, "error", err)
	}
}

// sleepCtx pauses for d, returning false when ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
