package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	apperrors "github.com/OnlineSolution24/trading-dashboard-sub000/internal/errors"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/metrics"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/storage"
)

// Controller serializes import sessions: at most one session runs at a time,
// and start, stop and reset are safe to call from concurrent API requests.
type Controller struct {
	engine   *Engine
	store    storage.FullStorage
	accounts []models.Account
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	session *models.ImportSession
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewController creates a controller over the full configured account list.
func NewController(engine *Engine, store storage.FullStorage, accounts []models.Account, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		engine:   engine,
		store:    store,
		accounts: accounts,
		logger:   logger,
	}
}

// Reconcile repairs state left behind by an unclean shutdown: a session
// persisted as running while no import goroutine exists is marked stopped.
// Call once at startup before serving requests.
func (c *Controller) Reconcile(ctx context.Context) error {
	latest, err := c.store.LatestSession(ctx)
	if err != nil {
		return err
	}
	if latest == nil || !latest.IsRunning() {
		return nil
	}

	c.logger.Warn("found orphaned running session, marking stopped", "session_id", latest.ID)
	if err := latest.Stop(); err != nil {
		return err
	}
	return c.store.UpdateSession(ctx, *latest)
}

// StartImport launches a new import session in the background and returns its
// id. The accountFilter selects a single account by name, or all accounts
// when empty. Returns ErrImportRunning when a session is already active.
func (c *Controller) StartImport(accountFilter string, resume bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return "", apperrors.ErrImportRunning
	}

	accounts := c.accounts
	if accountFilter != "" {
		accounts = nil
		for _, a := range c.accounts {
			if a.Name == accountFilter {
				accounts = []models.Account{a}
				break
			}
		}
		if len(accounts) == 0 {
			return "", fmt.Errorf("unknown account %q", accountFilter)
		}
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("no accounts configured")
	}

	mode := models.ModeFull
	if resume {
		mode = models.ModeResume
	}
	session := models.NewImportSession(mode, accountFilter, len(accounts))

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.store.CreateSession(ctx, *session); err != nil {
		cancel()
		return "", err
	}

	c.running = true
	c.session = session
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		defer cancel()

		err := c.engine.Run(ctx, session, RunRequest{Accounts: accounts, Resume: resume})
		if err != nil {
			c.logger.Error("import run ended with error", "session_id", session.ID, "error", err)
		}

		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	return session.ID, nil
}

// StopImport requests a cooperative stop of the running session. The engine
// finishes the page in flight and persists all progress before the session
// reaches its stopped state. Returns ErrNoImportRunning when idle.
func (c *Controller) StopImport() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.cancel == nil {
		return apperrors.ErrNoImportRunning
	}

	c.logger.Info("stop requested", "session_id", c.session.ID)
	c.cancel()
	return nil
}

// ResetImport deletes all imported trades, progress records and session
// history. Rejected while a session is running.
func (c *Controller) ResetImport(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return apperrors.ErrResetWhileRunning
	}

	c.logger.Info("resetting import state")
	if err := c.store.ResetAll(ctx); err != nil {
		return err
	}
	c.session = nil
	return nil
}

// Metrics exposes the engine's operational counters.
func (c *Controller) Metrics() *metrics.ImportMetrics {
	return c.engine.Metrics()
}

// Running reports whether a session is currently active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CurrentSession returns the freshest durable view of the latest session.
// While a session runs its live struct belongs to the engine goroutine, so
// only its id (immutable after creation) is read here and the persisted row
// is returned instead; the engine updates that row after every account.
func (c *Controller) CurrentSession(ctx context.Context) (*models.ImportSession, error) {
	c.mu.Lock()
	var id string
	if c.running && c.session != nil {
		id = c.session.ID
	}
	c.mu.Unlock()

	if id != "" {
		session, err := c.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	return c.store.LatestSession(ctx)
}

// AllProgress returns every account's progress record, including defaults for
// configured accounts that have never been processed.
func (c *Controller) AllProgress(ctx context.Context) ([]models.AccountProgress, error) {
	stored, err := c.store.ListAllProgress(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(stored))
	for _, p := range stored {
		seen[p.Account+"|"+string(p.Exchange)] = true
	}
	for _, a := range c.accounts {
		if !seen[a.Name+"|"+string(a.Exchange)] {
			stored = append(stored, *models.NewAccountProgress(a.Name, a.Exchange))
		}
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Account < stored[j].Account })

	return stored, nil
}

// Wait blocks until the current session's goroutine exits. Used by the CLI
// for foreground runs; returns immediately when nothing is running.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}
