package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

// Status is the aggregated view of the importer for the dashboard.
type Status struct {
	Running           bool                     `json:"running"`
	Message           string                   `json:"message"`
	Session           *models.ImportSession    `json:"session,omitempty"`
	TotalAccounts     int                      `json:"total_accounts"`
	CompletedAccounts int                      `json:"completed_accounts"`
	ErrorAccounts     int                      `json:"error_accounts"`
	TotalTrades       int64                    `json:"total_trades"`
	CurrentAccount    string                   `json:"current_account,omitempty"`
	PercentComplete   float64                  `json:"percent_complete"`
	ETASeconds        int64                    `json:"eta_seconds,omitempty"`
	Accounts          []models.AccountProgress `json:"accounts,omitempty"`
}

// runningPercentCap keeps the reported percentage below 100 while the
// session is still running, since the per-account page counts are unknown
// upfront and the last account can hold the session open for a while.
const runningPercentCap = 95.0

// StatusOf aggregates the controller's session and progress rows into one
// dashboard status. includeAccounts controls whether the per-account detail
// rows are attached.
func StatusOf(ctx context.Context, c *Controller, includeAccounts bool) (*Status, error) {
	session, err := c.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	progress, err := c.AllProgress(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Running:       c.Running(),
		Session:       session,
		TotalAccounts: len(progress),
	}

	for _, p := range progress {
		status.TotalTrades += p.TradeCount
		switch p.Status {
		case models.ProgressCompleted:
			status.CompletedAccounts++
		case models.ProgressError:
			status.ErrorAccounts++
		case models.ProgressInProgress:
			if status.CurrentAccount == "" {
				status.CurrentAccount = p.Account
			}
		}
	}

	status.PercentComplete = percentComplete(status.Running, status.CompletedAccounts, status.TotalAccounts)
	if status.Running && session != nil {
		status.ETASeconds = estimateETA(session.Duration(), status.CompletedAccounts, status.TotalAccounts)
	}
	status.Message = statusMessage(status, session)
	if includeAccounts {
		status.Accounts = progress
	}

	return status, nil
}

// statusMessage is the one-line human readable summary the dashboard shows
// next to the progress bar.
func statusMessage(s *Status, session *models.ImportSession) string {
	switch {
	case s.Running && s.CurrentAccount != "":
		return fmt.Sprintf("importing %s (%d/%d accounts done)", s.CurrentAccount, s.CompletedAccounts, s.TotalAccounts)
	case s.Running:
		return fmt.Sprintf("import running (%d/%d accounts done)", s.CompletedAccounts, s.TotalAccounts)
	case session == nil:
		return "no import has run yet"
	case session.Status == models.SessionError:
		return fmt.Sprintf("last import failed: %s", session.ErrorMessage)
	case session.Status == models.SessionStopped:
		return fmt.Sprintf("last import stopped with %d trades imported", session.TotalTrades)
	default:
		return fmt.Sprintf("last import %s with %d trades imported", session.Status, session.TotalTrades)
	}
}

// percentComplete reports completed accounts over total. Accounts that ended
// in error are terminal but deliberately not counted as completed, so a
// finished session with failures reads below 100 percent.
func percentComplete(running bool, completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(completed) / float64(total) * 100
	if running && pct > runningPercentCap {
		pct = runningPercentCap
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// estimateETA projects the remaining time linearly from the pace of the
// accounts finished so far. Zero until at least one account has completed.
func estimateETA(elapsed time.Duration, completed, total int) int64 {
	if completed <= 0 || total <= completed {
		return 0
	}
	perAccount := elapsed / time.Duration(completed)
	remaining := perAccount * time.Duration(total-completed)
	return int64(remaining.Seconds())
}
