// Package exchange defines the adapter interface for fetching trade history
// from exchanges, plus the per-exchange implementations.
//
// Each adapter exposes a single capability: fetch one page of executed trades
// given a continuation cursor. Pagination semantics, authentication and field
// names differ per exchange; the import engine is written once against the
// TradeFetcher interface and selects an adapter from the account's exchange
// type.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
)

// TradeFetcher retrieves one page of trade history from an exchange.
//
// Implementations must:
//   - return pages in the exchange's stable time order, so that resuming
//     from a saved cursor reproduces the same remaining sequence
//   - translate exchange rate-limit responses into *errors.RateLimitError
//     rather than a generic failure
//   - translate credential rejections into *errors.AccountFatalError
//   - return an empty NextCursor when no more history is available (the
//     exchange's retention window may end earlier than the requested start)
type TradeFetcher interface {
	FetchTrades(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// FetchRequest describes one page fetch.
type FetchRequest struct {
	// StartTime bounds the query to trades executed at or after this time.
	// Ignored by exchanges whose cursor already encodes the position.
	StartTime time.Time

	// Cursor is the opaque continuation token from the previous page's
	// NextCursor, or empty to start from StartTime.
	Cursor string

	// Limit is the maximum number of trades per page. Adapters clamp it to
	// the exchange's maximum.
	Limit int
}

// FetchResponse is one page of trade history.
type FetchResponse struct {
	// Trades are the normalized records of this page, oldest-known order
	// as returned by the exchange.
	Trades []models.TradeRecord

	// NextCursor is the continuation token for the following page. Empty
	// means the history is exhausted.
	NextCursor string
}

// NewFetcher returns the adapter for the account's exchange type.
func NewFetcher(account models.Account, logger *slog.Logger) (TradeFetcher, error) {
	switch account.Exchange {
	case models.ExchangeBybit:
		return NewBybitAdapter(account, logger), nil
	case models.ExchangeBlofin:
		return NewBlofinAdapter(account, logger), nil
	default:
		return nil, fmt.Errorf("no adapter for exchange %q", account.Exchange)
	}
}

// Registry resolves fetchers for accounts. The engine depends on this
// interface so tests can substitute scripted adapters.
type Registry interface {
	FetcherFor(account models.Account) (TradeFetcher, error)
}

// AdapterRegistry is the production Registry backed by NewFetcher, with one
// cached adapter per account so rate limiters persist across pages.
type AdapterRegistry struct {
	logger   *slog.Logger
	fetchers map[string]TradeFetcher
}

// NewAdapterRegistry creates a registry for live exchange adapters.
func NewAdapterRegistry(logger *slog.Logger) *AdapterRegistry {
	return &AdapterRegistry{
		logger:   logger,
		fetchers: make(map[string]TradeFetcher),
	}
}

// FetcherFor implements Registry.
func (r *AdapterRegistry) FetcherFor(account models.Account) (TradeFetcher, error) {
	key := account.Name + "|" + string(account.Exchange)
	if f, ok := r.fetchers[key]; ok {
		return f, nil
	}
	f, err := NewFetcher(account, r.logger)
	if err != nil {
		return nil, err
	}
	r.fetchers[key] = f
	return f, nil
}
