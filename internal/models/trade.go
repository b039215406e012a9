package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord represents one executed trade (fill) imported from an exchange.
// Records are immutable once stored. The tuple (Account, Exchange, ExecID) is
// the natural key used for duplicate-safe inserts: replaying a page that was
// already persisted must not create a second copy of any trade.
type TradeRecord struct {
	Account    string       `json:"account" db:"account"`
	Exchange   ExchangeType `json:"exchange" db:"exchange"`
	ExecID     string       `json:"exec_id" db:"exec_id"`
	OrderID    string       `json:"order_id,omitempty" db:"order_id"`
	Symbol     string       `json:"symbol" db:"symbol"`
	Side       string       `json:"side" db:"side"`
	Price      string       `json:"price" db:"price"`
	Size       string       `json:"size" db:"size"`
	Fee        string       `json:"fee,omitempty" db:"fee"`
	ExecutedAt time.Time    `json:"executed_at" db:"executed_at"`

	// Raw is the exchange's original JSON payload, kept for auditability.
	Raw string `json:"raw,omitempty" db:"raw"`
}

// Key returns the natural key of the trade as a single string.
// Used by in-memory storage and for log correlation.
func (t *TradeRecord) Key() string {
	return fmt.Sprintf("%s|%s|%s", t.Account, t.Exchange, t.ExecID)
}

// Validate performs validation of the trade record fields.
// Price and size must parse as positive decimals; the fee may be empty,
// negative (rebates) or positive.
func (t *TradeRecord) Validate() error {
	if t.Account == "" {
		return fmt.Errorf("trade account is required")
	}
	if t.Exchange == "" {
		return fmt.Errorf("trade exchange is required")
	}
	if t.ExecID == "" {
		return fmt.Errorf("trade execution id is required")
	}
	if t.Symbol == "" {
		return fmt.Errorf("trade symbol is required")
	}
	if t.ExecutedAt.IsZero() {
		return fmt.Errorf("trade execution time is required")
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return fmt.Errorf("invalid trade price %q: %w", t.Price, err)
	}
	if price.IsNegative() {
		return fmt.Errorf("trade price cannot be negative: %s", t.Price)
	}

	size, err := decimal.NewFromString(t.Size)
	if err != nil {
		return fmt.Errorf("invalid trade size %q: %w", t.Size, err)
	}
	if size.Sign() <= 0 {
		return fmt.Errorf("trade size must be positive: %s", t.Size)
	}

	if t.Fee != "" {
		if _, err := decimal.NewFromString(t.Fee); err != nil {
			return fmt.Errorf("invalid trade fee %q: %w", t.Fee, err)
		}
	}

	return nil
}
