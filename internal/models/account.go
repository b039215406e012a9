package models

import "fmt"

// ExchangeType identifies the exchange family an account belongs to.
// Each exchange family has its own adapter with its own pagination semantics.
type ExchangeType string

const (
	ExchangeBybit  ExchangeType = "bybit"  // ExchangeBybit for Bybit unified trading accounts
	ExchangeBlofin ExchangeType = "blofin" // ExchangeBlofin for Blofin futures accounts
)

// Account identifies one exchange sub-account configured for import.
// Credentials are referenced by environment variable name and resolved at
// startup; the resolved values are never persisted or logged.
type Account struct {
	Name     string       `json:"name" yaml:"name"`
	Exchange ExchangeType `json:"exchange" yaml:"exchange"`

	// Resolved credentials. Excluded from any serialization.
	Key        string `json:"-" yaml:"-"`
	Secret     string `json:"-" yaml:"-"`
	Passphrase string `json:"-" yaml:"-"`
}

// Validate checks that the account is usable for import.
func (a *Account) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("account name is required")
	}

	switch a.Exchange {
	case ExchangeBybit, ExchangeBlofin:
	default:
		return fmt.Errorf("unsupported exchange %q for account %s", a.Exchange, a.Name)
	}

	if a.Key == "" || a.Secret == "" {
		return fmt.Errorf("account %s: missing API credentials", a.Name)
	}

	// Blofin additionally signs with a passphrase.
	if a.Exchange == ExchangeBlofin && a.Passphrase == "" {
		return fmt.Errorf("account %s: blofin accounts require a passphrase", a.Name)
	}

	return nil
}

// HasCredentials reports whether the account carries enough credentials to
// attempt API calls. Unlike Validate it does not treat missing credentials
// as a configuration error; the importer records such accounts as failed.
func (a *Account) HasCredentials() bool {
	if a.Key == "" || a.Secret == "" {
		return false
	}
	if a.Exchange == ExchangeBlofin && a.Passphrase == "" {
		return false
	}
	return true
}
