// Package wallet is the coin ledger: balances, transaction history and the
// usage statistics shown on the wallet page.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comigor/coinchat-go/internal/config"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrBalanceOverflow   = fmt.Errorf("%w: balance would overflow", ErrInvalidAmount)
	ErrMissingUser       = errors.New("user id is required")
)

// TransactionType is the direction of a ledger entry.
type TransactionType string

const (
	Credit TransactionType = "credit"
	Debit  TransactionType = "debit"
)

// Transaction is one ledger entry.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        TransactionType `json:"type"`
	Amount      int             `json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
}

// Stats summarizes chat usage.
type Stats struct {
	ChatSessions int `json:"chat_sessions"`
	CoinsSpent   int `json:"coins_spent"`
	MessagesSent int `json:"messages_sent"`
}

// Wallet is the overview of one user's account.
type Wallet struct {
	UserID       string        `json:"user_id"`
	Balance      int           `json:"balance"`
	Stats        Stats         `json:"stats"`
	Transactions []Transaction `json:"transactions"`
}

// Ledger is the service of record for balances. Unknown users are
// provisioned with the configured starting balance on first access.
type Ledger interface {
	// Balance returns the user's current balance.
	Balance(ctx context.Context, userID string) (int, error)

	// Debit removes amount coins. It fails with ErrInsufficientFunds instead of going negative.
	Debit(ctx context.Context, userID string, amount int, description string) (Transaction, error)

	// Credit adds amount coins. It fails with ErrBalanceOverflow when the
	// balance cannot hold them.
	Credit(ctx context.Context, userID string, amount int, description string) (Transaction, error)

	// RecordSession counts a newly opened chat session.
	RecordSession(ctx context.Context, userID string) error

	// Wallet returns balance, stats and the most recent transactions, newest first.
	Wallet(ctx context.Context, userID string) (*Wallet, error)

	// Close releases the ledger's resources. Balances are not affected.
	Close() error
}

// MaxRecentTransactions bounds Wallet().Transactions.
const MaxRecentTransactions = 50

// Open creates the ledger selected by cfg.Driver.
func Open(cfg config.WalletConfig) (Ledger, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemory(cfg.StartingBalance), nil
	case config.DriverSQLite:
		return NewSQLite(cfg.DBPath, cfg.StartingBalance)
	default:
		return nil, fmt.Errorf("unsupported wallet driver %q", cfg.Driver)
	}
}

func validate(userID string, amount int) error {
	if userID == "" {
		return ErrMissingUser
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
