package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/coinchat-go/internal/logger"
)

// SQLite is a Ledger persisted in a single SQLite file.
type SQLite struct {
	db              *sql.DB
	startingBalance int
}

// NewSQLite opens (and creates if needed) the ledger database at dbPath.
func NewSQLite(dbPath string, startingBalance int) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer keeps balance updates and their ledger rows serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db, startingBalance: startingBalance}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	logger.L.Info("sqlite wallet ledger initialized", "path", dbPath)
	return s, nil
}

func (s *SQLite) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL CHECK (balance >= 0),
		chat_sessions INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		description TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, seq);
	`)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) ensureWallet(ctx context.Context, db execer, userID string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallets (user_id, balance, chat_sessions, created_at) VALUES (?, ?, 0, ?)`,
		userID, s.startingBalance, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("provision wallet: %w", err)
	}
	return nil
}

// Balance implements Ledger.
func (s *SQLite) Balance(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrMissingUser
	}
	if err := s.ensureWallet(ctx, s.db, userID); err != nil {
		return 0, err
	}
	var balance int
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// Debit implements Ledger.
func (s *SQLite) Debit(ctx context.Context, userID string, amount int, description string) (Transaction, error) {
	if err := validate(userID, amount); err != nil {
		return Transaction{}, err
	}
	return s.apply(ctx, userID, Debit, amount, description, ErrInsufficientFunds,
		`UPDATE wallets SET balance = balance - ? WHERE user_id = ? AND balance >= ?`, amount, userID, amount)
}

// Credit implements Ledger.
func (s *SQLite) Credit(ctx context.Context, userID string, amount int, description string) (Transaction, error) {
	if err := validate(userID, amount); err != nil {
		return Transaction{}, err
	}
	return s.apply(ctx, userID, Credit, amount, description, ErrBalanceOverflow,
		`UPDATE wallets SET balance = balance + ? WHERE user_id = ? AND balance <= ?`, amount, userID, math.MaxInt-amount)
}

// apply runs the balance update and the ledger insert in one transaction.
// refused is returned when the conditional update matches no row.
func (s *SQLite) apply(ctx context.Context, userID string, typ TransactionType, amount int, description string, refused error, update string, args ...any) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Transaction{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := s.ensureWallet(ctx, tx, userID); err != nil {
		return Transaction{}, err
	}

	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return Transaction{}, fmt.Errorf("update balance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return Transaction{}, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return Transaction{}, refused
	}

	entry := Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: description,
		Date:        time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, string(entry.Type), entry.Amount, entry.Description, entry.Date.UnixMilli()); err != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Transaction{}, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

// RecordSession implements Ledger.
func (s *SQLite) RecordSession(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUser
	}
	if err := s.ensureWallet(ctx, s.db, userID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE wallets SET chat_sessions = chat_sessions + 1 WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// Wallet implements Ledger.
func (s *SQLite) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if err := s.ensureWallet(ctx, s.db, userID); err != nil {
		return nil, err
	}

	w := &Wallet{UserID: userID, Transactions: []Transaction{}}
	err := s.db.QueryRowContext(ctx, `
		SELECT w.balance, w.chat_sessions,
		       COALESCE(SUM(CASE WHEN t.type = 'debit' THEN t.amount END), 0),
		       COUNT(CASE WHEN t.type = 'debit' THEN 1 END)
		FROM wallets w LEFT JOIN transactions t ON t.user_id = w.user_id
		WHERE w.user_id = ?
		GROUP BY w.user_id`, userID).
		Scan(&w.Balance, &w.Stats.ChatSessions, &w.Stats.CoinsSpent, &w.Stats.MessagesSent)
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, description, created_at
		FROM transactions WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, MaxRecentTransactions)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logger.L.Warn("failed to close transaction rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var (
			entry     Transaction
			typ       string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &typ, &entry.Amount, &entry.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		entry.Type = TransactionType(typ)
		entry.Date = time.UnixMilli(createdAt).UTC()
		w.Transactions = append(w.Transactions, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return w, nil
}

// Close implements Ledger.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
