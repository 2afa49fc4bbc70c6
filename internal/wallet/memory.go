package wallet

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

type account struct {
	balance      int
	chatSessions int
	transactions []Transaction // oldest first
}

// Memory is an in-process Ledger. Everything is lost on restart.
type Memory struct {
	startingBalance int
	now             func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
}

// NewMemory creates an empty in-memory ledger.
func NewMemory(startingBalance int) *Memory {
	return &Memory{
		startingBalance: startingBalance,
		now:             time.Now,
		accounts:        make(map[string]*account),
	}
}

// accountLocked must be called with m.mu held.
func (m *Memory) accountLocked(userID string) *account {
	a, ok := m.accounts[userID]
	if !ok {
		a = &account{balance: m.startingBalance}
		m.accounts[userID] = a
	}
	return a
}

// Balance implements Ledger.
func (m *Memory) Balance(_ context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrMissingUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountLocked(userID).balance, nil
}

// Debit implements Ledger.
func (m *Memory) Debit(_ context.Context, userID string, amount int, description string) (Transaction, error) {
	if err := validate(userID, amount); err != nil {
		return Transaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.accountLocked(userID)
	if a.balance < amount {
		return Transaction{}, ErrInsufficientFunds
	}
	a.balance -= amount
	return m.recordLocked(a, userID, Debit, amount, description), nil
}

// Credit implements Ledger.
func (m *Memory) Credit(_ context.Context, userID string, amount int, description string) (Transaction, error) {
	if err := validate(userID, amount); err != nil {
		return Transaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.accountLocked(userID)
	if amount > math.MaxInt-a.balance {
		return Transaction{}, ErrBalanceOverflow
	}
	a.balance += amount
	return m.recordLocked(a, userID, Credit, amount, description), nil
}

func (m *Memory) recordLocked(a *account, userID string, typ TransactionType, amount int, description string) Transaction {
	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: description,
		Date:        m.now(),
	}
	a.transactions = append(a.transactions, tx)
	return tx
}

// RecordSession implements Ledger.
func (m *Memory) RecordSession(_ context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountLocked(userID).chatSessions++
	return nil
}

// Wallet implements Ledger.
func (m *Memory) Wallet(_ context.Context, userID string) (*Wallet, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.accountLocked(userID)
	w := &Wallet{
		UserID:       userID,
		Balance:      a.balance,
		Stats:        Stats{ChatSessions: a.chatSessions},
		Transactions: make([]Transaction, 0, min(len(a.transactions), MaxRecentTransactions)),
	}
	for _, tx := range a.transactions {
		if tx.Type == Debit {
			w.Stats.CoinsSpent += tx.Amount
			w.Stats.MessagesSent++
		}
	}
	for i := len(a.transactions) - 1; i >= 0 && len(w.Transactions) < MaxRecentTransactions; i-- {
		w.Transactions = append(w.Transactions, a.transactions[i])
	}
	return w, nil
}

// Close implements Ledger. There is nothing to release.
func (m *Memory) Close() error { return nil }
