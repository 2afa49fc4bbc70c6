package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/comigor/coinchat-go/internal/logger"
)

// BalanceSource is the read side of the wallet ledger.
type BalanceSource interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// Manager owns the live sessions of the process.
type Manager struct {
	balances  BalanceSource
	responder Responder
	opts      []Option

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager; opts are applied to every session it opens.
func NewManager(balances BalanceSource, responder Responder, opts ...Option) *Manager {
	return &Manager{
		balances:  balances,
		responder: responder,
		opts:      opts,
		sessions:  make(map[string]*Session),
	}
}

// Open starts a session for userID. The ledger balance is read exactly once, here.
func (m *Manager) Open(ctx context.Context, userID string, extra ...Option) (*Session, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	balance, err := m.balances.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read starting balance: %w", err)
	}

	opts := append(append([]Option{}, m.opts...), extra...)
	s, err := NewSession(userID, balance, m.responder, opts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	logger.L.Info("session opened", "session_id", s.ID(), "user_id", userID, "balance", balance)
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ForUser lists the live sessions owned by userID.
func (m *Manager) ForUser(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.UserID() == userID {
			out = append(out, s)
		}
	}
	return out
}

// Recent summarizes the live sessions of userID, most recent activity first.
func (m *Manager) Recent(userID string) []Summary {
	sessions := m.ForUser(userID)
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// EvictIdle drops sessions that have been idle for at least ttl and returns
// how many were removed. Sessions awaiting a reply or with subscribers stay.
func (m *Manager) EvictIdle(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		idle, ok := s.idleFor()
		if !ok || idle < ttl {
			continue
		}
		delete(m.sessions, id)
		evicted++
		logger.L.Debug("session evicted", "session_id", id, "user_id", s.UserID(), "idle", idle)
	}
	return evicted
}

// Sweep runs EvictIdle every interval until ctx is done. A non-positive ttl
// disables eviction.
func (m *Manager) Sweep(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(ttl); n > 0 {
				logger.L.Info("evicted idle sessions", "count", n)
			}
		}
	}
}
