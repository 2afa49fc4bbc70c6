package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBalances struct {
	mu       sync.Mutex
	balances map[string]int
	reads    map[string]int
	err      error
}

func (f *fakeBalances) Balance(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.reads[userID]++
	return f.balances[userID], nil
}

func TestManager_OpenReadsLedgerOnce(t *testing.T) {
	balances := &fakeBalances{balances: map[string]int{"alice": 150}, reads: map[string]int{}}
	m := NewManager(balances, newScriptedResponder(), WithCostPerMessage(2))

	s, err := m.Open(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 150, s.Balance())
	require.Equal(t, 1, balances.reads["alice"])

	require.NoError(t, s.Submit(context.Background(), "I have a headache"))
	_ = s.Snapshot()
	require.Equal(t, 1, balances.reads["alice"], "balance must not be re-read mid-session")

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	require.Same(t, s, got)
}

func TestManager_OpenErrors(t *testing.T) {
	m := NewManager(&fakeBalances{err: errors.New("ledger down")}, newScriptedResponder())

	_, err := m.Open(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingUser)

	_, err = m.Open(context.Background(), "bob")
	require.ErrorContains(t, err, "ledger down")
}

func TestManager_GetAndForUser(t *testing.T) {
	balances := &fakeBalances{balances: map[string]int{"alice": 10, "bob": 20}, reads: map[string]int{}}
	m := NewManager(balances, newScriptedResponder())

	_, err := m.Get("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	a1, err := m.Open(context.Background(), "alice")
	require.NoError(t, err)
	a2, err := m.Open(context.Background(), "alice", WithGreeting("Welcome back"))
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "bob")
	require.NoError(t, err)

	require.ElementsMatch(t, []*Session{a1, a2}, m.ForUser("alice"))
	require.Len(t, m.ForUser("carol"), 0)
	require.Equal(t, "Welcome back", a2.Transcript()[0].Text)
}

// sharedWallet is a ledger every session of a user debits.
type sharedWallet struct {
	mu      sync.Mutex
	balance int
}

func (w *sharedWallet) Balance(context.Context, string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance, nil
}

func (w *sharedWallet) charge(_ context.Context, c Charge) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balance < c.Amount {
		return fmt.Errorf("%w: wallet holds %d", ErrInsufficientBalance, w.balance)
	}
	w.balance -= c.Amount
	return nil
}

func TestManager_SessionsShareOneWallet(t *testing.T) {
	ctx := context.Background()
	w := &sharedWallet{balance: 4}
	m := NewManager(w, newScriptedResponder(), WithCostPerMessage(2), WithChargeHook(w.charge))

	phone, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	laptop, err := m.Open(ctx, "alice")
	require.NoError(t, err)

	accepted := 0
	for i := 0; i < 2; i++ {
		for _, s := range []*Session{phone, laptop} {
			err := s.Submit(ctx, "question")
			if err == nil {
				accepted++
				s.ReceiveAssistantReply("answer")
				continue
			}
			require.ErrorIs(t, err, ErrInsufficientBalance)
		}
	}

	require.Equal(t, 2, accepted, "a 4-coin wallet pays for two messages")
	require.Equal(t, 0, w.balance)
}

func TestManager_EvictIdle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2025, 9, 20, 9, 0, 0, 0, time.UTC))
	balances := &fakeBalances{balances: map[string]int{"alice": 150}, reads: map[string]int{}}
	responder := newScriptedResponder()
	m := NewManager(balances, responder, WithClock(clock.Now))

	stale, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	waiting, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	watched, err := m.Open(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, waiting.Submit(ctx, "still thinking?"))
	_, unsubscribe := watched.Subscribe(1)

	clock.Advance(10 * time.Minute)
	fresh, err := m.Open(ctx, "alice")
	require.NoError(t, err)

	require.Equal(t, 0, m.EvictIdle(time.Hour))
	require.Equal(t, 1, m.EvictIdle(5*time.Minute))

	_, err = m.Get(stale.ID())
	require.ErrorIs(t, err, ErrSessionNotFound)
	for _, s := range []*Session{waiting, watched, fresh} {
		_, err = m.Get(s.ID())
		require.NoError(t, err)
	}

	unsubscribe()
	responder.replies <- reply{text: "yes"}
	require.Eventually(t, func() bool { return waiting.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(10 * time.Minute)

	require.Equal(t, 3, m.EvictIdle(5*time.Minute))
	require.Empty(t, m.ForUser("alice"))
}

func TestManager_SweepStopsWithContext(t *testing.T) {
	m := NewManager(&fakeBalances{reads: map[string]int{}}, newScriptedResponder())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Sweep(ctx, time.Minute, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sweep did not return after cancel")
	}

	// disabled eviction returns immediately
	m.Sweep(context.Background(), 0, time.Minute)
}

func TestManager_Recent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2025, 9, 20, 9, 0, 0, 0, time.UTC))
	balances := &fakeBalances{balances: map[string]int{"alice": 150, "bob": 150}, reads: map[string]int{}}
	m := NewManager(balances, newScriptedResponder(), WithClock(clock.Now))

	older, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	newer, err := m.Open(ctx, "alice")
	require.NoError(t, err)
	_, err = m.Open(ctx, "bob")
	require.NoError(t, err)

	recent := m.Recent("alice")
	require.Len(t, recent, 2)
	require.Equal(t, newer.ID(), recent[0].ID)
	require.Equal(t, older.ID(), recent[1].ID)

	clock.Advance(time.Minute)
	require.NoError(t, older.Submit(ctx, "follow-up on my rash"))
	recent = m.Recent("alice")
	require.Equal(t, older.ID(), recent[0].ID)
	require.Equal(t, "follow-up on my rash", recent[0].Preview)

	require.Empty(t, m.Recent("carol"))
}
