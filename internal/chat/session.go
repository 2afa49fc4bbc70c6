package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/coinchat-go/internal/logger"
)

// State is a session FSM state.
type State string

const (
	StateIdle          State = "Idle"
	StateAwaitingReply State = "AwaitingReply"
	StateReplyFailed   State = "ReplyFailed" // the responder errored or timed out; Retry or Submit again
)

// Trigger is a session FSM trigger.
type Trigger string

const (
	TriggerSubmit        Trigger = "Submit"
	TriggerReplyReceived Trigger = "ReplyReceived"
	TriggerReplyFailed   Trigger = "ReplyFailed"
	TriggerRetry         Trigger = "Retry"
)

const (
	DefaultCostPerMessage = 2
	DefaultReplyTimeout   = 30 * time.Second
	DefaultGreeting       = "Hello! I'm your AI medical assistant. I can help answer general health questions and provide medical information. Please note that I cannot replace professional medical advice. How can I help you today?"
)

// Responder produces the assistant's reply to a transcript.
type Responder interface {
	GenerateReply(ctx context.Context, transcript []Message) (string, error)
}

// Charge describes one committed per-message deduction.
type Charge struct {
	SessionID string
	UserID    string
	MessageID string
	Amount    int
	Balance   int
}

// ChargeHook settles a charge with the backing ledger before it commits. It
// runs under the session lock, so two sessions over one wallet cannot both
// spend the same coins. An error aborts the submission; wrap
// ErrInsufficientBalance when the ledger refuses for lack of funds.
type ChargeHook func(ctx context.Context, c Charge) error

type options struct {
	cost         int
	greeting     string
	replyTimeout time.Duration
	now          func() time.Time
	onCharge     ChargeHook
}

// Option customizes a Session.
type Option func(*options)

// WithCostPerMessage sets how many coins each user message costs.
func WithCostPerMessage(cost int) Option {
	return func(o *options) { o.cost = cost }
}

// WithGreeting replaces the assistant greeting that seeds the transcript.
func WithGreeting(text string) Option {
	return func(o *options) {
		if strings.TrimSpace(text) != "" {
			o.greeting = text
		}
	}
}

// WithReplyTimeout bounds how long the session waits for the responder.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.replyTimeout = d
		}
	}
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithChargeHook makes every charge conditional on h.
func WithChargeHook(h ChargeHook) Option {
	return func(o *options) { o.onCharge = h }
}

// Session is a metered conversation: an append-only transcript plus a coin
// balance, gated by a single-flight state machine.
type Session struct {
	id           string
	userID       string
	cost         int
	replyTimeout time.Duration
	now          func() time.Time
	onCharge     ChargeHook
	responder    Responder
	log          *slog.Logger

	// mu guards everything below, including the FSM: a balance check, the
	// deduction, the append and the transition always happen under one hold.
	mu         sync.Mutex
	fsm        *stateless.StateMachine
	transcript []Message
	balance    int
	turn       uint64
	lastErr    string
	lastActive time.Time
	subs       map[int]chan Event
	nextSub    int
}

// NewSession creates an Idle session whose transcript holds only the greeting.
func NewSession(userID string, startingBalance int, responder Responder, opts ...Option) (*Session, error) {
	o := options{
		cost:         DefaultCostPerMessage,
		greeting:     DefaultGreeting,
		replyTimeout: DefaultReplyTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if userID == "" {
		return nil, ErrMissingUser
	}
	if startingBalance < 0 {
		return nil, fmt.Errorf("starting balance %d: %w", startingBalance, ErrInvalidAmount)
	}
	if o.cost <= 0 {
		return nil, fmt.Errorf("cost per message %d: %w", o.cost, ErrInvalidAmount)
	}
	if responder == nil {
		return nil, errors.New("chat: responder is required")
	}

	id := uuid.NewString()
	s := &Session{
		id:           id,
		userID:       userID,
		cost:         o.cost,
		replyTimeout: o.replyTimeout,
		now:          o.now,
		onCharge:     o.onCharge,
		responder:    responder,
		log:          logger.With("session_id", id, "user_id", userID),
		balance:      startingBalance,
		subs:         make(map[int]chan Event),
	}
	s.transcript = []Message{{
		ID:     uuid.NewString(),
		Sender: SenderAssistant,
		Text:   o.greeting,
		SentAt: o.now(),
	}}
	s.lastActive = s.transcript[0].SentAt
	s.configureFSM()
	return s, nil
}

func (s *Session) configureFSM() {
	fsm := stateless.NewStateMachine(StateIdle)

	// Idle: the only way out is a paid submission. Late or duplicate replies are dropped.
	fsm.Configure(StateIdle).
		OnEntryFrom(TriggerReplyReceived, s.appendReply).
		Permit(TriggerSubmit, StateAwaitingReply, s.canAfford).
		Ignore(TriggerReplyReceived).
		Ignore(TriggerReplyFailed)

	// AwaitingReply: single flight, further submissions are not permitted.
	fsm.Configure(StateAwaitingReply).
		OnEntryFrom(TriggerSubmit, s.chargeAndAppend).
		OnEntryFrom(TriggerRetry, s.startRetry).
		Permit(TriggerReplyReceived, StateIdle).
		Permit(TriggerReplyFailed, StateReplyFailed)

	fsm.Configure(StateReplyFailed).
		OnEntryFrom(TriggerReplyFailed, s.recordFailure).
		Permit(TriggerSubmit, StateAwaitingReply, s.canAfford).
		Permit(TriggerRetry, StateAwaitingReply).
		Ignore(TriggerReplyReceived).
		Ignore(TriggerReplyFailed)

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		s.log.Debug("session transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})

	s.fsm = fsm
}

// FSM guards and actions. They run inside Fire, so s.mu is already held.

func (s *Session) canAfford(_ context.Context, _ ...any) bool {
	return s.balance >= s.cost
}

func (s *Session) chargeAndAppend(_ context.Context, args ...any) error {
	msg := args[0].(Message)
	s.balance -= s.cost
	s.transcript = append(s.transcript, msg)
	s.lastActive = msg.SentAt
	s.turn++
	s.lastErr = ""
	return nil
}

func (s *Session) startRetry(_ context.Context, _ ...any) error {
	s.turn++
	s.lastErr = ""
	return nil
}

func (s *Session) appendReply(_ context.Context, args ...any) error {
	msg := args[0].(Message)
	s.transcript = append(s.transcript, msg)
	s.lastActive = msg.SentAt
	return nil
}

func (s *Session) recordFailure(_ context.Context, args ...any) error {
	s.lastErr = args[0].(error).Error()
	return nil
}

// Submit charges for and appends a user message, then asks the responder for
// a reply in the background. Blank text is ignored without error.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	switch {
	case s.stateLocked() == StateAwaitingReply:
		s.mu.Unlock()
		return ErrReplyPending
	case s.balance < s.cost:
		balance := s.balance
		s.mu.Unlock()
		return fmt.Errorf("%w: have %d coins, need %d", ErrInsufficientBalance, balance, s.cost)
	}

	msg := Message{
		ID:     uuid.NewString(),
		Sender: SenderUser,
		Text:   text,
		SentAt: s.now(),
	}
	charge := Charge{
		SessionID: s.id,
		UserID:    s.userID,
		MessageID: msg.ID,
		Amount:    s.cost,
		Balance:   s.balance - s.cost,
	}
	if s.onCharge != nil {
		if err := s.onCharge(ctx, charge); err != nil {
			s.mu.Unlock()
			if errors.Is(err, ErrInsufficientBalance) {
				s.log.Info("charge refused by ledger", "message_id", msg.ID, "error", err)
				return err
			}
			return fmt.Errorf("settle charge: %w", err)
		}
	}
	if err := s.fsm.FireCtx(ctx, TriggerSubmit, msg); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("submit: %w", err)
	}
	s.publishLocked(EventMessage, &msg)

	turn := s.turn
	transcript := s.transcriptLocked()
	s.mu.Unlock()

	s.log.Info("message charged", "message_id", msg.ID, "cost", charge.Amount, "balance", charge.Balance)
	s.dispatch(ctx, turn, transcript)
	return nil
}

// ReceiveAssistantReply appends the reply for the pending turn. Without a
// pending turn it does nothing, so duplicate callbacks are harmless.
func (s *Session) ReceiveAssistantReply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() != StateAwaitingReply {
		s.log.Debug("ignoring assistant reply without a pending turn")
		return
	}
	s.receiveLocked(text)
}

// Retry asks the responder again after a failed reply. It does not charge.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.stateLocked() != StateReplyFailed {
		s.mu.Unlock()
		return ErrNothingToRetry
	}
	if err := s.fsm.FireCtx(ctx, TriggerRetry); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("retry: %w", err)
	}
	s.publishLocked(EventState, nil)
	turn := s.turn
	transcript := s.transcriptLocked()
	s.mu.Unlock()

	s.log.Info("retrying assistant reply", "turn", turn)
	s.dispatch(ctx, turn, transcript)
	return nil
}

// Credit adds recharged coins to the in-session balance.
func (s *Session) Credit(amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount > math.MaxInt-s.balance {
		return fmt.Errorf("%w: balance would overflow", ErrInvalidAmount)
	}
	s.balance += amount
	s.lastActive = s.now()
	s.publishLocked(EventBalance, nil)
	s.log.Info("session credited", "amount", amount, "balance", s.balance)
	return nil
}

// dispatch runs the responder for one turn. The timeout is enforced here so a
// responder that ignores its context still cannot leave the turn pending.
func (s *Session) dispatch(ctx context.Context, turn uint64, transcript []Message) {
	replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.replyTimeout)

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		text, err := s.responder.GenerateReply(replyCtx, transcript)
		done <- result{text: text, err: err}
	}()

	go func() {
		defer cancel()
		select {
		case r := <-done:
			if r.err != nil {
				s.failTurn(turn, fmt.Errorf("%w: %v", ErrResponderUnavailable, r.err))
				return
			}
			s.deliver(turn, r.text)
		case <-replyCtx.Done():
			s.failTurn(turn, fmt.Errorf("%w: no reply within %s", ErrResponderUnavailable, s.replyTimeout))
		}
	}()
}

func (s *Session) deliver(turn uint64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn != s.turn || s.stateLocked() != StateAwaitingReply {
		s.log.Debug("dropping stale assistant reply", "turn", turn, "current_turn", s.turn)
		return
	}
	s.receiveLocked(text)
}

func (s *Session) failTurn(turn uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn != s.turn || s.stateLocked() != StateAwaitingReply {
		return
	}
	if fireErr := s.fsm.Fire(TriggerReplyFailed, err); fireErr != nil {
		s.log.Error("FSM fire error", "trigger", TriggerReplyFailed, "error", fireErr)
		return
	}
	s.log.Warn("assistant reply failed", "turn", turn, "error", err)
	s.publishLocked(EventState, nil)
}

func (s *Session) receiveLocked(text string) {
	msg := Message{
		ID:     uuid.NewString(),
		Sender: SenderAssistant,
		Text:   text,
		SentAt: s.now(),
	}
	if err := s.fsm.Fire(TriggerReplyReceived, msg); err != nil {
		s.log.Error("FSM fire error", "trigger", TriggerReplyReceived, "error", err)
		return
	}
	s.publishLocked(EventMessage, &msg)
}

func (s *Session) stateLocked() State {
	return s.fsm.MustState().(State)
}

func (s *Session) transcriptLocked() []Message {
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owner of the session.
func (s *Session) UserID() string { return s.userID }

// CostPerMessage returns the per-message charge.
func (s *Session) CostPerMessage() int { return s.cost }

// Balance returns the in-session coin balance.
func (s *Session) Balance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// Transcript returns a copy of the transcript in chronological order.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

// State returns the current FSM state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// idleFor reports how long the session has gone unchanged. Sessions waiting
// on a reply or streaming to a subscriber are never idle.
func (s *Session) idleFor() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stateLocked() == StateAwaitingReply || len(s.subs) > 0 {
		return 0, false
	}
	return s.now().Sub(s.lastActive), true
}

// Summary is the list-view form of a session.
type Summary struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	MessageCount  int       `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_at"`
	Preview       string    `json:"preview,omitempty"`
}

// Summary returns the session's list entry. Preview is the latest user message.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		ID:            s.id,
		State:         s.stateLocked(),
		MessageCount:  len(s.transcript),
		LastMessageAt: s.transcript[len(s.transcript)-1].SentAt,
	}
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Sender == SenderUser {
			sum.Preview = s.transcript[i].Text
			break
		}
	}
	return sum
}

// Snapshot is a consistent read of a session for display.
type Snapshot struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	State          State     `json:"state"`
	Balance        int       `json:"balance"`
	CostPerMessage int       `json:"cost_per_message"`
	PendingReply   bool      `json:"pending_reply"`
	LastError      string    `json:"last_error,omitempty"`
	Transcript     []Message `json:"transcript"`
}

// Snapshot captures transcript, balance and state under one lock hold.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked()
	return Snapshot{
		ID:             s.id,
		UserID:         s.userID,
		State:          state,
		Balance:        s.balance,
		CostPerMessage: s.cost,
		PendingReply:   state == StateAwaitingReply,
		LastError:      s.lastErr,
		Transcript:     s.transcriptLocked(),
	}
}
