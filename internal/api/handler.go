package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/comigor/coinchat-go/internal/chat"
	"github.com/comigor/coinchat-go/internal/identity"
	"github.com/comigor/coinchat-go/internal/logger"
	"github.com/comigor/coinchat-go/internal/wallet"
)

const (
	messageChargeDescription = "AI chat message"
	rechargeDescription      = "Wallet recharge"
	eventBuffer              = 32
	eventWriteTimeout        = 5 * time.Second
)

// Handler serves the session and wallet endpoints.
type Handler struct {
	sessions *chat.Manager
	ledger   wallet.Ledger
	pricing  wallet.Pricing
}

// NewHandler creates a Handler.
func NewHandler(sessions *chat.Manager, ledger wallet.Ledger, costPerMessage int) *Handler {
	return &Handler{
		sessions: sessions,
		ledger:   ledger,
		pricing:  wallet.NewPricing(costPerMessage),
	}
}

// ChargeRecorder debits the ledger for every session charge. The ledger is
// shared by all of a user's sessions, so its refusal is what stops a second
// session from spending coins the first one already used.
func ChargeRecorder(ledger wallet.Ledger) chat.ChargeHook {
	return func(ctx context.Context, c chat.Charge) error {
		_, err := ledger.Debit(context.WithoutCancel(ctx), c.UserID, c.Amount, messageChargeDescription)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, wallet.ErrInsufficientFunds):
			return fmt.Errorf("%w: wallet declined %d coins", chat.ErrInsufficientBalance, c.Amount)
		default:
			logger.L.Error("failed to debit ledger",
				"session_id", c.SessionID, "user_id", c.UserID, "message_id", c.MessageID, "error", err)
			return err
		}
	}
}

// RegisterRoutes mounts the routes on r. Callers must install identity.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/pricing", h.getPricing)
		r.Get("/wallet", h.getWallet)

		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.createSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Post("/messages", h.postMessage)
			r.Post("/reply", h.postReply)
			r.Post("/retry", h.postRetry)
			r.Post("/recharge", h.postRecharge)
			r.Get("/events", h.streamEvents)
		})
	})
}

// session resolves the path session and hides sessions owned by other users.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil || s.UserID() != identity.UserIDFromContext(r.Context()) {
		Error(w, http.StatusNotFound, chat.ErrSessionNotFound.Error())
		return nil, false
	}
	return s, true
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	s, err := h.sessions.Open(r.Context(), userID)
	if err != nil {
		logger.L.Error("open session failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open session")
		return
	}
	if err := h.ledger.RecordSession(r.Context(), userID); err != nil {
		logger.L.Warn("failed to record chat session", "user_id", userID, "error", err)
	}
	JSON(w, http.StatusCreated, s.Snapshot())
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.sessions.Recent(identity.UserIDFromContext(r.Context())))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.Snapshot())
}

type textRequest struct {
	Text string `json:"text"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		JSON(w, http.StatusOK, s.Snapshot())
		return
	}

	err := s.Submit(r.Context(), req.Text)
	switch {
	case err == nil:
		JSON(w, http.StatusAccepted, s.Snapshot())
	case errors.Is(err, chat.ErrInsufficientBalance):
		balance := s.Balance()
		// another session may have spent the coins this one still counts
		if ledgerBalance, lerr := h.ledger.Balance(r.Context(), s.UserID()); lerr == nil && ledgerBalance < balance {
			balance = ledgerBalance
		}
		JSON(w, http.StatusPaymentRequired, map[string]any{
			"error":            "Insufficient coins. Please recharge your wallet.",
			"balance":          balance,
			"cost_per_message": s.CostPerMessage(),
		})
	case errors.Is(err, chat.ErrReplyPending):
		Error(w, http.StatusConflict, err.Error())
	default:
		logger.L.Error("submit failed", "session_id", s.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to send message")
	}
}

func (h *Handler) postReply(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ReceiveAssistantReply(req.Text)
	JSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) postRetry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Retry(r.Context()); err != nil {
		if errors.Is(err, chat.ErrNothingToRetry) {
			Error(w, http.StatusConflict, err.Error())
			return
		}
		logger.L.Error("retry failed", "session_id", s.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to retry")
		return
	}
	JSON(w, http.StatusAccepted, s.Snapshot())
}

type rechargeRequest struct {
	Amount int `json:"amount"`
}

func (h *Handler) postRecharge(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req rechargeRequest
	if err := decode(w, r, &req); err != nil || req.Amount <= 0 || req.Amount > wallet.MaxRecharge {
		Error(w, http.StatusBadRequest, fmt.Sprintf("amount must be between 1 and %d", wallet.MaxRecharge))
		return
	}

	credited := wallet.RechargeAmount(req.Amount)
	tx, err := h.ledger.Credit(r.Context(), s.UserID(), credited, rechargeDescription)
	if errors.Is(err, wallet.ErrInvalidAmount) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.L.Error("recharge failed", "user_id", s.UserID(), "amount", req.Amount, "error", err)
		Error(w, http.StatusInternalServerError, "failed to recharge wallet")
		return
	}
	if err := s.Credit(credited); err != nil {
		logger.L.Error("session credit failed", "session_id", s.ID(), "error", err)
	}
	JSON(w, http.StatusOK, map[string]any{
		"transaction": tx,
		"session":     s.Snapshot(),
	})
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.L.Warn("websocket accept failed", "session_id", s.ID(), "error", err)
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := s.Subscribe(eventBuffer)
	defer unsubscribe()

	// client messages are not expected; CloseRead cancels ctx when the peer goes away
	ctx := conn.CloseRead(r.Context())

	if err := writeJSON(ctx, conn, s.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeJSON(ctx, conn, ev); err != nil {
				logger.L.Debug("websocket write failed", "session_id", s.ID(), "error", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	wal, err := h.ledger.Wallet(r.Context(), userID)
	if err != nil {
		logger.L.Error("read wallet failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	JSON(w, http.StatusOK, wal)
}

func (h *Handler) getPricing(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.pricing)
}
