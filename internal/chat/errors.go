package chat

import "errors"

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrReplyPending         = errors.New("assistant reply still pending")
	ErrNothingToRetry       = errors.New("no failed reply to retry")
	ErrResponderUnavailable = errors.New("assistant responder unavailable")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrSessionNotFound      = errors.New("session not found")
	ErrMissingUser          = errors.New("user id is required")
)
