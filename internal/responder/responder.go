// Package responder provides the assistant implementations a chat session can call.
package responder

import (
	"fmt"

	"github.com/comigor/coinchat-go/internal/chat"
	"github.com/comigor/coinchat-go/internal/config"
)

var (
	_ chat.Responder = (*OpenAI)(nil)
	_ chat.Responder = (*Canned)(nil)
)

// New builds the responder selected by cfg.Provider.
func New(cfg config.LLMConfig) (chat.Responder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(newClient(cfg), cfg), nil
	case config.ProviderCanned, "":
		return &Canned{Delay: cfg.CannedDelay, Text: cfg.CannedReply}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
