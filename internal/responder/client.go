package responder

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/coinchat-go/internal/config"
)

// CompletionClient is the part of openai.Client the OpenAI responder calls.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ CompletionClient = (*openai.Client)(nil)

// newClient builds a chat completion client, pointed at cfg.BaseURL when set
// so OpenAI-compatible gateways work too.
func newClient(cfg config.LLMConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}
