package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/coinchat-go/internal/chat"
	"github.com/comigor/coinchat-go/internal/config"
	"github.com/comigor/coinchat-go/internal/logger"
)

const DefaultSystemPrompt = "You are an AI medical assistant. Answer general health questions accurately and concisely. " +
	"You cannot replace professional medical advice: recommend seeing a doctor for anything serious, persistent or urgent."

var ErrEmptyReply = errors.New("responder: completion had no content")

// OpenAI answers with a chat completion over the whole transcript.
type OpenAI struct {
	client       CompletionClient
	model        string
	systemPrompt string
}

// NewOpenAI creates an OpenAI responder; an empty system prompt selects the default one.
func NewOpenAI(client CompletionClient, cfg config.LLMConfig) *OpenAI {
	prompt := cfg.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt
	}
	return &OpenAI{
		client:       client,
		model:        cfg.Model,
		systemPrompt: prompt,
	}
}

// GenerateReply implements chat.Responder.
func (o *OpenAI) GenerateReply(ctx context.Context, transcript []chat.Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: o.systemPrompt,
	})
	for _, m := range transcript {
		role := openai.ChatMessageRoleUser
		if m.Sender == chat.SenderAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		logger.L.Error("LLM call failed", "model", o.model, "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyReply
	}
	logger.L.Debug("LLM response received", "model", o.model, "usage", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}
