package responder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/coinchat-go/internal/chat"
	"github.com/comigor/coinchat-go/internal/config"
)

type mockLLM struct {
	calls    []openai.ChatCompletionResponse
	err      error
	requests []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.requests = append(m.requests, r)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	if len(m.calls) == 0 {
		panic("mockLLM: no more responses configured")
	}
	resp := m.calls[0]
	m.calls = m.calls[1:]
	return resp, nil
}

func completion(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}
}

var transcript = []chat.Message{
	{Sender: chat.SenderAssistant, Text: "How can I help you today?"},
	{Sender: chat.SenderUser, Text: "I have a headache"},
}

func TestOpenAI_MapsTranscript(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{completion("Drink some water and rest.")}}
	r := NewOpenAI(mock, config.LLMConfig{Model: "gpt-4o-mini"})

	out, err := r.GenerateReply(context.Background(), transcript)
	require.NoError(t, err)
	require.Equal(t, "Drink some water and rest.", out)

	require.Len(t, mock.requests, 1)
	req := mock.requests[0]
	require.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 3)
	require.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	require.Equal(t, DefaultSystemPrompt, req.Messages[0].Content)
	require.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[1].Role)
	require.Equal(t, openai.ChatMessageRoleUser, req.Messages[2].Role)
	require.Equal(t, "I have a headache", req.Messages[2].Content)
}

func TestOpenAI_CustomSystemPrompt(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{completion("ok")}}
	r := NewOpenAI(mock, config.LLMConfig{Model: "m", SystemPrompt: "Be brief."})

	_, err := r.GenerateReply(context.Background(), transcript)
	require.NoError(t, err)
	require.Equal(t, "Be brief.", mock.requests[0].Messages[0].Content)
}

func TestOpenAI_Errors(t *testing.T) {
	r := NewOpenAI(&mockLLM{err: context.DeadlineExceeded}, config.LLMConfig{Model: "m"})
	_, err := r.GenerateReply(context.Background(), transcript)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	r = NewOpenAI(&mockLLM{calls: []openai.ChatCompletionResponse{{}}}, config.LLMConfig{Model: "m"})
	_, err = r.GenerateReply(context.Background(), transcript)
	require.ErrorIs(t, err, ErrEmptyReply)

	r = NewOpenAI(&mockLLM{calls: []openai.ChatCompletionResponse{completion("  ")}}, config.LLMConfig{Model: "m"})
	_, err = r.GenerateReply(context.Background(), transcript)
	require.ErrorIs(t, err, ErrEmptyReply)
}

func TestCanned(t *testing.T) {
	out, err := (&Canned{}).GenerateReply(context.Background(), transcript)
	require.NoError(t, err)
	require.Equal(t, PlaceholderReply, out)

	out, err = (&Canned{Delay: time.Millisecond, Text: "custom"}).GenerateReply(context.Background(), transcript)
	require.NoError(t, err)
	require.Equal(t, "custom", out)
}

func TestCanned_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Canned{Delay: time.Hour}).GenerateReply(ctx, transcript)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestNew(t *testing.T) {
	r, err := New(config.LLMConfig{Provider: config.ProviderCanned, CannedDelay: time.Second})
	require.NoError(t, err)
	require.IsType(t, &Canned{}, r)

	r, err = New(config.LLMConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "m"})
	require.NoError(t, err)
	require.IsType(t, &OpenAI{}, r)

	_, err = New(config.LLMConfig{Provider: "ollama"})
	require.Error(t, err)
}

// The canned responder drives a real session end to end.
func TestCanned_WithSession(t *testing.T) {
	s, err := chat.NewSession("u", 150, &Canned{Delay: 5 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, s.Submit(context.Background(), "I have a headache"))
	require.Eventually(t, func() bool { return s.State() == chat.StateIdle }, 2*time.Second, 5*time.Millisecond)
	tr := s.Transcript()
	require.Len(t, tr, 3)
	require.Equal(t, PlaceholderReply, tr[2].Text)
	require.Equal(t, 148, s.Balance())
}

func TestNew_OpenAIUsesBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Stay hydrated."}}]}`))
	}))
	defer srv.Close()

	r, err := New(config.LLMConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := r.GenerateReply(context.Background(), transcript)
	require.NoError(t, err)
	require.Equal(t, "Stay hydrated.", out)
}
