package responder

import (
	"context"
	"time"

	"github.com/comigor/coinchat-go/internal/chat"
)

const (
	PlaceholderReply   = "This is a placeholder response. In a real application, this would be the AI's response to your question."
	DefaultCannedDelay = 2 * time.Second
)

// Canned waits Delay and then answers with a fixed text. Used for demos and
// local development where no model is configured.
type Canned struct {
	Delay time.Duration
	Text  string
}

// GenerateReply implements chat.Responder.
func (c *Canned) GenerateReply(ctx context.Context, _ []chat.Message) (string, error) {
	text := c.Text
	if text == "" {
		text = PlaceholderReply
	}
	if c.Delay <= 0 {
		return text, nil
	}

	timer := time.NewTimer(c.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
