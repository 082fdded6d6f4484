package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"streamchat/internal/models"
)

const (
	defaultTitle   = "New Chat"
	maxTitleLength = 80
)

const titlePrompt = "You will generate a short title based on the first message a user begins a conversation with. " +
	"Ensure it is not more than 80 characters long. " +
	"The title should be a summary of the user's message. " +
	"Do not use quotes or colons."

// GenerateTitle asks the model for a chat title derived from the first user
// message. On model failure the message text itself is truncated into a title.
func GenerateTitle(ctx context.Context, chatModel model.BaseChatModel, msg *models.Message) (string, error) {
	text := strings.TrimSpace(msg.Text())
	if text == "" {
		return defaultTitle, nil
	}
	if chatModel == nil {
		return truncateTitle(text), nil
	}
	resp, err := chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(titlePrompt),
		schema.UserMessage(text),
	})
	if err != nil {
		return truncateTitle(text), fmt.Errorf("generate title failed: %w", err)
	}
	title := strings.Trim(strings.TrimSpace(resp.Content), `"'`)
	if title == "" {
		return truncateTitle(text), nil
	}
	return truncateTitle(title), nil
}

func truncateTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxTitleLength {
		return s
	}
	return string(runes[:maxTitleLength-1]) + "…"
}
