package conversation

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"streamchat/internal/models"
)

// Assemble returns history followed by msg. History must already be ordered
// by creation time; nothing is reordered or deduplicated.
func Assemble(history []*models.Message, msg *models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(history)+1)
	for _, m := range history {
		if m != nil {
			out = append(out, m)
		}
	}
	if msg != nil {
		out = append(out, msg)
	}
	return out
}

// ToSchema converts a transcript into model input, prefixed by the system
// prompt when one is given.
func ToSchema(system string, transcript []*models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(transcript)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, schema.SystemMessage(system))
	}
	for _, m := range transcript {
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, assistantMessages(m)...)
		case models.RoleSystem:
			out = append(out, schema.SystemMessage(m.Text()))
		default:
			out = append(out, userMessage(m))
		}
	}
	return out
}

func userMessage(m *models.Message) *schema.Message {
	text := m.Text()
	if len(m.Attachments) == 0 {
		return schema.UserMessage(text)
	}
	parts := make([]schema.ChatMessagePart, 0, len(m.Attachments)+1)
	if text != "" {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: text})
	}
	for _, a := range m.Attachments {
		if strings.EqualFold(a.ContentType, models.ContentTypePDF) {
			parts = append(parts, schema.ChatMessagePart{
				Type:    schema.ChatMessagePartTypeFileURL,
				FileURL: &schema.ChatMessageFileURL{URL: a.URL, MIMEType: a.ContentType, Name: a.Name},
			})
			continue
		}
		parts = append(parts, schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{URL: a.URL, MIMEType: a.ContentType},
		})
	}
	return &schema.Message{Role: schema.User, MultiContent: parts}
}

// assistantMessages replays completed tool invocations as a tool-call turn
// followed by one tool message per result, then the reply text.
func assistantMessages(m *models.Message) []*schema.Message {
	var (
		calls   []schema.ToolCall
		results []*schema.Message
	)
	for _, p := range m.Parts {
		inv := p.ToolInvocation
		if p.Type != models.PartToolInvocation || inv == nil || inv.State != models.ToolStateResult {
			continue
		}
		args := string(inv.Args)
		if args == "" {
			args = "{}"
		}
		calls = append(calls, schema.ToolCall{
			ID:       inv.ToolCallID,
			Type:     "function",
			Function: schema.FunctionCall{Name: inv.ToolName, Arguments: args},
		})
		results = append(results, schema.ToolMessage(inv.Result, inv.ToolCallID))
	}
	var out []*schema.Message
	if len(calls) > 0 {
		out = append(out, &schema.Message{Role: schema.Assistant, ToolCalls: calls})
		out = append(out, results...)
	}
	if text := m.Text(); text != "" || len(calls) == 0 {
		out = append(out, schema.AssistantMessage(text, nil))
	}
	return out
}
