package models

import (
	"encoding/json"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType tags the kind of content carried by a message part.
type PartType string

const (
	PartText           PartType = "text"
	PartToolInvocation PartType = "tool-invocation"
)

// ToolInvocation records one tool call made while producing an assistant message.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"`
	State      string          `json:"state"`
}

const (
	ToolStateCall   = "call"
	ToolStateResult = "result"
)

// Part is a single ordered element of a message body.
type Part struct {
	Type           PartType        `json:"type"`
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
}

const (
	ContentTypePNG  = "image/png"
	ContentTypeJPG  = "image/jpg"
	ContentTypeJPEG = "image/jpeg"
	ContentTypePDF  = "application/pdf"
)

// Attachment is a file referenced by a message.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// Message is an immutable entry of a chat's history.
type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	Role        Role         `json:"role"`
	Parts       []Part       `json:"parts"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Text joins all text parts of the message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// HasAttachmentType reports whether any attachment has the given content type.
func (m *Message) HasAttachmentType(contentType string) bool {
	if m == nil {
		return false
	}
	for _, a := range m.Attachments {
		if strings.EqualFold(a.ContentType, contentType) {
			return true
		}
	}
	return false
}
