package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleAI labels gateway replies in the envelope the browser widget renders.
	RoleAI Role = "ai"
)

// ChatMessage is one turn of a conversation as exchanged with the browser.
type ChatMessage struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	ID        string         `json:"id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ChatRequest is the body accepted by the chat endpoint.
type ChatRequest struct {
	Messages      []ChatMessage `json:"messages"`
	GenerateImage bool          `json:"generateImage,omitempty"`
	MaxTokens     *int          `json:"maxTokens,omitempty"`
	Temperature   *float32      `json:"temperature,omitempty"`
	TopP          *float32      `json:"topP,omitempty"`
}

// ChatResponse wraps the gateway reply in the messages envelope.
type ChatResponse struct {
	Success  bool          `json:"success"`
	Messages []ChatMessage `json:"messages"`
}

// Valid reports whether the role is one a caller may send.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleAI:
		return true
	default:
		return false
	}
}

// LastUserText returns the content of the final message, trimmed.
func LastUserText(msgs []ChatMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	return strings.TrimSpace(msgs[len(msgs)-1].Content)
}

// ReplyEnvelope builds the single-message response body.
func ReplyEnvelope(success bool, content string) ChatResponse {
	return ChatResponse{
		Success:  success,
		Messages: []ChatMessage{{Role: RoleAI, Content: content}},
	}
}
