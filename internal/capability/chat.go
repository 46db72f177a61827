package capability

import (
	"context"

	"pickofgods/internal/models"
	"pickofgods/internal/service/ai"
)

const (
	FriendlyChatPrompt = "You are a friendly, patient companion for children. Keep answers short, kind and age-appropriate. Never include scary, violent or adult content."
	DefaultPrompt      = "You are a helpful assistant in a kid-friendly app. Answer simply and safely."
)

// Generator is the slice of the AI client the text branches use.
type Generator interface {
	Generate(ctx context.Context, msgs []models.ChatMessage, opts ai.Options) (string, error)
	Agent(ctx context.Context, msgs []models.ChatMessage, opts ai.Options) (string, error)
}

// LLMChat answers with the full history under a friendliness instruction.
type LLMChat struct {
	llm Generator
}

var _ ChatCaller = (*LLMChat)(nil)

func NewLLMChat(llm Generator) *LLMChat {
	return &LLMChat{llm: llm}
}

func (c *LLMChat) Chat(ctx context.Context, msgs []models.ChatMessage, opts ai.Options) (models.CapabilityResult, error) {
	reply, err := c.llm.Generate(ctx, withSystemPrompt(FriendlyChatPrompt, msgs), opts)
	if err != nil {
		return models.CapabilityResult{}, err
	}
	return models.CapabilityResult{Success: true, Message: reply}, nil
}

// LLMFallback handles intents without a dedicated branch, through the
// tool-calling agent when one is wired.
type LLMFallback struct {
	llm Generator
}

var _ FallbackCaller = (*LLMFallback)(nil)

func NewLLMFallback(llm Generator) *LLMFallback {
	return &LLMFallback{llm: llm}
}

func (c *LLMFallback) Respond(ctx context.Context, msgs []models.ChatMessage, opts ai.Options) (models.CapabilityResult, error) {
	reply, err := c.llm.Agent(ctx, withSystemPrompt(DefaultPrompt, msgs), opts)
	if err != nil {
		return models.CapabilityResult{}, err
	}
	return models.CapabilityResult{Success: true, Message: reply}, nil
}

// withSystemPrompt puts prompt first, merging it into an existing leading
// system message so providers see a single system turn.
func withSystemPrompt(prompt string, msgs []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs)+1)
	if len(msgs) > 0 && msgs[0].Role == models.RoleSystem {
		first := msgs[0]
		first.Content = prompt + "\n\n" + first.Content
		out = append(out, first)
		return append(out, msgs[1:]...)
	}
	out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: prompt})
	return append(out, msgs...)
}
