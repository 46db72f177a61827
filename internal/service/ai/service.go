package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"pickofgods/internal/config"
	"pickofgods/internal/models"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout is reported when a single upstream call exceeds its deadline.
	ErrTimeout = errors.New("ai: upstream call timed out")
	// ErrNotConfigured means the provider block or its credentials are missing.
	ErrNotConfigured = errors.New("ai: provider not configured")
)

// Options carries per-call sampling parameters; nil fields use provider defaults.
type Options struct {
	Temperature *float32
	MaxTokens   *int
	TopP        *float32
}

func (o Options) modelOptions() []model.Option {
	var opts []model.Option
	if o.Temperature != nil {
		opts = append(opts, model.WithTemperature(*o.Temperature))
	}
	if o.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*o.MaxTokens))
	}
	if o.TopP != nil {
		opts = append(opts, model.WithTopP(*o.TopP))
	}
	return opts
}

// Temperature returns Options with only the temperature set.
func Temperature(t float32) Options {
	return Options{Temperature: &t}
}

// Client talks to one managed LLM. Safe for concurrent use.
type Client struct {
	name    string
	model   model.BaseChatModel
	agent   *react.Agent
	timeout time.Duration
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout bounds every upstream call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTools enables a tool-calling agent for Agent calls when the model supports it.
func WithTools(tools []tool.BaseTool) ClientOption {
	return func(c *Client) {
		if len(tools) == 0 {
			return
		}
		tcm, ok := c.model.(model.ToolCallingChatModel)
		if !ok {
			return
		}
		reactAgent, err := react.NewAgent(context.Background(), &react.AgentConfig{
			ToolCallingModel: tcm,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err == nil {
			c.agent = reactAgent
		}
	}
}

// NewClient wraps an already constructed chat model.
func NewClient(name string, m model.BaseChatModel, opts ...ClientOption) *Client {
	c := &Client{name: name, model: m, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewChatModel builds the eino chat model for provider. An empty modelName
// falls back to the provider block's model.
func NewChatModel(ctx context.Context, cfg *config.Config, provider, modelName string) (model.BaseChatModel, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	provCfg, ok := cfg.Provider(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, provider)
	}
	if modelName == "" {
		modelName = provCfg.Model
	}
	if modelName == "" {
		return nil, fmt.Errorf("%w: %s has no model", ErrNotConfigured, provider)
	}

	switch provider {
	case "openai":
		if provCfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai api key", ErrNotConfigured)
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		if provCfg.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini api key", ErrNotConfigured)
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		if provCfg.APIKey == "" {
			return nil, fmt.Errorf("%w: claude api key", ErrNotConfigured)
		}
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURL := provCfg.BaseURL
			baseURLPtr = &baseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	case "ark":
		if provCfg.APIKey == "" && (provCfg.AccessKey == "" || provCfg.SecretKey == "") {
			return nil, fmt.Errorf("%w: ark credentials", ErrNotConfigured)
		}
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:   provCfg.BaseURL,
			Region:    provCfg.Region,
			APIKey:    provCfg.APIKey,
			AccessKey: provCfg.AccessKey,
			SecretKey: provCfg.SecretKey,
			Model:     modelName,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// Name is the provider label the client was built for.
func (c *Client) Name() string {
	return c.name
}

// HasAgent reports whether Agent calls go through the tool-calling agent.
func (c *Client) HasAgent() bool {
	return c.agent != nil
}

// Generate sends msgs and returns the assistant text.
func (c *Client) Generate(ctx context.Context, msgs []models.ChatMessage, opts Options) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model.Generate(callCtx, convertMessages(msgs), opts.modelOptions()...)
	if err != nil {
		return "", c.wrapErr(ctx, callCtx, err)
	}
	if resp == nil {
		return "", fmt.Errorf("ai %s: empty response", c.name)
	}
	return resp.Content, nil
}

// Agent is Generate through the tool-calling agent, or plain Generate when
// no tools are wired.
func (c *Client) Agent(ctx context.Context, msgs []models.ChatMessage, opts Options) (string, error) {
	if c.agent == nil {
		return c.Generate(ctx, msgs, opts)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.agent.Generate(callCtx, convertMessages(msgs),
		agent.WithComposeOptions(compose.WithChatModelOption(opts.modelOptions()...)))
	if err != nil {
		return "", c.wrapErr(ctx, callCtx, err)
	}
	if resp == nil {
		return "", fmt.Errorf("ai %s: empty agent response", c.name)
	}
	return resp.Content, nil
}

// Stream relays model output chunk by chunk to onChunk and returns the full
// text. The timeout covers the whole stream.
func (c *Client) Stream(ctx context.Context, msgs []models.ChatMessage, opts Options, onChunk func(string) error) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reader, err := c.model.Stream(callCtx, convertMessages(msgs), opts.modelOptions()...)
	if err != nil {
		return "", c.wrapErr(ctx, callCtx, err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), c.wrapErr(ctx, callCtx, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onChunk != nil {
			if err := onChunk(chunk.Content); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

// wrapErr tells our own deadline apart from the caller going away.
func (c *Client) wrapErr(parent, callCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("ai %s: %w after %s", c.name, ErrTimeout, c.timeout)
	}
	return fmt.Errorf("ai %s: %w", c.name, err)
}

func convertMessages(msgs []models.ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, msg := range msgs {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant, models.RoleAI:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return out
}
