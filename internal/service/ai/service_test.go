package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"pickofgods/internal/config"
	"pickofgods/internal/models"
)

type fakeModel struct {
	reply    string
	chunks   []string
	delay    time.Duration
	err      error
	lastMsgs []*schema.Message
	lastOpts *model.Options
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.lastMsgs = input
	f.lastOpts = model.GetCommonOptions(nil, opts...)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.lastMsgs = input
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func TestGenerateConvertsRolesAndOptions(t *testing.T) {
	fm := &fakeModel{reply: "hello"}
	client := NewClient("fake", fm)

	maxTokens := 64
	temp := float32(0.2)
	out, err := client.Generate(context.Background(), []models.ChatMessage{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAI, Content: "earlier reply"},
	}, Options{Temperature: &temp, MaxTokens: &maxTokens})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(fm.lastMsgs) != 3 || fm.lastMsgs[0].Role != schema.System || fm.lastMsgs[2].Role != schema.Assistant {
		t.Fatalf("roles not converted: %#v", fm.lastMsgs)
	}
	if fm.lastOpts.Temperature == nil || *fm.lastOpts.Temperature != 0.2 {
		t.Fatalf("temperature not forwarded: %#v", fm.lastOpts)
	}
	if fm.lastOpts.MaxTokens == nil || *fm.lastOpts.MaxTokens != 64 {
		t.Fatalf("max tokens not forwarded: %#v", fm.lastOpts)
	}
	if fm.lastOpts.TopP != nil {
		t.Fatalf("unset topP should not be forwarded")
	}
}

func TestGenerateTimeoutIsDistinct(t *testing.T) {
	fm := &fakeModel{reply: "late", delay: 200 * time.Millisecond}
	client := NewClient("fake", fm, WithTimeout(20*time.Millisecond))

	_, err := client.Generate(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, Options{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestGenerateCallerCancelIsNotTimeout(t *testing.T) {
	fm := &fakeModel{reply: "late", delay: 200 * time.Millisecond}
	client := NewClient("fake", fm, WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := client.Generate(ctx, []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, Options{})
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestStreamRelaysChunks(t *testing.T) {
	fm := &fakeModel{chunks: []string{"Hel", "", "lo"}}
	client := NewClient("fake", fm)

	var got []string
	full, err := client.Stream(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, Options{}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if full != "Hello" || len(got) != 2 {
		t.Fatalf("unexpected stream result %q %v", full, got)
	}
}

func TestAgentFallsBackToGenerate(t *testing.T) {
	fm := &fakeModel{reply: "plain"}
	client := NewClient("fake", fm, WithTools(nil))
	if client.HasAgent() {
		t.Fatalf("agent should be disabled without tools")
	}
	out, err := client.Agent(context.Background(), []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}, Options{})
	if err != nil || out != "plain" {
		t.Fatalf("Agent fallback mismatch: %q %v", out, err)
	}
}

func TestNewChatModelRequiresProvider(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"openai": {Model: "gpt-4o-mini"},
	}}
	if _, err := NewChatModel(context.Background(), cfg, "missing", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for unknown provider, got %v", err)
	}
	if _, err := NewChatModel(context.Background(), cfg, "openai", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for missing key, got %v", err)
	}
}

func TestAspectRatio(t *testing.T) {
	cases := map[string]string{
		"1024x1024": "1:1",
		"1792x1024": "16:9",
		"1024x1792": "9:16",
		"1200x900":  "4:3",
		"bogus":     "1:1",
	}
	for in, want := range cases {
		if got := AspectRatio(in); got != want {
			t.Fatalf("AspectRatio(%q) = %q, want %q", in, got, want)
		}
	}
}
