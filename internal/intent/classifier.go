package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pickofgods/internal/models"
	"pickofgods/internal/service/ai"
)

// Classify sends the fixed instruction plus the raw utterance and parses the
// verdict. A missing isSafe comes back as unsafe.
func (c *LLMClassifier) Classify(ctx context.Context, lastUserText string) (models.IntentVerdict, error) {
	msgs := []models.ChatMessage{
		{Role: models.RoleSystem, Content: PromptSystem},
		{Role: models.RoleUser, Content: lastUserText},
	}

	text, err := c.generateWithRetry(ctx, msgs)
	if err != nil {
		return models.IntentVerdict{}, fmt.Errorf("%s: %s: %w: %w", LogPrefixClassify, ErrMsgLLMCallFailed, ErrUpstream, err)
	}

	verdict, err := ParseVerdict(text)
	if err != nil {
		c.l.Warnf(ctx, "%s: %v", LogPrefixClassify, err)
		return models.IntentVerdict{}, err
	}
	if verdict.IsSafe == nil {
		c.l.Warnf(ctx, "%s: %s", LogPrefixClassify, ErrMsgMissingIsSafe)
	}
	c.l.Infof(ctx, "%s: classified as %s (safe: %t)", LogPrefixClassify, verdict.Intent, verdict.Safe())
	return verdict, nil
}

func (c *LLMClassifier) generateWithRetry(ctx context.Context, msgs []models.ChatMessage) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.l.Warnf(ctx, "%s: %s (attempt %d): %v", LogPrefixClassify, ErrMsgRetryingLLM, attempt+1, lastErr)
			select {
			case <-time.After(time.Duration(attempt) * c.backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		text, err := c.llm.Generate(ctx, msgs, ai.Temperature(ClassifierTemperature))
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// ParseVerdict extracts the {intent, isSafe} object from model text that may
// be wrapped in a markdown fence or surrounded by prose.
func ParseVerdict(text string) (models.IntentVerdict, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return models.IntentVerdict{}, fmt.Errorf("%w: %s", ErrParse, ErrMsgNoJSONObject)
	}
	var verdict models.IntentVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return models.IntentVerdict{}, fmt.Errorf("%w: %s: %v", ErrParse, ErrMsgJSONParse, err)
	}
	verdict.Intent = models.Intent(strings.TrimSpace(string(verdict.Intent)))
	if verdict.Intent == "" {
		return models.IntentVerdict{}, fmt.Errorf("%w: %s", ErrParse, ErrMsgMissingIntent)
	}
	return verdict, nil
}

func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(text, "```")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
