package intent

import (
	"context"
	"errors"
	"time"

	"pickofgods/internal/logger"
	"pickofgods/internal/models"
	"pickofgods/internal/service/ai"
)

var (
	// ErrUpstream means the model call failed after all retries.
	ErrUpstream = errors.New("intent: classification upstream failed")
	// ErrParse means the model answered with something other than a verdict.
	ErrParse = errors.New("intent: unparseable verdict")
)

// Generator is the slice of the AI client the classifier needs.
type Generator interface {
	Generate(ctx context.Context, msgs []models.ChatMessage, opts ai.Options) (string, error)
}

// Classifier maps the last user utterance to an intent and a safety verdict.
type Classifier interface {
	Classify(ctx context.Context, lastUserText string) (models.IntentVerdict, error)
}

// LLMClassifier classifies through a chat model at temperature 0.
type LLMClassifier struct {
	llm     Generator
	l       logger.Logger
	retries int
	backoff time.Duration
}

var _ Classifier = (*LLMClassifier)(nil)

// Option customizes an LLMClassifier.
type Option func(*LLMClassifier)

// WithRetry sets how many extra attempts a failed upstream call gets and the
// base delay between them.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(c *LLMClassifier) {
		if retries >= 0 {
			c.retries = retries
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// New creates a classifier over llm.
func New(llm Generator, l logger.Logger, opts ...Option) *LLMClassifier {
	c := &LLMClassifier{
		llm:     llm,
		l:       l,
		retries: DefaultRetries,
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
