package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pickofgods/internal/apperr"
	"pickofgods/internal/audit"
	"pickofgods/internal/capability"
	"pickofgods/internal/intent"
	"pickofgods/internal/logger"
	"pickofgods/internal/models"
	"pickofgods/internal/service/ai"
)

const (
	DefaultSystemPrompt = "You are a helpful, kind assistant in a kid-friendly app. Keep every answer safe and appropriate for children."
	BlockedMessage      = "Request blocked: Inappropriate content detected"
	FailureMessage      = "Failed to process message"
)

// Streamer relays raw model output when intent routing is off.
type Streamer interface {
	Stream(ctx context.Context, msgs []models.ChatMessage, opts ai.Options, onChunk func(string) error) (string, error)
}

// Config toggles the gateway mode.
type Config struct {
	WithIntentRouting   bool
	DefaultSystemPrompt string
}

// Service runs one chat turn: validate, normalize, classify, gate, route,
// audit, respond.
type Service struct {
	classifier   intent.Classifier
	router       capability.Dispatcher
	audit        audit.Appender
	streamer     Streamer
	l            logger.Logger
	routing      bool
	systemPrompt string
}

func New(cfg Config, classifier intent.Classifier, router capability.Dispatcher, auditLog audit.Appender, streamer Streamer, l logger.Logger) *Service {
	prompt := strings.TrimSpace(cfg.DefaultSystemPrompt)
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return &Service{
		classifier:   classifier,
		router:       router,
		audit:        auditLog,
		streamer:     streamer,
		l:            l,
		routing:      cfg.WithIntentRouting,
		systemPrompt: prompt,
	}
}

// RoutingEnabled is false when the gateway relays the model stream directly.
func (s *Service) RoutingEnabled() bool {
	return s.routing
}

// Ready reports whether the active mode has the model it needs.
func (s *Service) Ready() bool {
	if s.routing {
		return s.classifier != nil
	}
	return s.streamer != nil
}

// Validate rejects requests the gateway cannot classify.
func Validate(req models.ChatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages must be a non-empty array", apperr.ErrInvalidRequest)
	}
	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("%w: message %d has unknown role %q", apperr.ErrInvalidRequest, i, msg.Role)
		}
	}
	if models.LastUserText(req.Messages) == "" {
		return fmt.Errorf("%w: last message has no content", apperr.ErrInvalidRequest)
	}
	return nil
}

// Normalize returns a copy of msgs that starts with a system message,
// injecting prompt when the caller sent none.
func Normalize(msgs []models.ChatMessage, prompt string) []models.ChatMessage {
	hasSystem := false
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			hasSystem = true
			break
		}
	}
	if hasSystem {
		out := make([]models.ChatMessage, 0, len(msgs))
		for _, msg := range msgs {
			if msg.Role == models.RoleSystem {
				out = append(out, msg)
			}
		}
		for _, msg := range msgs {
			if msg.Role != models.RoleSystem {
				out = append(out, msg)
			}
		}
		return out
	}
	out := make([]models.ChatMessage, 0, len(msgs)+1)
	out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: prompt})
	return append(out, msgs...)
}

// Turn executes the routed flow. A blocked request returns the blocked
// envelope together with apperr.ErrContentBlocked.
func (s *Service) Turn(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if err := Validate(req); err != nil {
		return models.ChatResponse{}, err
	}
	msgs := Normalize(req.Messages, s.systemPrompt)
	text := models.LastUserText(req.Messages)
	if s.classifier == nil {
		return models.ChatResponse{}, fmt.Errorf("gateway: %w: no classification model", apperr.ErrConfigurationMissing)
	}

	verdict, err := s.classifier.Classify(ctx, text)
	if err != nil {
		s.l.Errorf(ctx, "gateway: classify failed: %v", err)
		return models.ChatResponse{}, fmt.Errorf("gateway: %w: %w", apperr.ErrUpstream, err)
	}

	record := models.AuditRecord{
		Messages:      req.Messages,
		Intent:        verdict.Intent,
		Safe:          verdict.Safe(),
		GenerateImage: req.GenerateImage,
	}

	if !verdict.Safe() {
		record.Status = models.AuditBlocked
		s.audit.Append(ctx, record)
		s.l.Warnf(ctx, "gateway: blocked request classified as %s", verdict.Intent)
		return models.ReplyEnvelope(false, BlockedMessage), apperr.ErrContentBlocked
	}

	route := verdict.Intent
	if req.GenerateImage {
		route = models.IntentImageGeneration
	}
	record.Route = route
	opts := ai.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens, TopP: req.TopP}

	result, err := s.router.Dispatch(ctx, route, msgs, text, opts)
	if err != nil {
		record.Status = models.AuditFailed
		record.Response = err.Error()
		s.audit.Append(ctx, record)
		s.l.Errorf(ctx, "gateway: dispatch %s failed: %v", route, err)
		return models.ChatResponse{}, fmt.Errorf("gateway: %w: %w", apperr.ErrUpstream, err)
	}

	record.Response = result
	record.Status = models.AuditSuccess
	if !result.Success {
		record.Status = models.AuditFailed
	}
	s.audit.Append(ctx, record)

	return models.ReplyEnvelope(true, replyContent(result)), nil
}

// StreamTurn skips classification and relays the model output to onChunk.
func (s *Service) StreamTurn(ctx context.Context, req models.ChatRequest, onChunk func(string) error) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}
	if s.streamer == nil {
		return "", fmt.Errorf("gateway: %w: no stream model", apperr.ErrConfigurationMissing)
	}
	opts := ai.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens, TopP: req.TopP}
	full, err := s.streamer.Stream(ctx, Normalize(req.Messages, s.systemPrompt), opts, onChunk)
	if err != nil {
		return full, fmt.Errorf("gateway: %w: %w", apperr.ErrUpstream, err)
	}
	return full, nil
}

func replyContent(result models.CapabilityResult) string {
	if result.Message != "" {
		return result.Message
	}
	payload := any(result)
	if result.Result != nil {
		payload = result.Result
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
