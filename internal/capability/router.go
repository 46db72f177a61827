package capability

import (
	"context"
	"fmt"

	"pickofgods/internal/logger"
	"pickofgods/internal/models"
	"pickofgods/internal/service/ai"
)

const (
	ImagePromptPrefix = "A kid-friendly, safe, and appropriate image of "
	ImageSize         = "1024x1024"
)

// ImageRequest is the normalized input of the image branch.
type ImageRequest struct {
	Prompt string
	Size   string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (models.CapabilityResult, error)
}

type ChatCaller interface {
	Chat(ctx context.Context, msgs []models.ChatMessage, opts ai.Options) (models.CapabilityResult, error)
}

type CatalogSearcher interface {
	SearchCatalog(ctx context.Context, text string) (models.CapabilityResult, error)
}

type RoomCaller interface {
	Post(ctx context.Context, msgs []models.ChatMessage) (models.CapabilityResult, error)
}

type ObjectExplorer interface {
	Explore(ctx context.Context, text string) (models.CapabilityResult, error)
}

type FallbackCaller interface {
	Respond(ctx context.Context, msgs []models.ChatMessage, opts ai.Options) (models.CapabilityResult, error)
}

// Dispatcher is the gateway's view of the router.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent models.Intent, msgs []models.ChatMessage, lastUserText string, opts ai.Options) (models.CapabilityResult, error)
}

// Callers bundles one caller per branch. Nil callers answer with a
// "not available" result instead of failing the request.
type Callers struct {
	Image    ImageGenerator
	Chat     ChatCaller
	Catalog  CatalogSearcher
	Room     RoomCaller
	Explorer ObjectExplorer
	Fallback FallbackCaller
}

// Router is a pure dispatch table over Callers. Errors from callers are
// returned unchanged apart from wrapping.
type Router struct {
	callers Callers
	l       logger.Logger
}

var _ Dispatcher = (*Router)(nil)

func NewRouter(callers Callers, l logger.Logger) *Router {
	return &Router{callers: callers, l: l}
}

// Dispatch invokes exactly one caller. Unknown intents take the default branch.
func (r *Router) Dispatch(ctx context.Context, intent models.Intent, msgs []models.ChatMessage, lastUserText string, opts ai.Options) (models.CapabilityResult, error) {
	var (
		res models.CapabilityResult
		err error
	)
	switch intent {
	case models.IntentImageGeneration:
		if r.callers.Image == nil {
			return unavailable(intent), nil
		}
		res, err = r.callers.Image.GenerateImage(ctx, ImageRequest{
			Prompt: ImagePromptPrefix + lastUserText,
			Size:   ImageSize,
		})
	case models.IntentChat:
		if r.callers.Chat == nil {
			return unavailable(intent), nil
		}
		res, err = r.callers.Chat.Chat(ctx, msgs, opts)
	case models.IntentDatabaseQuery:
		if r.callers.Catalog == nil {
			return unavailable(intent), nil
		}
		res, err = r.callers.Catalog.SearchCatalog(ctx, lastUserText)
	case models.IntentChatRoom:
		if r.callers.Room == nil {
			return unavailable(intent), nil
		}
		res, err = r.callers.Room.Post(ctx, msgs)
	case models.IntentR2Explorer:
		if r.callers.Explorer == nil {
			return unavailable(intent), nil
		}
		res, err = r.callers.Explorer.Explore(ctx, lastUserText)
	default:
		if r.callers.Fallback == nil {
			return unavailable(intent), nil
		}
		res, err = r.callers.Fallback.Respond(ctx, msgs, opts)
	}
	if err != nil {
		return models.CapabilityResult{}, fmt.Errorf("capability %s: %w", branchName(intent), err)
	}
	r.l.Debugf(ctx, "capability %s: success=%t", branchName(intent), res.Success)
	return res, nil
}

func branchName(intent models.Intent) string {
	if intent.Known() {
		return string(intent)
	}
	return "default"
}

func unavailable(intent models.Intent) models.CapabilityResult {
	return models.CapabilityResult{
		Success: false,
		Message: fmt.Sprintf("Sorry, %s is not available right now.", describe(intent)),
	}
}

func describe(intent models.Intent) string {
	switch intent {
	case models.IntentImageGeneration:
		return "image generation"
	case models.IntentDatabaseQuery:
		return "the catalog"
	case models.IntentChatRoom:
		return "the chat room"
	case models.IntentR2Explorer:
		return "the file explorer"
	default:
		return "chat"
	}
}
