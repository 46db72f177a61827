package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"pickofgods/internal/config"
)

// GeneratedImage is the raw output of one image generation call.
type GeneratedImage struct {
	Bytes    []byte
	MIMEType string
}

// ImageModel generates images from a text prompt.
type ImageModel interface {
	GenerateImage(ctx context.Context, prompt, size string) (*GeneratedImage, error)
}

// Imagen calls the Gemini API image models through the genai SDK.
type Imagen struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewImagen builds an Imagen client from the provider block named in cfg.Image.
func NewImagen(ctx context.Context, cfg *config.Config) (*Imagen, error) {
	provCfg, ok := cfg.Provider(cfg.Image.Provider)
	if !ok || provCfg.APIKey == "" {
		return nil, fmt.Errorf("%w: image provider %q", ErrNotConfigured, cfg.Image.Provider)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  provCfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	timeout := cfg.AI.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Imagen{client: client, model: cfg.Image.Model, timeout: timeout}, nil
}

func (g *Imagen) GenerateImage(ctx context.Context, prompt, size string) (*GeneratedImage, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateImages(callCtx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    AspectRatio(size),
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("imagen: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("imagen: %w", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, errors.New("imagen: no image returned")
	}
	img := resp.GeneratedImages[0].Image
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return &GeneratedImage{Bytes: img.ImageBytes, MIMEType: mime}, nil
}

// AspectRatio maps a WIDTHxHEIGHT size to the closest ratio Imagen accepts.
func AspectRatio(size string) string {
	var w, h int
	if _, err := fmt.Sscanf(strings.ToLower(size), "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return "1:1"
	}
	ratio := float64(w) / float64(h)
	candidates := []struct {
		label string
		value float64
	}{
		{"1:1", 1},
		{"3:4", 0.75},
		{"4:3", 4.0 / 3.0},
		{"9:16", 9.0 / 16.0},
		{"16:9", 16.0 / 9.0},
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if abs(ratio-c.value) < abs(ratio-best.value) {
			best = c
		}
	}
	return best.label
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
