package capability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/google/uuid"

	"pickofgods/internal/models"
	"pickofgods/internal/objectstore"
	"pickofgods/internal/service/ai"
)

// ImageKeyPrefix is where generated images live in the bucket.
const ImageKeyPrefix = "images/"

// ObjectPutter stores generated bytes and returns their public location.
type ObjectPutter interface {
	Put(ctx context.Context, key string, r io.Reader) (*objectstore.Object, error)
}

// ImageCaller renders an image and keeps it in the bucket so the reply can
// carry a URL the widget displays inline.
type ImageCaller struct {
	model  ai.ImageModel
	bucket ObjectPutter
	now    func() time.Time
}

var _ ImageGenerator = (*ImageCaller)(nil)

func NewImageCaller(model ai.ImageModel, bucket ObjectPutter) *ImageCaller {
	return &ImageCaller{model: model, bucket: bucket, now: time.Now}
}

func (c *ImageCaller) GenerateImage(ctx context.Context, req ImageRequest) (models.CapabilityResult, error) {
	img, err := c.model.GenerateImage(ctx, req.Prompt, req.Size)
	if err != nil {
		return models.CapabilityResult{}, err
	}
	key := fmt.Sprintf("%s%s/%s%s", ImageKeyPrefix, c.now().UTC().Format("20060102"), uuid.NewString(), extensionFor(img.MIMEType))
	obj, err := c.bucket.Put(ctx, key, bytes.NewReader(img.Bytes))
	if err != nil {
		return models.CapabilityResult{}, fmt.Errorf("store image: %w", err)
	}
	return models.CapabilityResult{
		Success: true,
		Message: obj.URL,
		Result: map[string]any{
			"url":    obj.URL,
			"key":    obj.Key,
			"prompt": req.Prompt,
			"size":   req.Size,
		},
	}, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png", "":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
