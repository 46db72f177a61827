package capability

import (
	"context"
	"fmt"
	"strings"

	"pickofgods/internal/models"
	"pickofgods/internal/objectstore"
)

const explorerListLimit = 50

// ObjectLister enumerates bucket objects.
type ObjectLister interface {
	List(ctx context.Context, prefix string) ([]objectstore.Object, error)
}

// BucketExplorer lists the bucket. An utterance with keywords narrows the
// listing to keys mentioning one of them.
type BucketExplorer struct {
	bucket ObjectLister
}

var _ ObjectExplorer = (*BucketExplorer)(nil)

func NewBucketExplorer(bucket ObjectLister) *BucketExplorer {
	return &BucketExplorer{bucket: bucket}
}

func (e *BucketExplorer) Explore(ctx context.Context, text string) (models.CapabilityResult, error) {
	all, err := e.bucket.List(ctx, "")
	if err != nil {
		return models.CapabilityResult{}, err
	}

	filtered := all
	if terms := keywords(text); len(terms) > 0 {
		filtered = nil
		for _, obj := range all {
			key := strings.ToLower(obj.Key)
			for _, term := range terms {
				if strings.Contains(key, term) {
					filtered = append(filtered, obj)
					break
				}
			}
		}
		if len(filtered) == 0 {
			return models.CapabilityResult{
				Success: true,
				Message: fmt.Sprintf("Nothing in the bucket matched %q.", strings.Join(terms, " ")),
				Result:  []objectstore.Object{},
			}, nil
		}
	}
	if len(filtered) > explorerListLimit {
		filtered = filtered[:explorerListLimit]
	}

	if len(filtered) == 0 {
		return models.CapabilityResult{Success: true, Message: "The bucket is empty.", Result: []objectstore.Object{}}, nil
	}
	keys := make([]string, 0, len(filtered))
	for _, obj := range filtered {
		keys = append(keys, obj.Key)
	}
	return models.CapabilityResult{
		Success: true,
		Message: fmt.Sprintf("Found %d object(s): %s", len(filtered), strings.Join(keys, ", ")),
		Result:  filtered,
	}, nil
}
