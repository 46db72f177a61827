package capability

import (
	"context"
	"fmt"
	"strings"

	"pickofgods/internal/models"
	"pickofgods/internal/storage"
)

const catalogResultLimit = 10

// CatalogStore runs structured catalog searches.
type CatalogStore interface {
	Search(ctx context.Context, q storage.CatalogQuery) ([]storage.CatalogItem, error)
}

// CatalogCaller searches the catalog for the utterance as sent, then for its
// keywords when the whole phrase matches nothing.
type CatalogCaller struct {
	store CatalogStore
}

var _ CatalogSearcher = (*CatalogCaller)(nil)

func NewCatalogCaller(store CatalogStore) *CatalogCaller {
	return &CatalogCaller{store: store}
}

func (c *CatalogCaller) SearchCatalog(ctx context.Context, text string) (models.CapabilityResult, error) {
	phrase := strings.TrimSpace(text)
	terms := keywords(text)
	if phrase == "" || len(terms) == 0 {
		return models.CapabilityResult{Success: true, Message: "Tell me what to look for in the catalog!", Result: []storage.CatalogItem{}}, nil
	}

	items, err := c.store.Search(ctx, storage.CatalogQuery{Contains: phrase, Limit: catalogResultLimit})
	if err != nil {
		return models.CapabilityResult{}, err
	}
	if len(items) == 0 {
		items, err = c.searchTerms(ctx, terms)
		if err != nil {
			return models.CapabilityResult{}, err
		}
	}

	if len(items) == 0 {
		return models.CapabilityResult{
			Success: true,
			Message: fmt.Sprintf("I couldn't find anything about %q.", strings.Join(terms, " ")),
			Result:  items,
		}, nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return models.CapabilityResult{
		Success: true,
		Message: fmt.Sprintf("I found %d item(s): %s", len(items), strings.Join(names, ", ")),
		Result:  items,
	}, nil
}

func (c *CatalogCaller) searchTerms(ctx context.Context, terms []string) ([]storage.CatalogItem, error) {
	seen := make(map[int64]struct{})
	items := make([]storage.CatalogItem, 0)
	for _, term := range terms {
		found, err := c.store.Search(ctx, storage.CatalogQuery{Contains: term, Limit: catalogResultLimit})
		if err != nil {
			return nil, err
		}
		for _, item := range found {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			items = append(items, item)
		}
		if len(items) >= catalogResultLimit {
			return items[:catalogResultLimit], nil
		}
	}
	return items, nil
}
