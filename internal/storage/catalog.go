package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	defaultCatalogLimit = 20
	maxCatalogLimit     = 100
	likeEscape          = '!'
)

// CatalogItem is one row of the searchable catalog.
type CatalogItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// CatalogQuery is a structured search; Contains is matched as a literal
// substring of name or description.
type CatalogQuery struct {
	Contains string
	Category string
	Limit    int
}

// Catalog runs parameterized searches over the catalog table.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Search never interpolates caller text into SQL; LIKE wildcards in the
// term are escaped so they match literally.
func (c *Catalog) Search(ctx context.Context, q CatalogQuery) ([]CatalogItem, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultCatalogLimit
	}
	if limit > maxCatalogLimit {
		limit = maxCatalogLimit
	}
	pattern := "%" + escapeLike(strings.TrimSpace(q.Contains)) + "%"

	query := `SELECT id, name, description, category FROM catalog
		WHERE (name LIKE ? ESCAPE '!' OR description LIKE ? ESCAPE '!')`
	args := []any{pattern, pattern}
	if q.Category != "" {
		query += ` AND category = ?`
		args = append(args, q.Category)
	}
	query += ` ORDER BY name LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer rows.Close()

	items := make([]CatalogItem, 0)
	for rows.Next() {
		var item CatalogItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Category); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Add inserts a catalog row and returns its id.
func (c *Catalog) Add(ctx context.Context, item CatalogItem) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO catalog (name, description, category, created_at) VALUES (?, ?, ?, ?)`,
		item.Name, item.Description, item.Category, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert catalog item: %w", err)
	}
	return res.LastInsertId()
}

func escapeLike(term string) string {
	var b strings.Builder
	for _, r := range term {
		switch r {
		case '%', '_', likeEscape:
			b.WriteRune(likeEscape)
		}
		b.WriteRune(r)
	}
	return b.String()
}
