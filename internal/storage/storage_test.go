package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"pickofgods/internal/config"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func TestOpenWithoutBinding(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "sqlite3"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := Open(config.DatabaseConfig{Driver: "postgres", DSN: "x"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestCatalogSearchMatchesSubstring(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	catalog := NewCatalog(db)
	ctx := context.Background()

	for _, item := range []CatalogItem{
		{Name: "Puppy plush", Description: "soft toy dog", Category: "toys"},
		{Name: "Kitten poster", Description: "wall art", Category: "decor"},
		{Name: "Dog bowl", Description: "for puppies", Category: "pets"},
	} {
		if _, err := catalog.Add(ctx, item); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	items, err := catalog.Search(ctx, CatalogQuery{Contains: "pupp"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 matches, got %#v", items)
	}

	items, err = catalog.Search(ctx, CatalogQuery{Contains: "pupp", Category: "toys"})
	if err != nil || len(items) != 1 || items[0].Name != "Puppy plush" {
		t.Fatalf("category filter mismatch: %#v %v", items, err)
	}
}

func TestCatalogSearchTreatsInputLiterally(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	catalog := NewCatalog(db)
	ctx := context.Background()
	_, _ = catalog.Add(ctx, CatalogItem{Name: "100% cotton shirt"})
	_, _ = catalog.Add(ctx, CatalogItem{Name: "plain shirt"})

	items, err := catalog.Search(ctx, CatalogQuery{Contains: "%"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 || items[0].Name != "100% cotton shirt" {
		t.Fatalf("wildcard should match literally, got %#v", items)
	}

	items, err = catalog.Search(ctx, CatalogQuery{Contains: "'; DROP TABLE catalog; --"})
	if err != nil {
		t.Fatalf("Search with quote: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("unexpected matches %#v", items)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalog`).Scan(&count); err != nil || count != 2 {
		t.Fatalf("catalog table altered: count=%d err=%v", count, err)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike("a%b_c!"); got != "a!%b!_c!!" {
		t.Fatalf("unexpected escape %q", got)
	}
}

func TestUsersResolveCreatesAndChecksPassword(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	users := NewUsers(db)
	ctx := context.Background()

	first, err := users.Resolve(ctx, "Kid@Example.com", "secret")
	if err != nil {
		t.Fatalf("Resolve create: %v", err)
	}
	second, err := users.Resolve(ctx, "kid@example.com", "secret")
	if err != nil || second.ID != first.ID {
		t.Fatalf("Resolve existing mismatch: %#v %v", second, err)
	}
	if _, err := users.Resolve(ctx, "kid@example.com", "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}

	open, err := users.Resolve(ctx, "nopass@example.com", "")
	if err != nil {
		t.Fatalf("Resolve passwordless: %v", err)
	}
	if again, err := users.Resolve(ctx, "nopass@example.com", "anything"); err != nil || again.ID != open.ID {
		t.Fatalf("passwordless account should accept any password: %v", err)
	}
	if _, err := users.Resolve(ctx, "  ", ""); err == nil {
		t.Fatalf("expected error for blank email")
	}
}
