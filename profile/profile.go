// Package profile caches tenant profile rows. SQLite is the durable copy,
// a ristretto cache fronts the hot reads, and a content hash detects
// whether a profile change actually needs a vector refresh.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"

	"github.com/shopfloor-ai/recall/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenant_profiles (
	tenant_id    TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);
`

// Profile is one tenant's cached profile.
type Profile struct {
	TenantID    string
	Name        string
	Description string
	ContentHash string
	UpdatedAt   time.Time
}

// Cache is the tenant-profile cache.
type Cache struct {
	db  *sql.DB
	hot *ristretto.Cache
}

// Open opens (or creates) the profile database in dataDir. Pass ":memory:"
// for tests.
func Open(dataDir string) (*Cache, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "profiles.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening profile database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying profile schema: %w", err)
	}

	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating profile cache: %w", err)
	}

	return &Cache{db: db, hot: hot}, nil
}

// Close releases the cache and database.
func (c *Cache) Close() error {
	c.hot.Close()
	return c.db.Close()
}

// Get returns the tenant's profile, or nil when none is stored.
func (c *Cache) Get(ctx context.Context, tenantID string) (*Profile, error) {
	if tenantID == "" {
		return nil, nil
	}
	if v, ok := c.hot.Get(tenantID); ok {
		p := v.(Profile)
		return &p, nil
	}

	var p Profile
	var updated int64
	err := c.db.QueryRowContext(ctx, `
		SELECT tenant_id, name, description, content_hash, updated_at
		FROM tenant_profiles WHERE tenant_id = ?`, tenantID).
		Scan(&p.TenantID, &p.Name, &p.Description, &p.ContentHash, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant profile: %w", err)
	}
	p.UpdatedAt = time.Unix(updated, 0).UTC()

	c.hot.Set(tenantID, p, int64(len(p.Name)+len(p.Description)+1))
	return &p, nil
}

// Put stores the profile and reports whether its content changed since the
// last write. An unchanged profile is a no-op; callers use the return to
// skip the vector refresh.
func (c *Cache) Put(ctx context.Context, tenantID, name, description string) (bool, error) {
	if tenantID == "" {
		return false, nil
	}
	hash := vector.ContentHash([]string{tenantID}, name+"\n"+description)

	existing, err := c.Get(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.ContentHash == hash {
		return false, nil
	}

	now := time.Now().UTC().Unix()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tenant_profiles (tenant_id, name, description, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`,
		tenantID, name, description, hash, now)
	if err != nil {
		return false, fmt.Errorf("storing tenant profile: %w", err)
	}

	c.hot.Set(tenantID, Profile{
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		ContentHash: hash,
		UpdatedAt:   time.Unix(now, 0).UTC(),
	}, int64(len(name)+len(description)+1))
	c.hot.Wait()

	log.Printf("[PROFILE] Stored profile for tenant %s", tenantID)
	return true, nil
}
