package profile

import (
	"context"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetMissing(t *testing.T) {
	c := openTestCache(t)
	p, err := c.Get(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for missing profile, got %+v", p)
	}
}

func TestPutAndGet(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	changed, err := c.Put(ctx, "tenant-1", "Northfield Fabrication", "steel weldments, ISO 9001")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !changed {
		t.Error("first Put should report a change")
	}

	p, err := c.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p == nil || p.Name != "Northfield Fabrication" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if p.ContentHash == "" {
		t.Error("profile should carry a content hash")
	}
}

func TestPutUnchangedIsNoop(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if _, err := c.Put(ctx, "tenant-1", "Northfield", "desc"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	changed, err := c.Put(ctx, "tenant-1", "Northfield", "desc")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if changed {
		t.Error("unchanged content should report no change")
	}

	changed, err = c.Put(ctx, "tenant-1", "Northfield", "expanded description")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !changed {
		t.Error("changed content should report a change")
	}
}

func TestPutEmptyTenantIsNoop(t *testing.T) {
	c := openTestCache(t)
	changed, err := c.Put(context.Background(), "", "name", "desc")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if changed {
		t.Error("empty tenant id should be a no-op")
	}
}
