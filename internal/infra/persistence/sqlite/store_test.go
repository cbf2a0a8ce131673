package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pluginhost/pkg/domain"
)

func newTempStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "registry.db")
	store := newTempStore(t, path)
	installedAt := time.Date(2024, 5, 1, 12, 30, 0, 123, time.UTC)
	if err := store.Put(ctx, domain.Record{Type: "widget", Name: "hello", Version: "1.0.0", InstalledAt: installedAt}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded := newTempStore(t, path)
	rec, err := reloaded.Get(ctx, domain.NewKey("widget", "hello"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.Version != "1.0.0" || !rec.InstalledAt.Equal(installedAt) {
		t.Fatalf("unexpected record after reload: %+v", rec)
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSQLiteStoreUpsertDeleteList(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t, filepath.Join(t.TempDir(), "registry.db"))
	key := domain.NewKey("widget", "hello")

	if rec, err := store.Get(ctx, key); err != nil || rec != nil {
		t.Fatalf("expected no record, got %+v %v", rec, err)
	}
	for _, v := range []string{"1.0.0", "2.0.0"} {
		if err := store.Put(ctx, domain.Record{Type: "widget", Name: "hello", Version: v, InstalledAt: time.Now()}); err != nil {
			t.Fatalf("put %s: %v", v, err)
		}
	}
	if err := store.Put(ctx, domain.Record{Type: "theme", Name: "dark", Version: "3", InstalledAt: time.Now()}); err != nil {
		t.Fatalf("put theme: %v", err)
	}
	all, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if all.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", all.Len())
	}
	if rec, ok := all.Lookup(key); !ok || rec.Version != "2.0.0" {
		t.Fatalf("upsert did not replace record: %+v", rec)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM plugins`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row left, got %d", count)
	}
}

func TestSQLiteStoreReportsCorruptTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t, filepath.Join(t.TempDir(), "registry.db"))
	if _, err := store.DB().Exec(`INSERT INTO plugins(plugin_type, plugin_name, version, installed_at) VALUES('a','b','1','yesterday')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Get(ctx, domain.NewKey("a", "b")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := store.ListAll(ctx); err == nil {
		t.Fatalf("expected parse error from list")
	}
}
