package memory

import (
	"context"
	"testing"
	"time"

	"pluginhost/pkg/domain"
)

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	key := domain.NewKey("widget", "hello")

	got, err := s.Get(ctx, key)
	if err != nil || got != nil {
		t.Fatalf("expected empty get, got %+v %v", got, err)
	}
	now := time.Now().UTC()
	if err := s.Put(ctx, domain.Record{Type: "widget", Name: "hello", Version: "1.0.0", InstalledAt: now}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, domain.Record{Type: "widget", Name: "hello", Version: "2.0.0", InstalledAt: now}); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}
	got, err = s.Get(ctx, key)
	if err != nil || got == nil || got.Version != "2.0.0" {
		t.Fatalf("unexpected record %+v %v", got, err)
	}
	got.Version = "mutated"
	again, _ := s.Get(ctx, key)
	if again.Version != "2.0.0" {
		t.Fatalf("store leaked internal state")
	}

	all, err := s.ListAll(ctx)
	if err != nil || all.Len() != 1 {
		t.Fatalf("list: %v %v", all, err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	all, _ = s.ListAll(ctx)
	if all.Len() != 0 {
		t.Fatalf("expected empty registry, got %v", all)
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewStore()
	if _, err := s.Get(ctx, domain.NewKey("a", "b")); err == nil {
		t.Fatalf("expected context error")
	}
	if err := s.Put(ctx, domain.Record{Type: "a", Name: "b"}); err == nil {
		t.Fatalf("expected context error")
	}
}
