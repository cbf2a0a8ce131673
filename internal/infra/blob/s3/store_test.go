package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"pluginhost/internal/infra/blob/core"
)

func TestMockStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests(0)
	if store.Driver() != core.DriverS3 || store.Bucket() != "mock-bucket" {
		t.Fatalf("unexpected store identity %s %s", store.Driver(), store.Bucket())
	}
	info, err := store.Put(ctx, "plugins/widget/hello.json", bytes.NewReader([]byte(`{"v":1}`)), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "plugins/widget/hello.json" || info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "plugins/widget/hello.json", bytes.NewReader([]byte(`{"v":22}`)), core.PutOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, rc, err := store.Get(ctx, "plugins/widget/hello.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"v":22}` || got.ContentType != "application/json" {
		t.Fatalf("unexpected object %+v %q", got, body)
	}
	ok, err := store.Delete(ctx, "plugins/widget/hello.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "plugins/widget/hello.json")
	if err != nil || ok {
		t.Fatalf("second delete should report false, got %v %v", ok, err)
	}
	if _, _, err := store.Get(ctx, "plugins/widget/hello.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMockStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests(2)
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("plugins/t/%d.json", i)
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "other/x.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	infos, err := store.List(ctx, "plugins/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 5 {
		t.Fatalf("expected 5 objects across pages, got %d", len(infos))
	}
	for i, info := range infos {
		if want := fmt.Sprintf("plugins/t/%d.json", i); info.Key != want {
			t.Fatalf("index %d: expected %s, got %s", i, want, info.Key)
		}
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	store := NewMockForTests(0)
	if _, err := store.Put(context.Background(), "", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	store, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Bucket() != "b" {
		t.Fatalf("unexpected bucket %s", store.Bucket())
	}
}
