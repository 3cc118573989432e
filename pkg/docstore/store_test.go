package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreMergeHonorsDeleteField(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	path := Join("users", "u1", "exams", "e1")

	if err := s.Set(ctx, path, map[string]any{"name": "CBC", "resultReadyDate": time.Now(), "skip": DeleteField}); err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, ok, err := s.Get(ctx, path)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if _, exists := doc.Fields["skip"]; exists {
		t.Fatalf("delete marker must not be stored on set")
	}

	if err := s.Merge(ctx, path, map[string]any{"location": "Lab A", "resultReadyDate": DeleteField}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	doc, _, _ = s.Get(ctx, path)
	if doc.Fields["name"] != "CBC" || doc.Fields["location"] != "Lab A" {
		t.Fatalf("unexpected fields after merge: %+v", doc.Fields)
	}
	if _, exists := doc.Fields["resultReadyDate"]; exists {
		t.Fatalf("expected resultReadyDate removed, got %+v", doc.Fields)
	}
	if doc.ID != "e1" {
		t.Fatalf("doc id = %q, want e1", doc.ID)
	}
}

func TestMemoryStoreUpdateRequiresDocument(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	path := Join("users", "u1", "exams", "e1")
	if err := s.Update(ctx, path, map[string]any{"name": "CBC"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, path); ok {
		t.Fatalf("update must not create a document")
	}
	_ = s.Set(ctx, path, map[string]any{"name": "CBC", "location": "Lab A"})
	if err := s.Update(ctx, path, map[string]any{"location": DeleteField}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _, _ := s.Get(ctx, path)
	if _, ok := doc.Fields["location"]; ok || doc.Fields["name"] != "CBC" {
		t.Fatalf("unexpected fields after update: %+v", doc.Fields)
	}
}

func TestMemoryStoreSetOverwritesWholeDocument(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	path := Join("users", "u1", "exams", "e1")
	_ = s.Set(ctx, path, map[string]any{"name": "first", "location": "x"})
	_ = s.Set(ctx, path, map[string]any{"name": "second"})

	docs, err := s.List(ctx, Join("users", "u1", "exams"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	if docs[0].Fields["name"] != "second" {
		t.Fatalf("expected overwrite, got %+v", docs[0].Fields)
	}
	if _, exists := docs[0].Fields["location"]; exists {
		t.Fatalf("set must not keep old fields")
	}
}

func TestMemoryStoreListOnlyDirectChildren(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, Join("users", "u1"), map[string]any{"email": "a@b.c"})
	_ = s.Set(ctx, Join("users", "u1", "exams", "e1"), map[string]any{"name": "a"})
	_ = s.Set(ctx, Join("users", "u2", "exams", "e2"), map[string]any{"name": "b"})

	docs, err := s.List(ctx, Join("users", "u1", "exams"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "e1" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	path := Join("users", "u1", "exams", "e1")
	files := []map[string]any{{"id": "f1", "url": "u", "name": "n"}}
	_ = s.Set(ctx, path, map[string]any{"attachedFiles": files})
	files[0]["id"] = "mutated"

	doc, _, _ := s.Get(ctx, path)
	got := doc.Fields["attachedFiles"].([]any)[0].(map[string]any)
	if got["id"] != "f1" {
		t.Fatalf("store shares memory with caller: %+v", got)
	}
}

func TestInvalidPaths(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Set(ctx, "users", map[string]any{}); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected invalid path, got %v", err)
	}
	if _, err := s.List(ctx, Join("users", "u1")); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected invalid collection, got %v", err)
	}
}

func TestEncodeDecodeKeepsTimestamps(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	data, err := encodeFields(copyFields(map[string]any{
		"registeredDate": ts,
		"name":           "CBC",
		"attachedFiles":  []map[string]any{{"id": "f1"}},
	}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fields, err := decodeFields(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := fields["registeredDate"].(time.Time)
	if !ok || !got.Equal(ts) {
		t.Fatalf("registeredDate = %#v, want %v", fields["registeredDate"], ts)
	}
	list, ok := fields["attachedFiles"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("attachedFiles = %#v", fields["attachedFiles"])
	}
}
