package memory

import (
	"context"
	"testing"

	"github.com/dupescan/dupescan/internal/vectorstore"
)

func TestSearchOrdersByCosineSimilarity(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "code", 3); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	err := s.Upsert(ctx, "code", []vectorstore.Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"repo_id": int64(1)}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: map[string]any{"repo_id": int64(1)}},
		{ID: "c", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]any{"repo_id": int64(2)}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := s.Search(ctx, "code", []float32{1, 0, 0}, nil, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "c" {
		t.Fatalf("unexpected order: %+v", results)
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("expected descending score order, got %+v", results)
	}
}

func TestSearchAppliesFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.EnsureCollection(ctx, "code", 3)
	_ = s.Upsert(ctx, "code", []vectorstore.Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"repo_id": int64(1)}},
		{ID: "b", Vector: []float32{1, 0, 0}, Payload: map[string]any{"repo_id": int64(2)}},
	})

	results, err := s.Search(ctx, "code", []float32{1, 0, 0}, vectorstore.Filter{"repo_id": int64(2)}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("expected only b, got %+v", results)
	}
}

func TestDeleteByFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.EnsureCollection(ctx, "code", 3)
	_ = s.Upsert(ctx, "code", []vectorstore.Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"repo_id": int64(1)}},
		{ID: "b", Vector: []float32{1, 0, 0}, Payload: map[string]any{"repo_id": int64(1)}},
	})

	if err := s.DeleteByFilter(ctx, "code", vectorstore.Filter{"repo_id": int64(1)}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.Get(ctx, "code", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected point a to be deleted")
	}
}
