package feed

import (
	"context"
	"fmt"
	"testing"

	"devshare/api/internal/store"
)

type fakeLookup struct {
	calls [][]string
}

func (f *fakeLookup) GetAuthorCards(_ context.Context, ids []string) (map[string]store.AuthorCard, error) {
	f.calls = append(f.calls, ids)
	result := make(map[string]store.AuthorCard, len(ids))
	for _, id := range ids {
		result[id] = store.AuthorCard{ID: id, Handle: "@" + id}
	}
	return result, nil
}

func TestResolveAuthorsChunksAtTen(t *testing.T) {
	ids := make([]string, 0, 15)
	for i := 0; i < 15; i++ {
		ids = append(ids, fmt.Sprintf("u%02d", i))
	}

	lookup := &fakeLookup{}
	cards, err := ResolveAuthors(context.Background(), lookup, ids)
	if err != nil {
		t.Fatalf("ResolveAuthors() error = %v", err)
	}

	if len(lookup.calls) != 2 {
		t.Fatalf("expected 2 batches for 15 ids, got %d", len(lookup.calls))
	}
	if len(lookup.calls[0]) != 10 || len(lookup.calls[1]) != 5 {
		t.Fatalf("expected batch sizes 10 and 5, got %d and %d", len(lookup.calls[0]), len(lookup.calls[1]))
	}
	if len(cards) != 15 {
		t.Fatalf("expected 15 cards, got %d", len(cards))
	}
	for id := range cards {
		found := false
		for _, want := range ids {
			if id == want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("card %q not among requested ids", id)
		}
	}
}

func TestResolveAuthorsEmpty(t *testing.T) {
	lookup := &fakeLookup{}
	cards, err := ResolveAuthors(context.Background(), lookup, nil)
	if err != nil {
		t.Fatalf("ResolveAuthors() error = %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("expected no cards, got %d", len(cards))
	}
	if len(lookup.calls) != 0 {
		t.Fatalf("expected no lookup calls, got %d", len(lookup.calls))
	}
}

func TestResolveAuthorsExactBoundary(t *testing.T) {
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, fmt.Sprintf("u%02d", i))
	}

	lookup := &fakeLookup{}
	if _, err := ResolveAuthors(context.Background(), lookup, ids); err != nil {
		t.Fatalf("ResolveAuthors() error = %v", err)
	}
	if len(lookup.calls) != 1 {
		t.Fatalf("expected a single batch for exactly 10 ids, got %d", len(lookup.calls))
	}
}

func TestChunkIDs(t *testing.T) {
	chunks := chunkIDs([]string{"a", "b", "c", "d", "e"}, 2)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[2]) != 1 || chunks[2][0] != "e" {
		t.Fatalf("unexpected tail chunk: %v", chunks[2])
	}
}
