package feed

import (
	"context"
	"fmt"

	"devshare/api/internal/store"
)

// authorBatchSize is the backend's cap on identifier-membership queries.
const authorBatchSize = 10

// AuthorLookup is the single-batch author query; inputs never exceed
// authorBatchSize ids per call.
type AuthorLookup interface {
	GetAuthorCards(ctx context.Context, ids []string) (map[string]store.AuthorCard, error)
}

// ResolveAuthors fetches public display records for a set of author ids,
// partitioned into batches of at most 10, and merges the results into one
// map. Ids with no record are absent from the result.
func ResolveAuthors(ctx context.Context, lookup AuthorLookup, ids []string) (map[string]store.AuthorCard, error) {
	merged := make(map[string]store.AuthorCard, len(ids))
	for _, chunk := range chunkIDs(ids, authorBatchSize) {
		cards, err := lookup.GetAuthorCards(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("author batch: %w", err)
		}
		for id, card := range cards {
			merged[id] = card
		}
	}
	return merged, nil
}

func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
