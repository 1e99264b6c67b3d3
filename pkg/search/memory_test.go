package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRanking(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, "products", Document{ID: "p1", Content: "analytics dashboard with realtime reporting"}))
	require.NoError(t, store.Index(ctx, "products", Document{ID: "p2", Content: "email automation platform"}))
	require.NoError(t, store.Index(ctx, "products", Document{ID: "p3", Content: "realtime analytics pipeline for sales teams"}))

	hits, err := store.Search(ctx, "products", "realtime analytics", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// Both match both query tokens; order is stable but scores equal.
	assert.Equal(t, hits[0].Score, hits[1].Score)

	hits, err = store.Search(ctx, "products", "email automation", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p2", hits[0].ID)
}

func TestMemoryStoreLimitAndMiss(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, doc := range []Document{
		{ID: "a", Content: "pricing tier comparison"},
		{ID: "b", Content: "pricing discounts for annual billing"},
		{ID: "c", Content: "pricing for enterprise customers"},
	} {
		require.NoError(t, store.Index(ctx, "objections", doc))
	}

	hits, err := store.Search(ctx, "objections", "pricing", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = store.Search(ctx, "objections", "kubernetes", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, "products", Document{ID: "p1", Content: "workflow engine"}))
	require.NoError(t, store.Delete(ctx, "products", "p1"))

	hits, err := store.Search(ctx, "products", "workflow engine", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
