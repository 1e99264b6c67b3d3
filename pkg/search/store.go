package search

import (
	"context"

	"salescoach-server/pkg/model"
)

// Document is one knowledge entry: a product description, an objection
// rebuttal, or any other text the coaching pipeline retrieves against.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store is the similarity-search capability used by the coaching pipeline.
// All lookups are best effort; callers degrade to uninformed suggestions
// when a store is unavailable.
type Store interface {
	Index(ctx context.Context, index string, doc Document) error
	Search(ctx context.Context, index string, query string, limit int) ([]model.KnowledgeHit, error)
	Delete(ctx context.Context, index string, id string) error
}
