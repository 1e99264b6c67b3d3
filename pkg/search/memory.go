package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"salescoach-server/pkg/model"
)

// MemoryStore is an in-process knowledge store used when no Elasticsearch
// cluster is configured. Ranking is token overlap between query and content.
type MemoryStore struct {
	mu      sync.RWMutex
	indexes map[string]map[string]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indexes: make(map[string]map[string]Document)}
}

func (s *MemoryStore) Index(ctx context.Context, index string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.indexes[index]
	if !ok {
		docs = make(map[string]Document)
		s.indexes[index] = docs
	}
	docs[doc.ID] = doc
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, index string, query string, limit int) ([]model.KnowledgeHit, error) {
	if limit <= 0 {
		limit = 5
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []model.KnowledgeHit
	for _, doc := range s.indexes[index] {
		score := overlap(queryTokens, tokenize(doc.Content))
		if score == 0 {
			continue
		}
		hits = append(hits, model.KnowledgeHit{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
			Score:    score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryStore) Delete(ctx context.Context, index string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if docs, ok := s.indexes[index]; ok {
		delete(docs, id)
	}
	return nil
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:'\"()")
		if len(f) > 2 {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

// overlap scores how much of the query vocabulary a document covers.
func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
