package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"salescoach-server/pkg/model"
)

// ElasticConfig defines connection settings for Elasticsearch.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	Timeout   time.Duration
}

// ElasticStore is a minimal Elasticsearch-backed knowledge store. It talks
// plain HTTP so no client library is required.
type ElasticStore struct {
	addresses []string
	http      *http.Client
	auth      *basicAuth
	mu        sync.Mutex
	idx       int
}

type basicAuth struct {
	username string
	password string
}

// NewElasticStore creates a new Elasticsearch-backed store.
func NewElasticStore(cfg ElasticConfig) (*ElasticStore, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch: at least one address is required")
	}

	addresses := make([]string, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		trimmed := strings.TrimSpace(addr)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
			trimmed = "http://" + trimmed
		}
		if _, err := url.Parse(trimmed); err != nil {
			return nil, fmt.Errorf("elasticsearch: invalid address %q: %w", addr, err)
		}
		addresses = append(addresses, trimmed)
	}

	if len(addresses) == 0 {
		return nil, errors.New("elasticsearch: no valid addresses provided")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &ElasticStore{
		addresses: addresses,
		http:      &http.Client{Timeout: timeout},
	}

	if cfg.Username != "" {
		store.auth = &basicAuth{username: cfg.Username, password: cfg.Password}
	}

	return store, nil
}

// Index indexes or updates a document using HTTP PUT.
func (s *ElasticStore) Index(ctx context.Context, index string, doc Document) error {
	if strings.TrimSpace(index) == "" {
		return errors.New("elasticsearch: index is required")
	}
	if strings.TrimSpace(doc.ID) == "" {
		return errors.New("elasticsearch: document id is required")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"content":  doc.Content,
		"metadata": doc.Metadata,
	})
	if err != nil {
		return fmt.Errorf("elasticsearch: failed to marshal document: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/_doc/%s", s.nextAddress(), strings.TrimPrefix(index, "/"), doc.ID)
	resp, err := s.do(ctx, http.MethodPut, endpoint, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("elasticsearch: indexing failed with status %s", resp.Status)
	}
	return nil
}

// Search runs a match query on the content field and returns ranked hits.
func (s *ElasticStore) Search(ctx context.Context, index string, query string, limit int) ([]model.KnowledgeHit, error) {
	if strings.TrimSpace(index) == "" {
		return nil, errors.New("elasticsearch: index is required")
	}
	if limit <= 0 {
		limit = 5
	}

	payload, err := json.Marshal(map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"content": query,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to marshal query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/_search", s.nextAddress(), strings.TrimPrefix(index, "/"))
	resp, err := s.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("elasticsearch: search failed with status %s", resp.Status)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					Content  string            `json:"content"`
					Metadata map[string]string `json:"metadata"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to decode search response: %w", err)
	}

	hits := make([]model.KnowledgeHit, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		hits = append(hits, model.KnowledgeHit{
			ID:       h.ID,
			Content:  h.Source.Content,
			Metadata: h.Source.Metadata,
			Score:    h.Score,
		})
	}
	return hits, nil
}

// Delete removes a document. Missing documents are not an error.
func (s *ElasticStore) Delete(ctx context.Context, index string, id string) error {
	if strings.TrimSpace(index) == "" || strings.TrimSpace(id) == "" {
		return errors.New("elasticsearch: index and id are required")
	}

	endpoint := fmt.Sprintf("%s/%s/_doc/%s", s.nextAddress(), strings.TrimPrefix(index, "/"), id)
	resp, err := s.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("elasticsearch: delete failed with status %s", resp.Status)
	}
	return nil
}

func (s *ElasticStore) do(ctx context.Context, method, endpoint string, payload []byte) (*http.Response, error) {
	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if s.auth != nil {
		req.SetBasicAuth(s.auth.username, s.auth.password)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: request failed: %w", err)
	}
	return resp, nil
}

// nextAddress returns the next address in a round-robin fashion.
func (s *ElasticStore) nextAddress() string {
	s.mu.Lock()
	addr := s.addresses[s.idx%len(s.addresses)]
	s.idx++
	s.mu.Unlock()
	return addr
}
