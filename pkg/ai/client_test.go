package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salescoach-server/pkg/config"
)

func TestOpenAIClientComplete(t *testing.T) {
	var receivedAuth string
	var receivedBody chatCompletionRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&receivedBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Ask about their timeline.  "}}]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(testLogger(), &config.AIConfig{
		APIKey:         "test-key",
		BaseURL:        ts.URL,
		Model:          "gpt-4o",
		RequestTimeout: 2 * time.Second,
		MaxTokens:      300,
	})

	content, err := client.Complete(context.Background(), ChatRequest{
		System:      "coach",
		User:        "what next",
		Temperature: 0.7,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ask about their timeline.", content)

	assert.Equal(t, "Bearer test-key", receivedAuth)
	assert.Equal(t, "gpt-4o", receivedBody.Model)
	assert.Equal(t, 300, receivedBody.MaxTokens)
	require.Len(t, receivedBody.Messages, 2)
	assert.Equal(t, "system", receivedBody.Messages[0].Role)
	require.NotNil(t, receivedBody.ResponseFormat)
	assert.Equal(t, "json_object", receivedBody.ResponseFormat.Type)
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(testLogger(), &config.AIConfig{
		APIKey:         "test-key",
		BaseURL:        ts.URL,
		Model:          "gpt-4o",
		RequestTimeout: 2 * time.Second,
	})

	_, err := client.Complete(context.Background(), ChatRequest{User: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestOpenAIClientRequiresAPIKey(t *testing.T) {
	client := NewOpenAIClient(testLogger(), &config.AIConfig{BaseURL: "http://localhost:1", RequestTimeout: time.Second})

	_, err := client.Complete(context.Background(), ChatRequest{User: "hello"})
	assert.Error(t, err)
}
