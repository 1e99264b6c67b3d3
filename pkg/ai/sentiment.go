package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/model"
)

// SentimentTracker accumulates per-utterance sentiment for one call.
// Analysis is total: it always returns a usable sample.
type SentimentTracker struct {
	logger *logrus.Logger
	chat   ChatClient

	mu      sync.Mutex
	history []model.SentimentSample
}

// NewSentimentTracker creates a tracker for a single call.
func NewSentimentTracker(logger *logrus.Logger, chat ChatClient) *SentimentTracker {
	return &SentimentTracker{
		logger: logger,
		chat:   chat,
	}
}

// Analyze scores one counterparty utterance and records it on the timeline.
// Failures degrade to a neutral sample so the call is never disrupted.
func (t *SentimentTracker) Analyze(ctx context.Context, text string, timestamp float64) model.SentimentSample {
	prompt := fmt.Sprintf(`Analyze the sentiment of this statement from a sales call prospect.

Statement: "%s"

Return JSON:
{
    "sentiment": "positive" | "neutral" | "negative",
    "score": -1.0 to 1.0,
    "emotions": ["emotion1", "emotion2"],
    "engagement_level": "high" | "medium" | "low"
}`, text)

	sample := model.SentimentSample{
		Sentiment:       "neutral",
		Score:           0.0,
		Emotions:        []string{},
		EngagementLevel: "medium",
		Timestamp:       timestamp,
	}

	content, err := t.chat.Complete(ctx, ChatRequest{
		System:      "You are a sentiment analyzer. Return only valid JSON.",
		User:        prompt,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		t.logger.WithError(err).Debug("Sentiment analysis failed, using neutral sample")
		return t.record(sample)
	}

	var parsed model.SentimentSample
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		t.logger.WithError(err).Debug("Unparseable sentiment output, using neutral sample")
		return t.record(sample)
	}

	parsed.Timestamp = timestamp
	parsed.Score = clampScore(parsed.Score)
	if parsed.Emotions == nil {
		parsed.Emotions = []string{}
	}
	if parsed.Sentiment == "" {
		parsed.Sentiment = "neutral"
	}
	if parsed.EngagementLevel == "" {
		parsed.EngagementLevel = "medium"
	}
	return t.record(parsed)
}

// clampScore bounds a provider-returned score to the [-1, 1] domain.
func clampScore(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

func (t *SentimentTracker) record(sample model.SentimentSample) model.SentimentSample {
	t.mu.Lock()
	t.history = append(t.history, sample)
	t.mu.Unlock()
	return sample
}

// Timeline returns a copy of the sentiment samples in arrival order.
func (t *SentimentTracker) Timeline() []model.SentimentSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.SentimentSample, len(t.history))
	copy(out, t.history)
	return out
}

// AverageScore returns the mean sentiment score, 0 with no samples.
func (t *SentimentTracker) AverageScore() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return 0.0
	}
	var sum float64
	for _, s := range t.history {
		sum += s.Score
	}
	return sum / float64(len(t.history))
}
