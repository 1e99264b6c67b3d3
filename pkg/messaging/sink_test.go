package messaging

import (
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"salescoach-server/pkg/model"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []CallEvent
	err    error
}

func (p *recordingPublisher) Publish(event CallEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type nullSink struct {
	transcripts int
	suggestions int
	ended       int
}

func (s *nullSink) SendTranscript(model.TranscriptSegment) {}
func (s *nullSink) SendSentiment(model.SentimentSample)    {}
func (s *nullSink) SendSuggestion(model.Suggestion)        {}
func (s *nullSink) SendConsent(model.ConsentState, string) {}
func (s *nullSink) SendCallEnded(model.CallResult)         {}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestEventSinkPublishesFinalTranscripts(t *testing.T) {
	bus := &recordingPublisher{}
	sink := NewEventSink("call-1", &nullSink{}, bus, testLogger())

	sink.SendTranscript(model.TranscriptSegment{Text: "thinking", IsFinal: false})
	sink.SendTranscript(model.TranscriptSegment{Text: "done", IsFinal: true})

	assert.Equal(t, []string{EventTranscript}, bus.types())
	assert.Equal(t, "call-1", bus.events[0].CallID)
}

func TestEventSinkPublishesCallLifecycle(t *testing.T) {
	bus := &recordingPublisher{}
	sink := NewEventSink("call-2", &nullSink{}, bus, testLogger())

	sink.SendConsent(model.ConsentGranted, "")
	sink.SendSuggestion(model.Suggestion{ID: "s1", Kind: model.SuggestionResponse})
	sink.SendSentiment(model.SentimentSample{Sentiment: "positive"})
	sink.SendCallEnded(model.CallResult{CallID: "call-2", DurationSeconds: 42})

	assert.Equal(t, []string{EventConsent, EventSuggestion, EventSentiment, EventCallEnded}, bus.types())
}

func TestEventSinkSwallowsPublishErrors(t *testing.T) {
	bus := &recordingPublisher{err: errors.New("broker down")}
	sink := NewEventSink("call-3", &nullSink{}, bus, testLogger())

	assert.NotPanics(t, func() {
		sink.SendCallEnded(model.CallResult{CallID: "call-3"})
	})
}

func TestNilPublisherDefaultsToNop(t *testing.T) {
	sink := NewEventSink("call-4", &nullSink{}, nil, testLogger())

	assert.NotPanics(t, func() {
		sink.SendSuggestion(model.Suggestion{ID: "s1"})
	})
}
