package messaging

import (
	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/model"
	"salescoach-server/pkg/session"
)

// EventSink wraps a client-facing sink and mirrors every outbound event
// to the event bus. Publish failures never block or fail the call; they
// are logged and dropped.
type EventSink struct {
	callID    string
	inner     session.Sink
	publisher Publisher
	logger    *logrus.Logger
}

// NewEventSink wraps inner so call events are also published to bus.
func NewEventSink(callID string, inner session.Sink, bus Publisher, logger *logrus.Logger) *EventSink {
	if bus == nil {
		bus = NopPublisher{}
	}
	return &EventSink{
		callID:    callID,
		inner:     inner,
		publisher: bus,
		logger:    logger,
	}
}

func (s *EventSink) SendTranscript(seg model.TranscriptSegment) {
	s.inner.SendTranscript(seg)
	if seg.IsFinal {
		s.publish(TranscriptEvent(s.callID, seg))
	}
}

func (s *EventSink) SendSentiment(sample model.SentimentSample) {
	s.inner.SendSentiment(sample)
	s.publish(SentimentEvent(s.callID, sample))
}

func (s *EventSink) SendSuggestion(sg model.Suggestion) {
	s.inner.SendSuggestion(sg)
	s.publish(SuggestionEvent(s.callID, sg))
}

func (s *EventSink) SendConsent(state model.ConsentState, message string) {
	s.inner.SendConsent(state, message)
	s.publish(ConsentEvent(s.callID, state))
}

func (s *EventSink) SendCallEnded(result model.CallResult) {
	s.inner.SendCallEnded(result)
	s.publish(CallEndedEvent(result))
}

func (s *EventSink) publish(event CallEvent) {
	if err := s.publisher.Publish(event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"call_id":    event.CallID,
			"event_type": event.EventType,
		}).Debug("Failed to publish call event")
	}
}
