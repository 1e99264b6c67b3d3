package messaging

import (
	"time"

	"salescoach-server/pkg/model"
)

// Event type names carried in the CallEvent envelope.
const (
	EventTranscript = "transcript"
	EventSuggestion = "suggestion"
	EventSentiment  = "sentiment"
	EventConsent    = "consent"
	EventCallEnded  = "call_ended"
)

// Publisher delivers call events to downstream consumers.
type Publisher interface {
	Publish(event CallEvent) error
}

// NopPublisher discards all events. Used when AMQP is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(CallEvent) error { return nil }

// TranscriptEvent builds the envelope for a finalized transcript segment.
func TranscriptEvent(callID string, seg model.TranscriptSegment) CallEvent {
	return CallEvent{
		CallID:    callID,
		EventType: EventTranscript,
		Timestamp: time.Now(),
		Payload:   seg,
	}
}

// SuggestionEvent builds the envelope for a coaching suggestion.
func SuggestionEvent(callID string, s model.Suggestion) CallEvent {
	return CallEvent{
		CallID:    callID,
		EventType: EventSuggestion,
		Timestamp: time.Now(),
		Payload:   s,
	}
}

// SentimentEvent builds the envelope for a sentiment sample.
func SentimentEvent(callID string, sample model.SentimentSample) CallEvent {
	return CallEvent{
		CallID:    callID,
		EventType: EventSentiment,
		Timestamp: time.Now(),
		Payload:   sample,
	}
}

// ConsentEvent builds the envelope for a consent state change.
func ConsentEvent(callID string, state model.ConsentState) CallEvent {
	return CallEvent{
		CallID:    callID,
		EventType: EventConsent,
		Timestamp: time.Now(),
		Payload:   map[string]string{"state": string(state)},
	}
}

// CallEndedEvent builds the envelope for the end-of-call result.
func CallEndedEvent(result model.CallResult) CallEvent {
	return CallEvent{
		CallID:    result.CallID,
		EventType: EventCallEnded,
		Timestamp: time.Now(),
		Payload:   result,
	}
}
