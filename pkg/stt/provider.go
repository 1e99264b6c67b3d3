package stt

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/errors"
	"salescoach-server/pkg/model"
)

// StreamConfig carries per-call parameters for a transcription stream.
type StreamConfig struct {
	CallID     string
	Language   string
	SampleRate int
	Codec      string
}

// SuggestionSignal marks a finalized counterparty utterance that the
// session should run through the coaching pipeline.
type SuggestionSignal struct {
	Segment model.TranscriptSegment
}

// Event is one item on a transcription stream. Exactly one field is set.
// A Segment event for an utterance is always delivered before the
// SuggestionNeeded event derived from the same utterance.
type Event struct {
	Segment          *model.TranscriptSegment
	SuggestionNeeded *SuggestionSignal
	Err              error
}

// Stream is a live transcription stream for one call.
type Stream interface {
	// SendAudio forwards raw audio bytes to the recognizer.
	SendAudio(data []byte) error

	// Events returns the ordered stream of transcription events.
	// The channel is closed when the stream stops.
	Events() <-chan Event

	// Stop tears down the stream. Safe to call more than once.
	Stop() error

	// FinalSegments returns a copy of all finalized segments so far.
	FinalSegments() []model.TranscriptSegment

	// FullTranscript returns the finalized transcript as speaker-labeled lines.
	FullTranscript() string
}

// Provider creates transcription streams.
type Provider interface {
	Name() string
	Initialize() error
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// streamCore holds the bookkeeping shared by all stream implementations:
// the event channel, the finalized segment log, and stop handling.
type streamCore struct {
	logger *logrus.Logger
	callID string
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	finals []model.TranscriptSegment
	closed bool
}

func newStreamCore(logger *logrus.Logger, callID string, queueSize int) *streamCore {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &streamCore{
		logger: logger,
		callID: callID,
		events: make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
}

func (c *streamCore) Events() <-chan Event {
	return c.events
}

// publishSegment records a segment and emits its events. A finalized
// counterparty segment additionally emits a SuggestionNeeded event,
// strictly after the segment event.
func (c *streamCore) publishSegment(seg model.TranscriptSegment) {
	if seg.IsFinal {
		c.mu.Lock()
		c.finals = append(c.finals, seg)
		c.mu.Unlock()
	}

	segCopy := seg
	if !c.send(Event{Segment: &segCopy}) {
		return
	}
	if seg.IsFinal && seg.Speaker == model.SpeakerCounterparty {
		c.send(Event{SuggestionNeeded: &SuggestionSignal{Segment: seg}})
	}
}

func (c *streamCore) publishError(err error) {
	c.send(Event{Err: err})
}

// send delivers an event unless the stream has stopped. The mutex makes
// send and shutdown mutually exclusive, so no sender can ever touch a
// closed channel. Returns false when the event was not delivered; a full
// queue drops the event, which also suppresses any derived suggestion
// event so the segment-before-suggestion ordering holds.
func (c *streamCore) send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		c.logger.WithField("call_id", c.callID).Warn("Transcription event queue full, dropping event")
		return false
	}
}

// shutdown closes the stream exactly once. Returns false if already closed.
func (c *streamCore) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	close(c.events)
	return true
}

func (c *streamCore) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *streamCore) FinalSegments() []model.TranscriptSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.TranscriptSegment, len(c.finals))
	copy(out, c.finals)
	return out
}

func (c *streamCore) FullTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for i, seg := range c.finals {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(seg.Speaker))
		b.WriteString(": ")
		b.WriteString(seg.Text)
	}
	return b.String()
}

// ProviderManager tracks registered transcription providers and picks the
// stream provider for each call.
type ProviderManager struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
	mu              sync.RWMutex
}

// NewProviderManager creates a manager with the given default provider name.
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider initializes and registers a provider.
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if provider == nil {
		return errors.NewInvalidInput("provider cannot be nil", nil)
	}

	if err := provider.Initialize(); err != nil {
		return errors.Wrap(err, "failed to initialize provider").WithField("provider", provider.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[provider.Name()] = provider

	m.logger.WithField("provider", provider.Name()).Info("Registered transcription provider")
	return nil
}

// GetProvider returns the named provider, or the default when name is empty.
func (m *ProviderManager) GetProvider(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		name = m.defaultProvider
	}
	provider, exists := m.providers[name]
	if !exists {
		return nil, errors.NewProviderUnavailable(name)
	}
	return provider, nil
}

// DefaultProvider returns the configured default provider name.
func (m *ProviderManager) DefaultProvider() string {
	return m.defaultProvider
}
