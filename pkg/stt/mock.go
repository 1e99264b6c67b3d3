package stt

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/errors"
	"salescoach-server/pkg/model"
)

// MockProvider is an in-process transcription provider for development and
// tests. Streams emit one scripted segment per audio write, and record every
// audio payload they receive so tests can assert what reached the recognizer.
type MockProvider struct {
	logger *logrus.Logger

	// Script is the sequence of segments a stream emits, one per SendAudio
	// call, in order. Optional; tests can instead inject segments directly.
	Script []model.TranscriptSegment

	mu      sync.Mutex
	streams []*MockStream
}

// NewMockProvider creates a mock transcription provider.
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) Initialize() error {
	return nil
}

// StartStream opens a new mock stream.
func (p *MockProvider) StartStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if cfg.CallID == "" {
		return nil, errors.NewInvalidInput("call ID is required", nil)
	}

	stream := &MockStream{
		core:   newStreamCore(p.logger, cfg.CallID, 64),
		script: append([]model.TranscriptSegment(nil), p.Script...),
	}

	p.mu.Lock()
	p.streams = append(p.streams, stream)
	p.mu.Unlock()

	p.logger.WithField("call_id", cfg.CallID).Debug("Started mock transcription stream")
	return stream, nil
}

// Streams returns every stream this provider has opened, in order.
func (p *MockProvider) Streams() []*MockStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*MockStream, len(p.streams))
	copy(out, p.streams)
	return out
}

// LastStream returns the most recently opened stream, or nil.
func (p *MockProvider) LastStream() *MockStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// MockStream is the stream implementation backing MockProvider.
type MockStream struct {
	core *streamCore

	mu       sync.Mutex
	script   []model.TranscriptSegment
	cursor   int
	received [][]byte
}

func (s *MockStream) SendAudio(data []byte) error {
	if s.core.stopped() {
		return errors.ErrSessionEnded
	}

	s.mu.Lock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.received = append(s.received, buf)

	var next *model.TranscriptSegment
	if s.cursor < len(s.script) {
		seg := s.script[s.cursor]
		s.cursor++
		next = &seg
	}
	s.mu.Unlock()

	if next != nil {
		s.core.publishSegment(*next)
	}
	return nil
}

func (s *MockStream) Events() <-chan Event {
	return s.core.Events()
}

func (s *MockStream) Stop() error {
	s.core.shutdown()
	return nil
}

func (s *MockStream) FinalSegments() []model.TranscriptSegment {
	return s.core.FinalSegments()
}

func (s *MockStream) FullTranscript() string {
	return s.core.FullTranscript()
}

// InjectSegment pushes a segment through the stream as if the recognizer
// produced it.
func (s *MockStream) InjectSegment(seg model.TranscriptSegment) {
	s.core.publishSegment(seg)
}

// InjectError pushes a stream error event.
func (s *MockStream) InjectError(err error) {
	s.core.publishError(err)
}

// ReceivedAudio returns every audio payload written to the stream.
func (s *MockStream) ReceivedAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}
