package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/config"
	"salescoach-server/pkg/errors"
	"salescoach-server/pkg/model"
)

const deepgramLiveURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider streams audio to the Deepgram live transcription API
// over a websocket, with diarization enabled so segments carry speaker
// channels.
type DeepgramProvider struct {
	logger   *logrus.Logger
	config   *config.STTConfig
	endpoint string
}

// NewDeepgramProvider creates a new Deepgram provider.
func NewDeepgramProvider(logger *logrus.Logger, cfg *config.STTConfig) *DeepgramProvider {
	return &DeepgramProvider{
		logger:   logger,
		config:   cfg,
		endpoint: deepgramLiveURL,
	}
}

func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

func (p *DeepgramProvider) Initialize() error {
	if p.config == nil || p.config.DeepgramAPIKey == "" {
		return errors.New("Deepgram API key is required")
	}
	p.logger.WithFields(logrus.Fields{
		"language":    p.config.Language,
		"sample_rate": p.config.SampleRate,
	}).Info("Deepgram transcription provider initialized")
	return nil
}

// StartStream opens a live websocket session with Deepgram.
func (p *DeepgramProvider) StartStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+p.config.DeepgramAPIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrap(err, "failed to connect to Deepgram").
				WithField("status", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "failed to connect to Deepgram")
	}

	stream := &deepgramStream{
		core:     newStreamCore(p.logger, cfg.CallID, 64),
		logger:   p.logger,
		conn:     conn,
		resolver: NewSpeakerResolver(),
	}

	go stream.readLoop(ctx)
	go stream.keepAliveLoop(ctx)

	p.logger.WithField("call_id", cfg.CallID).Info("Started Deepgram transcription stream")
	return stream, nil
}

func (p *DeepgramProvider) buildURL(cfg StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", errors.Wrap(err, "invalid Deepgram endpoint")
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = p.config.SampleRate
	}
	language := cfg.Language
	if language == "" {
		language = p.config.Language
	}
	codec := cfg.Codec
	if codec == "" {
		codec = "linear16"
	}

	q := u.Query()
	q.Set("encoding", codec)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("language", language)
	q.Set("model", "nova-2")
	q.Set("punctuate", "true")
	q.Set("diarize", "true")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// deepgramStream is one live websocket session.
type deepgramStream struct {
	core     *streamCore
	logger   *logrus.Logger
	conn     *websocket.Conn
	resolver *SpeakerResolver

	// Serializes audio frames, keep-alives, and the CloseStream frame;
	// gorilla/websocket allows only one concurrent writer.
	writeMu sync.Mutex
}

func (s *deepgramStream) writeMessage(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(msgType, data)
}

// deepgramResponse is the subset of the live API response we consume.
type deepgramResponse struct {
	Type    string  `json:"type"`
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	Dur     float64 `json:"duration"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word    string  `json:"word"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
				Speaker int     `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) SendAudio(data []byte) error {
	if s.core.stopped() {
		return errors.ErrSessionEnded
	}
	if err := s.writeMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "failed to send audio to Deepgram")
	}
	return nil
}

func (s *deepgramStream) Events() <-chan Event {
	return s.core.Events()
}

func (s *deepgramStream) Stop() error {
	if !s.core.shutdown() {
		return nil
	}
	// Ask Deepgram to flush pending results before tearing down.
	_ = s.writeMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	return s.conn.Close()
}

func (s *deepgramStream) FinalSegments() []model.TranscriptSegment {
	return s.core.FinalSegments()
}

func (s *deepgramStream) FullTranscript() string {
	return s.core.FullTranscript()
}

func (s *deepgramStream) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.core.stopped() {
			return
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.core.stopped() {
				s.logger.WithError(err).Warn("Deepgram websocket read failed")
				s.core.publishError(errors.Wrap(err, "Deepgram stream read failed"))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			s.logger.WithError(err).Debug("Ignoring unparseable Deepgram message")
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}

		alt := resp.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}

		channel := 0
		if len(alt.Words) > 0 {
			channel = alt.Words[0].Speaker
		}

		s.core.publishSegment(model.TranscriptSegment{
			Text:       alt.Transcript,
			Speaker:    s.resolver.Resolve(channel),
			StartTime:  resp.Start,
			EndTime:    resp.Start + resp.Dur,
			Confidence: alt.Confidence,
			IsFinal:    resp.IsFinal,
		})
	}
}

// keepAliveLoop pings Deepgram so idle streams are not closed server-side.
func (s *deepgramStream) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.core.done:
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				s.logger.WithError(err).Debug("Deepgram keep-alive failed")
				return
			}
		}
	}
}
