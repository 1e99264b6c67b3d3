package stt

import (
	"context"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"salescoach-server/pkg/config"
	"salescoach-server/pkg/errors"
	"salescoach-server/pkg/model"
)

// GoogleProvider streams audio to Google Cloud Speech-to-Text with speaker
// diarization enabled.
type GoogleProvider struct {
	logger *logrus.Logger
	config *config.STTConfig
	client *speech.Client
}

// NewGoogleProvider creates a new Google Speech-to-Text provider.
func NewGoogleProvider(logger *logrus.Logger, cfg *config.STTConfig) *GoogleProvider {
	return &GoogleProvider{
		logger: logger,
		config: cfg,
	}
}

func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize creates the Google Speech client.
func (p *GoogleProvider) Initialize() error {
	var clientOptions []option.ClientOption
	switch {
	case p.config.GoogleAPIKey != "":
		clientOptions = append(clientOptions, option.WithAPIKey(p.config.GoogleAPIKey))
	case p.config.GoogleCredentialsFile != "":
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.GoogleCredentialsFile))
	default:
		return errors.New("Google STT requires either API key or credentials file")
	}

	client, err := speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		return errors.Wrap(err, "failed to create Google Speech client")
	}
	p.client = client

	p.logger.WithFields(logrus.Fields{
		"language":    p.config.Language,
		"sample_rate": p.config.SampleRate,
	}).Info("Google Speech-to-Text client initialized")
	return nil
}

// StartStream opens a streaming recognition session.
func (p *GoogleProvider) StartStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if p.client == nil {
		return nil, errors.NewProviderUnavailable("google")
	}

	grpcStream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start Google streaming recognition")
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = p.config.SampleRate
	}
	language := cfg.Language
	if language == "" {
		language = p.config.Language
	}

	streamingConfig := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
			DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
				EnableSpeakerDiarization: true,
				MinSpeakerCount:          2,
				MaxSpeakerCount:          2,
			},
		},
		InterimResults: true,
	}

	if err := grpcStream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig,
		},
	}); err != nil {
		return nil, errors.Wrap(err, "failed to send Google streaming config")
	}

	stream := &googleStream{
		core:     newStreamCore(p.logger, cfg.CallID, 64),
		logger:   p.logger,
		grpc:     grpcStream,
		resolver: NewSpeakerResolver(),
	}
	go stream.readLoop(ctx)

	p.logger.WithField("call_id", cfg.CallID).Info("Started Google transcription stream")
	return stream, nil
}

type googleStream struct {
	core     *streamCore
	logger   *logrus.Logger
	grpc     speechpb.Speech_StreamingRecognizeClient
	resolver *SpeakerResolver

	// Serializes Send and CloseSend; gRPC streams allow only one
	// concurrent sender and CloseSend must not race a Send.
	sendMu sync.Mutex
}

func (s *googleStream) SendAudio(data []byte) error {
	if s.core.stopped() {
		return errors.ErrSessionEnded
	}
	s.sendMu.Lock()
	err := s.grpc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	})
	s.sendMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to send audio to Google")
	}
	return nil
}

func (s *googleStream) Events() <-chan Event {
	return s.core.Events()
}

func (s *googleStream) Stop() error {
	if !s.core.shutdown() {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.grpc.CloseSend()
}

func (s *googleStream) FinalSegments() []model.TranscriptSegment {
	return s.core.FinalSegments()
}

func (s *googleStream) FullTranscript() string {
	return s.core.FullTranscript()
}

func (s *googleStream) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.core.stopped() {
			return
		}

		resp, err := s.grpc.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if !s.core.stopped() {
				s.logger.WithError(err).Warn("Google streaming recognition failed")
				s.core.publishError(errors.Wrap(err, "Google stream read failed"))
			}
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}

			channel := 0
			var start, end float64
			if len(alt.Words) > 0 {
				channel = int(alt.Words[0].SpeakerTag)
				if alt.Words[0].StartTime != nil {
					start = alt.Words[0].StartTime.AsDuration().Seconds()
				}
				last := alt.Words[len(alt.Words)-1]
				if last.EndTime != nil {
					end = last.EndTime.AsDuration().Seconds()
				}
			} else if result.ResultEndTime != nil {
				end = result.ResultEndTime.AsDuration().Seconds()
			}

			s.core.publishSegment(model.TranscriptSegment{
				Text:       alt.Transcript,
				Speaker:    s.resolver.Resolve(channel),
				StartTime:  start,
				EndTime:    end,
				Confidence: float64(alt.Confidence),
				IsFinal:    result.IsFinal,
			})
		}
	}
}
