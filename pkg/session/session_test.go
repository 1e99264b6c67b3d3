package session

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salescoach-server/pkg/ai"
	"salescoach-server/pkg/config"
	"salescoach-server/pkg/model"
	"salescoach-server/pkg/stt"
)

// scriptedChat routes completions by prompt shape so one stub covers the
// analyzer, the coach, the sentiment classifier, and the summarizer.
type scriptedChat struct {
	mu             sync.Mutex
	analysisJSON   string
	sentimentJSON  string
	summaryJSON    string
	suggestionText string
	err            error
}

func (c *scriptedChat) Complete(ctx context.Context, req ai.ChatRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	switch {
	case strings.Contains(req.User, "Analyze this prospect statement"):
		return c.analysisJSON, nil
	case strings.Contains(req.User, "Analyze the sentiment"):
		return c.sentimentJSON, nil
	case strings.Contains(req.User, "comprehensive summary"):
		return c.summaryJSON, nil
	default:
		return c.suggestionText, nil
	}
}

func defaultChat() *scriptedChat {
	return &scriptedChat{
		analysisJSON:   `{"intent":"statement","sentiment":"neutral","topics":[],"is_buying_signal":false,"urgency":"medium","needs_response":true,"suggested_stage":"discovery"}`,
		sentimentJSON:  `{"sentiment":"neutral","score":0.1,"emotions":[],"engagement_level":"medium"}`,
		summaryJSON:    `{"executive_summary":"Productive call.","key_points":["pricing"],"action_items":["send proposal"],"prospect_interests":[],"objections_raised":[],"products_discussed":[],"overall_sentiment":"positive","recommended_follow_up":"Send proposal","deal_probability":65,"suggested_email_subject":"Next steps"}`,
		suggestionText: "Ask about their current process.",
	}
}

type fakeSink struct {
	mu          sync.Mutex
	transcripts []model.TranscriptSegment
	sentiments  []model.SentimentSample
	suggestions []model.Suggestion
	consents    []model.ConsentState
	ended       []model.CallResult

	suggestionCh chan model.Suggestion
	endedCh      chan model.CallResult
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		suggestionCh: make(chan model.Suggestion, 32),
		endedCh:      make(chan model.CallResult, 4),
	}
}

func (f *fakeSink) SendTranscript(seg model.TranscriptSegment) {
	f.mu.Lock()
	f.transcripts = append(f.transcripts, seg)
	f.mu.Unlock()
}

func (f *fakeSink) SendSentiment(sample model.SentimentSample) {
	f.mu.Lock()
	f.sentiments = append(f.sentiments, sample)
	f.mu.Unlock()
}

func (f *fakeSink) SendSuggestion(s model.Suggestion) {
	f.mu.Lock()
	f.suggestions = append(f.suggestions, s)
	f.mu.Unlock()
	f.suggestionCh <- s
}

func (f *fakeSink) SendConsent(state model.ConsentState, message string) {
	f.mu.Lock()
	f.consents = append(f.consents, state)
	f.mu.Unlock()
}

func (f *fakeSink) SendCallEnded(result model.CallResult) {
	f.mu.Lock()
	f.ended = append(f.ended, result)
	f.mu.Unlock()
	f.endedCh <- result
}

func (f *fakeSink) transcriptTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.transcripts))
	for i, seg := range f.transcripts {
		out[i] = seg.Text
	}
	return out
}

func (f *fakeSink) waitSuggestion(t *testing.T) model.Suggestion {
	t.Helper()
	select {
	case s := <-f.suggestionCh:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for suggestion")
		return model.Suggestion{}
	}
}

type fakeStore struct {
	mu          sync.Mutex
	segments    []model.TranscriptSegment
	suggestions []model.Suggestion
	feedback    map[string]bool
	consents    []model.ConsentState
	finalized   int
	finalizeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{feedback: make(map[string]bool)}
}

func (f *fakeStore) SaveTranscriptSegment(ctx context.Context, callID string, seg model.TranscriptSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, seg)
	return nil
}

func (f *fakeStore) SaveSuggestion(ctx context.Context, callID string, s model.Suggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggestions = append(f.suggestions, s)
	return nil
}

func (f *fakeStore) SaveSuggestionFeedback(ctx context.Context, suggestionID string, wasHelpful, wasUsed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback[suggestionID] = wasHelpful
	return nil
}

func (f *fakeStore) UpdateConsent(ctx context.Context, callID string, state model.ConsentState, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consents = append(f.consents, state)
	return nil
}

func (f *fakeStore) FinalizeCall(ctx context.Context, callID string, fullTranscript string, segments []model.TranscriptSegment, result model.CallResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized++
	return f.finalizeErr
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		EventQueueSize:      64,
		SuggestionTimeout:   2 * time.Second,
		SentimentTimeout:    2 * time.Second,
		SummaryTimeout:      2 * time.Second,
		EndDrainTimeout:     2 * time.Second,
		RegistryShardCount:  16,
		MaxDiscoveryResults: 3,
	}
}

type harness struct {
	session  *Session
	provider *stt.MockProvider
	sink     *fakeSink
	store    *fakeStore
	chat     *scriptedChat
}

func newHarness(t *testing.T, chat *scriptedChat, store Store) *harness {
	t.Helper()
	logger := testLogger()
	provider := stt.NewMockProvider(logger)

	h := &harness{
		provider: provider,
		sink:     newFakeSink(),
		chat:     chat,
	}
	if fs, ok := store.(*fakeStore); ok {
		h.store = fs
	}

	h.session = New(Options{
		CallID:    "call-1",
		UserID:    "user-1",
		Config:    testSessionConfig(),
		Logger:    logger,
		Engine:    ai.NewEngine(logger, chat, nil, ai.EngineOptions{}),
		Sentiment: ai.NewSentimentTracker(logger, chat),
		Provider:  provider,
		Store:     store,
		Sink:      h.sink,
	})
	t.Cleanup(func() { h.session.End("test_cleanup") })
	return h
}

func (h *harness) start(t *testing.T) *stt.MockStream {
	t.Helper()
	require.NoError(t, h.session.Start(StartContext{
		ProspectName:    "Alice",
		ProspectCompany: "Acme",
		Objective:       "Book demo",
	}))
	stream := h.provider.LastStream()
	require.NotNil(t, stream)
	return stream
}

func TestStartEmitsOpeningRapportSuggestion(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)
	h.start(t)

	opening := h.sink.waitSuggestion(t)
	assert.Equal(t, model.SuggestionRapport, opening.Kind)
	assert.NotEmpty(t, opening.Content)
	assert.Greater(t, opening.Confidence, 0.0)

	// Exactly one suggestion for a quiet call.
	select {
	case s := <-h.sink.suggestionCh:
		t.Fatalf("unexpected extra suggestion: %+v", s)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)
	h.start(t)

	assert.Error(t, h.session.Start(StartContext{}))
}

func TestAudioDroppedWithoutConsent(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)
	stream := h.start(t)
	h.sink.waitSuggestion(t) // opening

	h.session.ProcessAudio([]byte{0x01})
	h.session.ProcessAudio([]byte{0x02})

	h.session.GrantConsent()
	marker := []byte{0xAA}
	h.session.ProcessAudio(marker)

	require.Eventually(t, func() bool {
		return len(stream.ReceivedAudio()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	received := stream.ReceivedAudio()
	require.Len(t, received, 1)
	assert.Equal(t, marker, received[0])
}

func TestConsentDenialMidCallSuppressesAudio(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)
	stream := h.start(t)
	h.sink.waitSuggestion(t)

	h.session.GrantConsent()
	h.session.ProcessAudio([]byte{0x01})
	require.Eventually(t, func() bool {
		return len(stream.ReceivedAudio()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.session.DenyConsent()
	h.session.ProcessAudio([]byte{0x02})
	h.session.ProcessAudio([]byte{0x03})

	h.session.GrantConsent()
	marker := []byte{0xBB}
	h.session.ProcessAudio(marker)

	require.Eventually(t, func() bool {
		return len(stream.ReceivedAudio()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	received := stream.ReceivedAudio()
	assert.Equal(t, []byte{0x01}, received[0])
	assert.Equal(t, marker, received[1])
}

func TestTranscriptEventsPreserveArrivalOrder(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)
	stream := h.start(t)
	h.sink.waitSuggestion(t)

	texts := []string{"first", "second", "third", "fourth"}
	for i, text := range texts {
		stream.InjectSegment(model.TranscriptSegment{
			Text:      text,
			Speaker:   model.SpeakerAgent,
			StartTime: float64(i),
			EndTime:   float64(i) + 0.5,
			IsFinal:   true,
		})
	}

	require.Eventually(t, func() bool {
		return len(h.sink.transcriptTexts()) == len(texts)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, texts, h.sink.transcriptTexts())
}

func TestObjectionDispatch(t *testing.T) {
	chat := defaultChat()
	chat.analysisJSON = `{"intent":"objection","sentiment":"negative","topics":["price"],"is_buying_signal":false,"urgency":"high","needs_response":true,"suggested_stage":"objection"}`
	chat.suggestionText = "Acknowledge the cost concern and reframe around ROI."

	h := newHarness(t, chat, nil)
	stream := h.start(t)
	h.sink.waitSuggestion(t)

	stream.InjectSegment(model.TranscriptSegment{
		Text:      "honestly the price seems too high",
		Speaker:   model.SpeakerCounterparty,
		StartTime: 10,
		EndTime:   13,
		IsFinal:   true,
	})

	suggestion := h.sink.waitSuggestion(t)
	assert.Equal(t, model.SuggestionObjectionHandler, suggestion.Kind)
	assert.NotEmpty(t, suggestion.Content)

	conv := h.session.Context()
	assert.Contains(t, conv.ObjectionsRaised, "price")
	assert.Equal(t, model.StageObjection, conv.Stage)
}

func TestMalformedAnalysisFallsBack(t *testing.T) {
	chat := defaultChat()
	chat.analysisJSON = "this is not json"

	h := newHarness(t, chat, nil)
	stream := h.start(t)
	h.sink.waitSuggestion(t)

	stream.InjectSegment(model.TranscriptSegment{
		Text:      "we use spreadsheets today",
		Speaker:   model.SpeakerCounterparty,
		StartTime: 5,
		EndTime:   8,
		IsFinal:   true,
	})

	// Fallback classification is a statement at the discovery stage, so the
	// continuation flow produces a question-typed suggestion.
	suggestion := h.sink.waitSuggestion(t)
	assert.Equal(t, model.SuggestionQuestion, suggestion.Kind)
	assert.NotEmpty(t, suggestion.Content)
}

func TestSentimentEmittedForCounterpartyFinals(t *testing.T) {
	chat := defaultChat()
	chat.sentimentJSON = `{"sentiment":"positive","score":0.7,"emotions":["curious"],"engagement_level":"high"}`

	h := newHarness(t, chat, nil)
	stream := h.start(t)
	h.sink.waitSuggestion(t)

	stream.InjectSegment(model.TranscriptSegment{
		Text:      "that could actually help us",
		Speaker:   model.SpeakerCounterparty,
		StartTime: 20,
		EndTime:   22,
		IsFinal:   true,
	})

	require.Eventually(t, func() bool {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return len(h.sink.sentiments) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.sink.mu.Lock()
	sample := h.sink.sentiments[0]
	h.sink.mu.Unlock()
	assert.Equal(t, "positive", sample.Sentiment)
	assert.InDelta(t, 20.0, sample.Timestamp, 0.001)
}

func TestExplicitRequestsBypassDispatch(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)
	h.start(t)
	h.sink.waitSuggestion(t)

	h.session.RequestObjectionHelp("too expensive")
	suggestion := h.sink.waitSuggestion(t)
	assert.Equal(t, model.SuggestionObjectionHandler, suggestion.Kind)

	h.session.RequestClosingHelp()
	suggestion = h.sink.waitSuggestion(t)
	assert.Equal(t, model.SuggestionClosing, suggestion.Kind)
}

func TestDiscoveryQuestionsEmitEach(t *testing.T) {
	chat := defaultChat()
	chat.suggestionText = `{"questions":[
		{"question":"What is your current workflow?","purpose":"Pain","priority":1},
		{"question":"Who owns this decision?","purpose":"Qualify","priority":2}
	]}`

	h := newHarness(t, chat, nil)
	h.start(t)

	// The opening suggestion uses the same fallback reply, so skip it first.
	h.sink.waitSuggestion(t)

	h.session.RequestDiscoveryQuestions()
	first := h.sink.waitSuggestion(t)
	second := h.sink.waitSuggestion(t)
	assert.Equal(t, model.SuggestionQuestion, first.Kind)
	assert.Equal(t, model.SuggestionQuestion, second.Kind)
	assert.NotEqual(t, first.Content, second.Content)
}

func TestSuggestionsPersistedBestEffort(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, defaultChat(), store)
	h.start(t)
	h.sink.waitSuggestion(t)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.suggestions) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSuggestionFeedbackPersisted(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, defaultChat(), store)
	h.start(t)
	h.sink.waitSuggestion(t)

	h.session.RecordSuggestionFeedback("sug-1", true, false)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.feedback["sug-1"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEndProducesResultAndIsIdempotent(t *testing.T) {
	store := newFakeStore()
	h := newHarness(t, defaultChat(), store)
	stream := h.start(t)
	h.sink.waitSuggestion(t)

	stream.InjectSegment(model.TranscriptSegment{
		Text: "hello", Speaker: model.SpeakerAgent, StartTime: 0, EndTime: 2, IsFinal: true,
	})
	require.Eventually(t, func() bool {
		return len(h.sink.transcriptTexts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	first := h.session.End("client_request")
	assert.Equal(t, "call-1", first.CallID)
	assert.Equal(t, "Productive call.", first.Summary.ExecutiveSummary)
	assert.Equal(t, 65, first.Summary.DealProbability)
	assert.Equal(t, 1, first.Analytics.SuggestionCount)
	assert.Empty(t, first.StorageWarning)
	assert.GreaterOrEqual(t, first.DurationSeconds, 0)
	assert.LessOrEqual(t, first.DurationSeconds, 2)

	second := h.session.End("client_request")
	assert.Equal(t, first, second)

	store.mu.Lock()
	assert.Equal(t, 1, store.finalized)
	store.mu.Unlock()

	h.sink.mu.Lock()
	assert.Len(t, h.sink.ended, 1)
	h.sink.mu.Unlock()
}

func TestEndWithoutStartStillSummarizes(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)

	result := h.session.End("connection_lost")
	assert.Equal(t, 0, result.DurationSeconds)
	assert.NotEmpty(t, result.Summary.ExecutiveSummary)
	assert.Zero(t, result.Analytics.TalkRatio.Agent)
}

func TestEndReportsStorageWarning(t *testing.T) {
	store := newFakeStore()
	store.finalizeErr = stderrors.New("disk full")

	h := newHarness(t, defaultChat(), store)
	h.start(t)
	h.sink.waitSuggestion(t)

	result := h.session.End("client_request")
	assert.Contains(t, result.StorageWarning, "disk full")
	// The in-memory result is still authoritative.
	assert.Equal(t, "Productive call.", result.Summary.ExecutiveSummary)
}

func TestAudioAfterEndIsIgnored(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)
	stream := h.start(t)
	h.sink.waitSuggestion(t)
	h.session.GrantConsent()

	h.session.End("client_request")
	h.session.ProcessAudio([]byte{0x01})

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, stream.ReceivedAudio())
}

func TestEndStopsTranscriptionStream(t *testing.T) {
	h := newHarness(t, defaultChat(), nil)
	stream := h.start(t)
	h.sink.waitSuggestion(t)

	h.session.End("client_request")
	assert.Error(t, stream.SendAudio([]byte{0x01}))
}

func TestConcurrentEndReturnsForAllCallers(t *testing.T) {
	for i := 0; i < 30; i++ {
		h := newHarness(t, defaultChat(), nil)
		h.start(t)

		results := make(chan model.CallResult, 2)
		for c := 0; c < 2; c++ {
			go func() { results <- h.session.End("hangup") }()
		}

		states := make(chan model.CallState, 1)
		go func() { states <- h.session.State() }()

		for c := 0; c < 2; c++ {
			select {
			case result := <-results:
				assert.Equal(t, "call-1", result.CallID)
			case <-time.After(5 * time.Second):
				t.Fatalf("iteration %d: concurrent End caller never returned", i)
			}
		}

		select {
		case <-states:
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: State blocked while the session ended", i)
		}

		assert.Equal(t, model.CallEnded, h.session.State())
	}
}
