package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salescoach-server/pkg/model"
	"salescoach-server/pkg/search"
)

// fakeChat returns the first canned reply whose trigger appears in the user
// prompt, or fails with err when set.
type fakeChat struct {
	replies  map[string]string
	fallback string
	err      error
	requests []ChatRequest
}

func (f *fakeChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	for trigger, reply := range f.replies {
		if strings.Contains(req.User, trigger) {
			return reply, nil
		}
	}
	return f.fallback, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func newTestEngine(chat ChatClient, store search.Store) *Engine {
	return NewEngine(testLogger(), chat, store, EngineOptions{MaxDiscoveryResults: 3})
}

func TestAnalyzeUtteranceParsesResponse(t *testing.T) {
	chat := &fakeChat{fallback: `{"intent":"objection","sentiment":"negative","topics":["pricing"],"is_buying_signal":false,"urgency":"high","needs_response":true,"suggested_stage":"objection"}`}
	engine := newTestEngine(chat, nil)

	analysis, err := engine.AnalyzeUtterance(context.Background(), "that is way too expensive")
	require.NoError(t, err)
	assert.Equal(t, model.IntentObjection, analysis.Intent)
	assert.Equal(t, "negative", analysis.Sentiment)
	assert.Equal(t, []string{"pricing"}, analysis.Topics)
	assert.Equal(t, model.StageObjection, analysis.SuggestedStage)
}

func TestAnalyzeUtteranceFallbackOnGarbage(t *testing.T) {
	chat := &fakeChat{fallback: "not json at all"}
	engine := newTestEngine(chat, nil)

	analysis, err := engine.AnalyzeUtterance(context.Background(), "hmm")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultAnalysis(), analysis)
}

func TestAnalyzeUtteranceFallbackOnTransportError(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection refused")}
	engine := newTestEngine(chat, nil)

	analysis, err := engine.AnalyzeUtterance(context.Background(), "hmm")
	assert.Error(t, err)
	assert.Equal(t, model.DefaultAnalysis(), analysis)
}

func TestSuggestRoutesByIntent(t *testing.T) {
	cases := []struct {
		name     string
		analysis model.UtteranceAnalysis
		stage    model.Stage
		want     model.SuggestionKind
	}{
		{"objection", model.UtteranceAnalysis{Intent: model.IntentObjection}, model.StageDiscovery, model.SuggestionObjectionHandler},
		{"question", model.UtteranceAnalysis{Intent: model.IntentQuestion}, model.StageDiscovery, model.SuggestionResponse},
		{"interest", model.UtteranceAnalysis{Intent: model.IntentInterest}, model.StagePitch, model.SuggestionNextStep},
		{"buying signal", model.UtteranceAnalysis{Intent: model.IntentStatement, IsBuyingSignal: true}, model.StagePitch, model.SuggestionNextStep},
		{"interest while closing", model.UtteranceAnalysis{Intent: model.IntentInterest}, model.StageClosing, model.SuggestionClosing},
		{"rejection", model.UtteranceAnalysis{Intent: model.IntentRejection}, model.StageDiscovery, model.SuggestionResponse},
		{"statement in discovery", model.UtteranceAnalysis{Intent: model.IntentStatement}, model.StageDiscovery, model.SuggestionQuestion},
		{"statement in pitch", model.UtteranceAnalysis{Intent: model.IntentStatement}, model.StagePitch, model.SuggestionResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chat := &fakeChat{fallback: "sounds good"}
			engine := newTestEngine(chat, nil)
			conv := model.NewConversationContext("", "", "")
			conv.Stage = tc.stage

			suggestion := engine.Suggest(context.Background(), conv, "something", tc.analysis, "transcript")
			assert.Equal(t, tc.want, suggestion.Kind)
			assert.NotEmpty(t, suggestion.ID)
			assert.InDelta(t, 0.85, suggestion.Confidence, 0.001)
		})
	}
}

func TestSuggestionFallbackOnChatFailure(t *testing.T) {
	chat := &fakeChat{err: errors.New("timeout")}
	engine := newTestEngine(chat, nil)

	suggestion := engine.HandleObjection(context.Background(), "too expensive", "")
	assert.Equal(t, model.SuggestionResponse, suggestion.Kind)
	assert.Equal(t, "Continue listening and ask clarifying questions.", suggestion.Content)
	assert.InDelta(t, 0.3, suggestion.Confidence, 0.001)
}

func TestUpdateContext(t *testing.T) {
	conv := model.NewConversationContext("Dana", "Acme", "qualify")

	UpdateContext(conv, model.UtteranceAnalysis{
		Intent:         model.IntentObjection,
		Sentiment:      "negative",
		Topics:         []string{"pricing", "contract length"},
		SuggestedStage: model.StageObjection,
	})
	assert.Equal(t, "negative", conv.Sentiment)
	assert.Equal(t, model.StageObjection, conv.Stage)
	assert.Equal(t, []string{"pricing", "contract length"}, conv.ObjectionsRaised)

	// Non-objection intents leave the objection list alone.
	UpdateContext(conv, model.UtteranceAnalysis{Intent: model.IntentInterest, Sentiment: "positive", SuggestedStage: model.StageClosing})
	assert.Len(t, conv.ObjectionsRaised, 2)
	assert.Equal(t, model.StageClosing, conv.Stage)
}

func TestProductRecommendationWithoutMatches(t *testing.T) {
	chat := &fakeChat{fallback: "pitch"}
	engine := newTestEngine(chat, search.NewMemoryStore())

	suggestion := engine.ProductRecommendation(context.Background(), "quantum widgets", nil)
	assert.Equal(t, model.SuggestionQuestion, suggestion.Kind)
	assert.Equal(t, "Ask more questions to better understand their specific needs.", suggestion.Content)
	assert.InDelta(t, 0.5, suggestion.Confidence, 0.001)
	// No completion should have been attempted.
	assert.Empty(t, chat.requests)
}

func TestProductRecommendationWithMatches(t *testing.T) {
	store := search.NewMemoryStore()
	require.NoError(t, store.Index(context.Background(), "products", search.Document{
		ID:      "p1",
		Content: "reporting dashboard with custom alerts",
	}))

	chat := &fakeChat{fallback: "Our reporting dashboard fits that need."}
	engine := newTestEngine(chat, store)

	suggestion := engine.ProductRecommendation(context.Background(), "reporting dashboard", []string{"manual spreadsheets"})
	assert.Equal(t, model.SuggestionProductPitch, suggestion.Kind)
	assert.Equal(t, "Our reporting dashboard fits that need.", suggestion.Content)

	require.Len(t, chat.requests, 1)
	assert.Contains(t, chat.requests[0].User, "reporting dashboard with custom alerts")
}

func TestDiscoveryQuestions(t *testing.T) {
	chat := &fakeChat{fallback: `{"questions":[
		{"question":"What does your current workflow look like?","purpose":"Uncover pain","priority":1},
		{"question":"Who else is involved in this decision?","purpose":"Qualify","priority":2},
		{"question":"What would success look like?","purpose":"Qualify","priority":3},
		{"question":"Extra question beyond the limit?","purpose":"Extra","priority":4}
	]}`}
	engine := newTestEngine(chat, nil)

	questions := engine.DiscoveryQuestions(context.Background(), "early stage call")
	require.Len(t, questions, 3)
	assert.Equal(t, "What does your current workflow look like?", questions[0].Content)
	assert.Equal(t, model.SuggestionQuestion, questions[0].Kind)
	assert.Equal(t, 2, questions[1].Priority)
}

func TestDiscoveryQuestionsFallback(t *testing.T) {
	chat := &fakeChat{fallback: "not json"}
	engine := newTestEngine(chat, nil)

	questions := engine.DiscoveryQuestions(context.Background(), "early stage call")
	require.Len(t, questions, 1)
	assert.Equal(t, "What challenges are you currently facing in this area?", questions[0].Content)
	assert.InDelta(t, 0.6, questions[0].Confidence, 0.001)
}

func TestSummarizeCallParsesAndNormalizes(t *testing.T) {
	chat := &fakeChat{fallback: `{"executive_summary":"Good call.","overall_sentiment":"positive","recommended_follow_up":"Send proposal","deal_probability":70,"suggested_email_subject":"Proposal"}`}
	engine := newTestEngine(chat, nil)

	summary := engine.SummarizeCall(context.Background(), "agent: hi\ncounterparty: hi", 120)
	assert.Equal(t, "Good call.", summary.ExecutiveSummary)
	assert.Equal(t, 70, summary.DealProbability)
	// Missing arrays come back empty, not nil.
	assert.NotNil(t, summary.KeyPoints)
	assert.NotNil(t, summary.ObjectionsRaised)
}

func TestSummarizeCallFallback(t *testing.T) {
	chat := &fakeChat{err: errors.New("boom")}
	engine := newTestEngine(chat, nil)

	summary := engine.SummarizeCall(context.Background(), "transcript", 60)
	assert.Equal(t, model.DefaultSummary(), summary)
}

func TestOpeningSuggestionUsesContext(t *testing.T) {
	chat := &fakeChat{fallback: "Hi Dana, thanks for taking the time."}
	engine := newTestEngine(chat, nil)

	conv := model.NewConversationContext("Dana", "Acme", "book a demo")
	suggestion := engine.OpeningSuggestion(context.Background(), conv, "met at a conference", []string{"Analytics Suite"})
	assert.Equal(t, model.SuggestionRapport, suggestion.Kind)

	require.Len(t, chat.requests, 1)
	assert.Contains(t, chat.requests[0].User, "Dana")
	assert.Contains(t, chat.requests[0].User, "Acme")
	assert.Contains(t, chat.requests[0].User, "Analytics Suite")
}

func TestFollowUpEmail(t *testing.T) {
	chat := &fakeChat{fallback: "Hi Dana,\n\nThanks for your time today."}
	engine := newTestEngine(chat, nil)

	email, err := engine.FollowUpEmail(context.Background(), model.DefaultSummary(), "Dana", "Sam")
	require.NoError(t, err)
	assert.Contains(t, email, "Thanks for your time")
}
