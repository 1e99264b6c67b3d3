package model

import (
	"time"
)

// Speaker identifies which side of the call an utterance belongs to.
type Speaker string

const (
	SpeakerAgent        Speaker = "agent"
	SpeakerCounterparty Speaker = "counterparty"
	SpeakerUnknown      Speaker = "unknown"
)

// CallState is the lifecycle state of a call session.
type CallState int

const (
	CallCreated CallState = iota
	CallActive
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallCreated:
		return "created"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	}
	return "unknown"
}

// ConsentState tracks whether the counterparty has consented to recording.
type ConsentState string

const (
	ConsentPending ConsentState = "pending"
	ConsentGranted ConsentState = "granted"
	ConsentDenied  ConsentState = "denied"
	ConsentRevoked ConsentState = "revoked"
)

// TranscriptSegment is one finalized or interim utterance. Immutable once created.
type TranscriptSegment struct {
	Text       string  `json:"text"`
	Speaker    Speaker `json:"speaker"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
}

// Duration returns the segment length in seconds.
func (s TranscriptSegment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// SuggestionKind enumerates the coaching suggestion categories.
type SuggestionKind string

const (
	SuggestionResponse         SuggestionKind = "response"
	SuggestionQuestion         SuggestionKind = "question"
	SuggestionObjectionHandler SuggestionKind = "objection_handler"
	SuggestionProductPitch     SuggestionKind = "product_pitch"
	SuggestionClosing          SuggestionKind = "closing"
	SuggestionRapport          SuggestionKind = "rapport"
	SuggestionClarification    SuggestionKind = "clarification"
	SuggestionNextStep         SuggestionKind = "next_step"
)

// Suggestion is an AI-generated coaching suggestion. Immutable after creation.
type Suggestion struct {
	ID            string         `json:"id"`
	Kind          SuggestionKind `json:"type"`
	Content       string         `json:"content"`
	Context       string         `json:"context"`
	Confidence    float64        `json:"confidence"`
	Priority      int            `json:"priority"`
	Alternative   string         `json:"alternative,omitempty"`
	OffsetSeconds float64        `json:"offset_seconds"`
}

// Stage is the conversation stage the call is currently in.
type Stage string

const (
	StageOpening   Stage = "opening"
	StageDiscovery Stage = "discovery"
	StagePitch     Stage = "pitch"
	StageObjection Stage = "objection"
	StageClosing   Stage = "closing"
)

// ConversationContext carries accumulated knowledge about the conversation.
// Owned by the session and mutated only from its event loop.
type ConversationContext struct {
	ProspectName      string   `json:"prospect_name,omitempty"`
	ProspectCompany   string   `json:"prospect_company,omitempty"`
	CallObjective     string   `json:"call_objective,omitempty"`
	PainPoints        []string `json:"pain_points"`
	ProductsDiscussed []string `json:"products_discussed"`
	ObjectionsRaised  []string `json:"objections_raised"`
	Stage             Stage    `json:"current_stage"`
	Sentiment         string   `json:"sentiment"`
}

// NewConversationContext returns a context at the opening stage with neutral sentiment.
func NewConversationContext(prospectName, prospectCompany, objective string) *ConversationContext {
	return &ConversationContext{
		ProspectName:      prospectName,
		ProspectCompany:   prospectCompany,
		CallObjective:     objective,
		PainPoints:        []string{},
		ProductsDiscussed: []string{},
		ObjectionsRaised:  []string{},
		Stage:             StageOpening,
		Sentiment:         "neutral",
	}
}

// Intent classifies a counterparty utterance.
type Intent string

const (
	IntentQuestion  Intent = "question"
	IntentObjection Intent = "objection"
	IntentInterest  Intent = "interest"
	IntentRejection Intent = "rejection"
	IntentStatement Intent = "statement"
)

// UtteranceAnalysis is the reasoning service's classification of one utterance.
type UtteranceAnalysis struct {
	Intent         Intent   `json:"intent"`
	Sentiment      string   `json:"sentiment"`
	Topics         []string `json:"topics"`
	IsBuyingSignal bool     `json:"is_buying_signal"`
	Urgency        string   `json:"urgency"`
	NeedsResponse  bool     `json:"needs_response"`
	SuggestedStage Stage    `json:"suggested_stage"`
}

// DefaultAnalysis is the documented fallback used when the reasoning service
// returns unparseable output. The call proceeds instead of failing.
func DefaultAnalysis() UtteranceAnalysis {
	return UtteranceAnalysis{
		Intent:         IntentStatement,
		Sentiment:      "neutral",
		Topics:         []string{},
		IsBuyingSignal: false,
		Urgency:        "medium",
		NeedsResponse:  true,
		SuggestedStage: StageDiscovery,
	}
}

// SentimentSample is one sentiment measurement of a counterparty utterance.
type SentimentSample struct {
	Sentiment       string   `json:"sentiment"`
	Score           float64  `json:"score"`
	Emotions        []string `json:"emotions"`
	EngagementLevel string   `json:"engagement_level"`
	Timestamp       float64  `json:"timestamp"`
}

// CallSummary is the structured end-of-call summary from the reasoning service.
type CallSummary struct {
	ExecutiveSummary      string   `json:"executive_summary"`
	KeyPoints             []string `json:"key_points"`
	ActionItems           []string `json:"action_items"`
	ProspectInterests     []string `json:"prospect_interests"`
	ObjectionsRaised      []string `json:"objections_raised"`
	ProductsDiscussed     []string `json:"products_discussed"`
	OverallSentiment      string   `json:"overall_sentiment"`
	RecommendedFollowUp   string   `json:"recommended_follow_up"`
	DealProbability       int      `json:"deal_probability"`
	SuggestedEmailSubject string   `json:"suggested_email_subject"`
}

// DefaultSummary is the documented fallback when summarization output is unparseable.
func DefaultSummary() CallSummary {
	return CallSummary{
		ExecutiveSummary:      "Call summary unavailable",
		KeyPoints:             []string{},
		ActionItems:           []string{},
		ProspectInterests:     []string{},
		ObjectionsRaised:      []string{},
		ProductsDiscussed:     []string{},
		OverallSentiment:      "neutral",
		RecommendedFollowUp:   "Review call recording",
		DealProbability:       50,
		SuggestedEmailSubject: "Following up on our conversation",
	}
}

// TalkRatio is the per-role share of total speaking time.
type TalkRatio struct {
	Agent               float64 `json:"agent"`
	Counterparty        float64 `json:"counterparty"`
	AgentSeconds        float64 `json:"agent_seconds"`
	CounterpartySeconds float64 `json:"counterparty_seconds"`
}

// CallAnalytics is the analytics bundle computed once at call end.
type CallAnalytics struct {
	TalkRatio         TalkRatio         `json:"talk_ratio"`
	AgentWPM          float64           `json:"agent_words_per_minute"`
	CounterpartyWPM   float64           `json:"counterparty_words_per_minute"`
	FillerWordCounts  map[string]int    `json:"filler_word_counts"`
	QuestionCount     int               `json:"question_count"`
	SentimentTimeline []SentimentSample `json:"sentiment_timeline"`
	AverageSentiment  float64           `json:"average_sentiment"`
	SuggestionCount   int               `json:"suggestions_count"`
}

// CallResult is the composed end-of-call record returned to the client.
// The in-memory result is authoritative even if the durable write fails.
type CallResult struct {
	CallID          string        `json:"call_id"`
	DurationSeconds int           `json:"duration_seconds"`
	Summary         CallSummary   `json:"summary"`
	Analytics       CallAnalytics `json:"analytics"`
	StorageWarning  string        `json:"storage_warning,omitempty"`
	EndedAt         time.Time     `json:"ended_at"`
}

// KnowledgeHit is one ranked result from the similarity-search capability.
type KnowledgeHit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}
