package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/model"
	"salescoach-server/pkg/search"
)

const coachSystemPrompt = `You are an expert AI sales coach providing real-time guidance during a sales call.
Your role is to help the salesperson succeed by providing:
1. Smart responses to prospect questions
2. Effective objection handling techniques
3. Product recommendations based on prospect needs
4. Questions to ask to uncover needs
5. Closing techniques when appropriate

Guidelines:
- Keep suggestions concise (1-3 sentences max)
- Be natural and conversational
- Focus on building rapport and trust
- Listen for buying signals
- Never be pushy or aggressive
- Respect the prospect's time
- Provide alternatives when appropriate

Current call context will be provided. Generate helpful, actionable suggestions.`

const analyzerSystemPrompt = "You are a sales conversation analyzer. Return only valid JSON."

// EngineOptions tunes the coaching engine.
type EngineOptions struct {
	ProductIndex        string
	ObjectionIndex      string
	MaxDiscoveryResults int
}

// Engine generates coaching suggestions, analyses, and summaries. It holds
// no per-call state; callers pass the conversation context in, so one engine
// serves every concurrent call.
type Engine struct {
	logger *logrus.Logger
	chat   ChatClient
	store  search.Store
	opts   EngineOptions
}

// NewEngine creates a coaching engine. store may be nil, in which case
// suggestions are generated without knowledge retrieval.
func NewEngine(logger *logrus.Logger, chat ChatClient, store search.Store, opts EngineOptions) *Engine {
	if opts.MaxDiscoveryResults <= 0 {
		opts.MaxDiscoveryResults = 3
	}
	if opts.ProductIndex == "" {
		opts.ProductIndex = "products"
	}
	if opts.ObjectionIndex == "" {
		opts.ObjectionIndex = "objections"
	}
	return &Engine{
		logger: logger,
		chat:   chat,
		store:  store,
		opts:   opts,
	}
}

// OpeningSuggestion produces the rapport-building opener for a new call.
func (e *Engine) OpeningSuggestion(ctx context.Context, conv *model.ConversationContext, prospectContext string, productFocus []string) model.Suggestion {
	prompt := fmt.Sprintf(`New sales call starting.

Prospect: %s
Company: %s
Additional Context: %s
Call Objective: %s
Products to Focus On: %s

Generate a warm, professional opening statement for the salesperson to use.
The opening should:
1. Be personalized if prospect info is available
2. Briefly state the purpose
3. Ask permission to continue`,
		orDefault(conv.ProspectName, "Unknown"),
		orDefault(conv.ProspectCompany, "Unknown"),
		orDefault(prospectContext, "None provided"),
		orDefault(conv.CallObjective, "Introduce products and qualify prospect"),
		orDefault(strings.Join(productFocus, ", "), "Any relevant products"))

	return e.generate(ctx, prompt, model.SuggestionRapport)
}

// AnalyzeUtterance classifies a counterparty utterance. It never fails the
// call: unreachable or unparseable reasoning output yields the documented
// fallback analysis, with the transport error returned for logging.
func (e *Engine) AnalyzeUtterance(ctx context.Context, text string) (model.UtteranceAnalysis, error) {
	prompt := fmt.Sprintf(`Analyze this prospect statement and return a JSON object:

Statement: "%s"

Return:
{
    "intent": "question" | "objection" | "statement" | "interest" | "rejection",
    "sentiment": "positive" | "neutral" | "negative",
    "topics": ["topic1", "topic2"],
    "is_buying_signal": true | false,
    "urgency": "low" | "medium" | "high",
    "needs_response": true | false,
    "suggested_stage": "discovery" | "pitch" | "objection" | "closing"
}`, text)

	content, err := e.chat.Complete(ctx, ChatRequest{
		System:      analyzerSystemPrompt,
		User:        prompt,
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		return model.DefaultAnalysis(), err
	}

	var analysis model.UtteranceAnalysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		e.logger.WithError(err).Debug("Unparseable utterance analysis, using fallback")
		return model.DefaultAnalysis(), nil
	}
	if analysis.Topics == nil {
		analysis.Topics = []string{}
	}
	return analysis, nil
}

// UpdateContext applies an utterance analysis to the conversation context.
// Pure state transition, no I/O.
func UpdateContext(conv *model.ConversationContext, analysis model.UtteranceAnalysis) {
	if analysis.Sentiment != "" {
		conv.Sentiment = analysis.Sentiment
	}
	if analysis.SuggestedStage != "" {
		conv.Stage = analysis.SuggestedStage
	}
	if analysis.Intent == model.IntentObjection {
		conv.ObjectionsRaised = append(conv.ObjectionsRaised, analysis.Topics...)
	}
}

// Suggest routes an analyzed counterparty utterance to the matching
// suggestion strategy.
func (e *Engine) Suggest(ctx context.Context, conv *model.ConversationContext, text string, analysis model.UtteranceAnalysis, fullTranscript string) model.Suggestion {
	switch {
	case analysis.Intent == model.IntentObjection:
		return e.HandleObjection(ctx, text, "")
	case analysis.Intent == model.IntentQuestion:
		return e.AnswerQuestion(ctx, text, fullTranscript)
	case analysis.Intent == model.IntentInterest || analysis.IsBuyingSignal:
		return e.capitalizeOnInterest(ctx, conv, text, fullTranscript)
	case analysis.Intent == model.IntentRejection:
		return e.handleRejection(ctx, text)
	default:
		return e.continuation(ctx, conv, text, fullTranscript)
	}
}

// HandleObjection generates a rebuttal, enriched with similar objections
// from the knowledge store when available.
func (e *Engine) HandleObjection(ctx context.Context, objection string, productContext string) model.Suggestion {
	handlers := e.knowledge(ctx, e.opts.ObjectionIndex, objection, 2, 300)

	prompt := fmt.Sprintf(`The prospect raised an objection. Generate an effective response.

Objection: "%s"
Product Context: %s

Similar objections and proven responses:
%s

Generate a response that:
1. Acknowledges their concern (don't dismiss it)
2. Reframes the objection positively
3. Provides specific value or evidence
4. Ends with a question or next step

Keep it natural and conversational.`,
		objection,
		orDefault(productContext, "General sales conversation"),
		orDefault(handlers, "No specific handlers found"))

	return e.generate(ctx, prompt, model.SuggestionObjectionHandler)
}

// AnswerQuestion generates an answer to a counterparty question, enriched
// with product knowledge when available.
func (e *Engine) AnswerQuestion(ctx context.Context, question string, fullTranscript string) model.Suggestion {
	products := e.knowledge(ctx, e.opts.ProductIndex, question, 2, 400)

	prompt := fmt.Sprintf(`The prospect asked a question. Generate a helpful answer.

Question: "%s"

Conversation so far:
%s

Relevant product information:
%s

Generate a clear, confident answer that:
1. Directly addresses their question
2. Uses specific details when available
3. Ties back to value/benefits
4. Optionally asks a follow-up question`,
		question,
		tail(fullTranscript, 2000),
		orDefault(products, "No specific product info found"))

	return e.generate(ctx, prompt, model.SuggestionResponse)
}

// ClosingSuggestion generates a closing attempt from the conversation so far.
func (e *Engine) ClosingSuggestion(ctx context.Context, conv *model.ConversationContext, conversationSummary string) model.Suggestion {
	prompt := fmt.Sprintf(`The conversation is at a point where closing might be appropriate.

Conversation Summary:
%s

Products Discussed: %s
Objections Handled: %s

Generate a natural closing attempt that:
1. Summarizes key benefits discussed
2. Addresses any lingering concerns
3. Proposes a clear next step
4. Includes a soft close option`,
		conversationSummary,
		orDefault(strings.Join(conv.ProductsDiscussed, ", "), "None specifically"),
		orDefault(strings.Join(conv.ObjectionsRaised, ", "), "None"))

	return e.generate(ctx, prompt, model.SuggestionClosing)
}

// ProductRecommendation matches prospect needs to the product knowledge
// index and pitches the best matches. With no matching products it falls
// back to a discovery prompt at reduced confidence.
func (e *Engine) ProductRecommendation(ctx context.Context, needs string, painPoints []string) model.Suggestion {
	query := needs
	if len(painPoints) > 0 {
		query += " " + strings.Join(painPoints, " ")
	}
	products := e.knowledge(ctx, e.opts.ProductIndex, query, 2, 500)

	if products == "" {
		return model.Suggestion{
			ID:         uuid.NewString(),
			Kind:       model.SuggestionQuestion,
			Content:    "Ask more questions to better understand their specific needs.",
			Context:    "No matching products found",
			Confidence: 0.5,
			Priority:   1,
		}
	}

	prompt := fmt.Sprintf(`Based on the prospect's needs and our matching products, generate a product recommendation.

Prospect Needs: %s
Pain Points: %s

Best Matching Products:
%s

Generate a brief, compelling pitch that:
1. Acknowledges their specific needs
2. Introduces the most relevant product
3. Highlights 2-3 key benefits that address their pain points`,
		needs, strings.Join(painPoints, ", "), products)

	return e.generate(ctx, prompt, model.SuggestionProductPitch)
}

// DiscoveryQuestions generates up to MaxDiscoveryResults open-ended
// questions. Unparseable output degrades to a single generic question.
func (e *Engine) DiscoveryQuestions(ctx context.Context, currentKnowledge string) []model.Suggestion {
	prompt := fmt.Sprintf(`Generate %d discovery questions to better understand the prospect's needs.

What we know so far:
%s

Generate questions that:
1. Are open-ended (not yes/no)
2. Uncover pain points
3. Help qualify the prospect
4. Build rapport

Return as a JSON object with format:
{"questions": [{"question": "...", "purpose": "...", "priority": 1}, ...]}`,
		e.opts.MaxDiscoveryResults, currentKnowledge)

	fallback := []model.Suggestion{{
		ID:         uuid.NewString(),
		Kind:       model.SuggestionQuestion,
		Content:    "What challenges are you currently facing in this area?",
		Context:    "General discovery",
		Confidence: 0.6,
		Priority:   1,
	}}

	content, err := e.chat.Complete(ctx, ChatRequest{
		System:      coachSystemPrompt,
		User:        prompt,
		Temperature: 0.7,
		JSONMode:    true,
	})
	if err != nil {
		e.logger.WithError(err).Warn("Failed to generate discovery questions")
		return fallback
	}

	var parsed struct {
		Questions []struct {
			Question string `json:"question"`
			Purpose  string `json:"purpose"`
			Priority int    `json:"priority"`
		} `json:"questions"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || len(parsed.Questions) == 0 {
		return fallback
	}

	limit := e.opts.MaxDiscoveryResults
	if len(parsed.Questions) < limit {
		limit = len(parsed.Questions)
	}

	suggestions := make([]model.Suggestion, 0, limit)
	for i, q := range parsed.Questions[:limit] {
		priority := q.Priority
		if priority == 0 {
			priority = i + 1
		}
		suggestions = append(suggestions, model.Suggestion{
			ID:         uuid.NewString(),
			Kind:       model.SuggestionQuestion,
			Content:    q.Question,
			Context:    orDefault(q.Purpose, "Discovery"),
			Confidence: 0.8,
			Priority:   priority,
		})
	}
	return suggestions
}

// SummarizeCall produces the structured end-of-call summary. Total: any
// failure yields the documented fallback summary.
func (e *Engine) SummarizeCall(ctx context.Context, fullTranscript string, durationSeconds int) model.CallSummary {
	prompt := fmt.Sprintf(`Generate a comprehensive summary of this sales call.

Call Duration: %d seconds

Full Transcript:
%s

Return a JSON object with:
{
    "executive_summary": "2-3 sentence overview",
    "key_points": ["point1", "point2", ...],
    "action_items": ["action1", "action2", ...],
    "prospect_interests": ["interest1", "interest2", ...],
    "objections_raised": ["objection1", "objection2", ...],
    "products_discussed": ["product1", "product2", ...],
    "overall_sentiment": "positive" | "neutral" | "negative",
    "recommended_follow_up": "description of recommended next steps",
    "deal_probability": 0-100,
    "suggested_email_subject": "subject line for follow-up"
}`, durationSeconds, fullTranscript)

	content, err := e.chat.Complete(ctx, ChatRequest{
		System:      "You are a sales call analyst. Return only valid JSON.",
		User:        prompt,
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		e.logger.WithError(err).Warn("Call summarization failed, using fallback summary")
		return model.DefaultSummary()
	}

	var summary model.CallSummary
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		e.logger.WithError(err).Debug("Unparseable call summary, using fallback")
		return model.DefaultSummary()
	}
	normalizeSummary(&summary)
	return summary
}

// FollowUpEmail drafts a follow-up email from a call summary.
func (e *Engine) FollowUpEmail(ctx context.Context, summary model.CallSummary, prospectName, salespersonName string) (string, error) {
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(`Generate a professional follow-up email after a sales call.

Prospect Name: %s
Salesperson Name: %s

Call Summary:
%s

The email should:
1. Thank them for their time
2. Recap key points discussed
3. Address any outstanding questions
4. Include clear next steps
5. Be professional but warm
6. Be concise (under 200 words)`,
		prospectName, salespersonName, summaryJSON)

	return e.chat.Complete(ctx, ChatRequest{
		System:      "You are a professional sales email writer.",
		User:        prompt,
		Temperature: 0.7,
		MaxTokens:   500,
	})
}

func (e *Engine) capitalizeOnInterest(ctx context.Context, conv *model.ConversationContext, text string, fullTranscript string) model.Suggestion {
	if conv.Stage == model.StageClosing {
		return e.ClosingSuggestion(ctx, conv, tail(fullTranscript, 2000))
	}

	prompt := fmt.Sprintf(`The prospect showed interest. Generate a response to advance the sale.

What they said: "%s"

Recent conversation:
%s

Generate a response that:
1. Acknowledges their interest positively
2. Reinforces the value
3. Moves toward next steps or closing`,
		text, tail(fullTranscript, 1500))

	return e.generate(ctx, prompt, model.SuggestionNextStep)
}

func (e *Engine) handleRejection(ctx context.Context, text string) model.Suggestion {
	prompt := fmt.Sprintf(`The prospect seems to be declining or rejecting. Generate a graceful response.

What they said: "%s"

Generate a response that:
1. Respects their decision
2. Leaves the door open for future
3. Asks for feedback if appropriate
4. Maintains professionalism`, text)

	return e.generate(ctx, prompt, model.SuggestionResponse)
}

func (e *Engine) continuation(ctx context.Context, conv *model.ConversationContext, text string, fullTranscript string) model.Suggestion {
	prompt := fmt.Sprintf(`Continue the sales conversation naturally.

Prospect said: "%s"

Recent conversation:
%s

Current stage: %s

Generate an appropriate response or question to:
1. Keep the conversation flowing
2. Build rapport
3. Advance toward the call objective`,
		text, tail(fullTranscript, 1500), conv.Stage)

	kind := model.SuggestionResponse
	if conv.Stage == model.StageDiscovery {
		kind = model.SuggestionQuestion
	}
	return e.generate(ctx, prompt, kind)
}

// generate runs one completion and wraps the content as a suggestion.
// Failures degrade to a low-confidence listening prompt rather than
// surfacing an error to the call.
func (e *Engine) generate(ctx context.Context, prompt string, kind model.SuggestionKind) model.Suggestion {
	content, err := e.chat.Complete(ctx, ChatRequest{
		System:      coachSystemPrompt,
		User:        prompt,
		Temperature: 0.7,
	})
	if err != nil {
		e.logger.WithError(err).Warn("Suggestion generation failed")
		return model.Suggestion{
			ID:         uuid.NewString(),
			Kind:       model.SuggestionResponse,
			Content:    "Continue listening and ask clarifying questions.",
			Context:    "Error in generation",
			Confidence: 0.3,
			Priority:   1,
		}
	}

	return model.Suggestion{
		ID:         uuid.NewString(),
		Kind:       kind,
		Content:    content,
		Context:    truncate(prompt, 200),
		Confidence: 0.85,
		Priority:   1,
	}
}

// knowledge runs a best-effort store lookup and formats the top hits for
// prompt inclusion. Returns "" when the store is absent or the lookup fails.
func (e *Engine) knowledge(ctx context.Context, index, query string, limit, maxLen int) string {
	if e.store == nil || strings.TrimSpace(query) == "" {
		return ""
	}

	hits, err := e.store.Search(ctx, index, query, limit)
	if err != nil {
		e.logger.WithError(err).WithField("index", index).Debug("Knowledge lookup failed")
		return ""
	}
	if len(hits) == 0 {
		return ""
	}

	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, truncate(h.Content, maxLen))
	}
	formatted, err := json.MarshalIndent(parts, "", "  ")
	if err != nil {
		return ""
	}
	return string(formatted)
}

func normalizeSummary(s *model.CallSummary) {
	if s.KeyPoints == nil {
		s.KeyPoints = []string{}
	}
	if s.ActionItems == nil {
		s.ActionItems = []string{}
	}
	if s.ProspectInterests == nil {
		s.ProspectInterests = []string{}
	}
	if s.ObjectionsRaised == nil {
		s.ObjectionsRaised = []string{}
	}
	if s.ProductsDiscussed == nil {
		s.ProductsDiscussed = []string{}
	}
	if s.OverallSentiment == "" {
		s.OverallSentiment = "neutral"
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
