package database

import (
	"time"
)

// User represents a salesperson account
type User struct {
	ID                string     `db:"id" json:"id"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	FullName          string     `db:"full_name" json:"full_name"`
	Phone             *string    `db:"phone" json:"phone,omitempty"`
	Company           *string    `db:"company" json:"company,omitempty"`
	Role              string     `db:"role" json:"role"` // salesperson, manager, admin
	IsActive          bool       `db:"is_active" json:"is_active"`
	PreferredLanguage string     `db:"preferred_language" json:"preferred_language"`
	LastLogin         *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Prospect represents a sales lead
type Prospect struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	FirstName  *string   `db:"first_name" json:"first_name,omitempty"`
	LastName   *string   `db:"last_name" json:"last_name,omitempty"`
	Email      *string   `db:"email" json:"email,omitempty"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	Company    *string   `db:"company" json:"company,omitempty"`
	JobTitle   *string   `db:"job_title" json:"job_title,omitempty"`
	Notes      *string   `db:"notes" json:"notes,omitempty"`
	PainPoints []string  `db:"pain_points" json:"pain_points"` // JSON array
	Interests  []string  `db:"interests" json:"interests"`     // JSON array
	LeadStatus string    `db:"lead_status" json:"lead_status"` // new, contacted, qualified, lost
	LeadScore  int       `db:"lead_score" json:"lead_score"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Product represents a catalog entry the assistant can pitch
type Product struct {
	ID                string            `db:"id" json:"id"`
	CreatedByID       *string           `db:"created_by_id" json:"created_by_id,omitempty"`
	Name              string            `db:"name" json:"name"`
	SKU               *string           `db:"sku" json:"sku,omitempty"`
	Category          *string           `db:"category" json:"category,omitempty"`
	Description       *string           `db:"description" json:"description,omitempty"`
	Price             *float64          `db:"price" json:"price,omitempty"`
	Currency          string            `db:"currency" json:"currency"`
	PricingModel      *string           `db:"pricing_model" json:"pricing_model,omitempty"` // one-time, subscription
	KeyFeatures       []string          `db:"key_features" json:"key_features"`
	Benefits          []string          `db:"benefits" json:"benefits"`
	TargetAudience    *string           `db:"target_audience" json:"target_audience,omitempty"`
	ObjectionHandlers map[string]string `db:"objection_handlers" json:"objection_handlers"`
	IsActive          bool              `db:"is_active" json:"is_active"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// Call represents one assisted call record
type Call struct {
	ID                string     `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"user_id"`
	ProspectID        *string    `db:"prospect_id" json:"prospect_id,omitempty"`
	CallType          *string    `db:"call_type" json:"call_type,omitempty"` // outbound, inbound, scheduled
	Status            string     `db:"status" json:"status"`                 // scheduled, in_progress, completed, cancelled
	ScheduledAt       *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt         *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt           *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	DurationSeconds   *int       `db:"duration_seconds" json:"duration_seconds,omitempty"`
	Context           *string    `db:"context" json:"context,omitempty"`
	Objectives        []string   `db:"objectives" json:"objectives"`
	SuggestedProducts []string   `db:"suggested_products" json:"suggested_products"`
	ConsentStatus     string     `db:"consent_status" json:"consent_status"` // pending, granted, denied, revoked
	ConsentTimestamp  *time.Time `db:"consent_timestamp" json:"consent_timestamp,omitempty"`
	ConsentMethod     *string    `db:"consent_method" json:"consent_method,omitempty"`
	Outcome           *string    `db:"outcome" json:"outcome,omitempty"` // sale_closed, follow_up, no_interest
	OutcomeNotes      *string    `db:"outcome_notes" json:"outcome_notes,omitempty"`
	NextSteps         []string   `db:"next_steps" json:"next_steps"`
	FollowUpDate      *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Transcript is the consolidated transcript written when a call ends
type Transcript struct {
	ID               string    `db:"id" json:"id"`
	CallID           string    `db:"call_id" json:"call_id"`
	FullText         string    `db:"full_text" json:"full_text"`
	Segments         string    `db:"segments" json:"segments"` // JSON
	DetectedLanguage *string   `db:"detected_language" json:"detected_language,omitempty"`
	IsFinal          bool      `db:"is_final" json:"is_final"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// SuggestionRecord is a persisted coaching suggestion with feedback flags
type SuggestionRecord struct {
	ID               string    `db:"id" json:"id"`
	CallID           string    `db:"call_id" json:"call_id"`
	SuggestionType   string    `db:"suggestion_type" json:"suggestion_type"`
	Content          string    `db:"content" json:"content"`
	Context          *string   `db:"context" json:"context,omitempty"`
	Confidence       *float64  `db:"confidence" json:"confidence,omitempty"`
	TimestampSeconds *float64  `db:"timestamp_seconds" json:"timestamp_seconds,omitempty"`
	WasUsed          *bool     `db:"was_used" json:"was_used,omitempty"`
	WasHelpful       *bool     `db:"was_helpful" json:"was_helpful,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// CallSummaryRecord is the persisted end-of-call summary
type CallSummaryRecord struct {
	ID                      string    `db:"id" json:"id"`
	CallID                  string    `db:"call_id" json:"call_id"`
	ExecutiveSummary        string    `db:"executive_summary" json:"executive_summary"`
	KeyPoints               []string  `db:"key_points" json:"key_points"`
	ActionItems             []string  `db:"action_items" json:"action_items"`
	ProspectInterests       []string  `db:"prospect_interests" json:"prospect_interests"`
	ObjectionsRaised        []string  `db:"objections_raised" json:"objections_raised"`
	ProductsDiscussed       []string  `db:"products_discussed" json:"products_discussed"`
	OverallSentiment        string    `db:"overall_sentiment" json:"overall_sentiment"`
	DealProbability         int       `db:"deal_probability" json:"deal_probability"`
	FollowUpRecommendations string    `db:"follow_up_recommendations" json:"follow_up_recommendations"`
	SuggestedEmailSubject   string    `db:"suggested_email_subject" json:"suggested_email_subject"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
}

// CallAnalyticsRecord is the persisted speech analytics bundle
type CallAnalyticsRecord struct {
	ID                    string         `db:"id" json:"id"`
	CallID                string         `db:"call_id" json:"call_id"`
	TalkRatioAgent        float64        `db:"talk_ratio_agent" json:"talk_ratio_agent"`
	TalkRatioCounterparty float64        `db:"talk_ratio_counterparty" json:"talk_ratio_counterparty"`
	AgentWPM              float64        `db:"agent_words_per_minute" json:"agent_words_per_minute"`
	CounterpartyWPM       float64        `db:"counterparty_words_per_minute" json:"counterparty_words_per_minute"`
	FillerWordCounts      map[string]int `db:"filler_word_counts" json:"filler_word_counts"`
	QuestionCount         int            `db:"question_count" json:"question_count"`
	SentimentTimeline     string         `db:"sentiment_timeline" json:"sentiment_timeline"` // JSON
	AverageSentiment      float64        `db:"average_sentiment" json:"average_sentiment"`
	SuggestionsShown      int            `db:"suggestions_shown" json:"suggestions_shown"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
}
