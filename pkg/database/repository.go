package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/metrics"
	"salescoach-server/pkg/model"
)

// Repository provides database operations
type Repository struct {
	db     *MySQLDatabase
	logger *logrus.Logger
}

// NewRepository creates a new repository
func NewRepository(db *MySQLDatabase, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// User operations

// CreateUser creates a new user record
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	if user.Role == "" {
		user.Role = "salesperson"
	}
	if user.PreferredLanguage == "" {
		user.PreferredLanguage = "en"
	}

	query := `
		INSERT INTO users (
			id, email, password_hash, full_name, phone, company, role,
			is_active, preferred_language, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FullName,
		user.Phone, user.Company, user.Role, user.IsActive,
		user.PreferredLanguage, user.CreatedAt, user.UpdatedAt,
	)

	if err != nil {
		metrics.RecordDatabaseError("create_user")
		r.logger.WithError(err).Error("Failed to create user")
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("User created successfully")

	return nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by email address
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "email = ?", email)
}

func (r *Repository) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `
		SELECT id, email, password_hash, full_name, phone, company, role,
			   is_active, preferred_language, last_login, created_at, updated_at
		FROM users WHERE ` + where

	user := &User{}
	err := r.db.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FullName,
		&user.Phone, &user.Company, &user.Role, &user.IsActive,
		&user.PreferredLanguage, &user.LastLogin, &user.CreatedAt, &user.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found: %v", arg)
		}
		metrics.RecordDatabaseError("get_user")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// TouchUserLogin records a successful login
func (r *Repository) TouchUserLogin(ctx context.Context, id string) error {
	_, err := r.db.db.ExecContext(ctx,
		"UPDATE users SET last_login = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		metrics.RecordDatabaseError("touch_user_login")
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// Prospect operations

// CreateProspect creates a new prospect record
func (r *Repository) CreateProspect(ctx context.Context, p *Prospect) error {
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	if p.LeadStatus == "" {
		p.LeadStatus = "new"
	}

	painPoints, err := marshalList(p.PainPoints)
	if err != nil {
		return fmt.Errorf("failed to marshal pain points: %w", err)
	}
	interests, err := marshalList(p.Interests)
	if err != nil {
		return fmt.Errorf("failed to marshal interests: %w", err)
	}

	query := `
		INSERT INTO prospects (
			id, user_id, first_name, last_name, email, phone, company, job_title,
			notes, pain_points, interests, lead_status, lead_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.FirstName, p.LastName, p.Email, p.Phone,
		p.Company, p.JobTitle, p.Notes, painPoints, interests,
		p.LeadStatus, p.LeadScore, p.CreatedAt, p.UpdatedAt,
	)

	if err != nil {
		metrics.RecordDatabaseError("create_prospect")
		r.logger.WithError(err).Error("Failed to create prospect")
		return fmt.Errorf("failed to create prospect: %w", err)
	}

	return nil
}

// GetProspect retrieves a prospect by ID
func (r *Repository) GetProspect(ctx context.Context, id string) (*Prospect, error) {
	query := `
		SELECT id, user_id, first_name, last_name, email, phone, company, job_title,
			   notes, pain_points, interests, lead_status, lead_score, created_at, updated_at
		FROM prospects WHERE id = ?
	`

	p := &Prospect{}
	var painPoints, interests sql.NullString
	err := r.db.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.Company, &p.JobTitle, &p.Notes, &painPoints, &interests,
		&p.LeadStatus, &p.LeadScore, &p.CreatedAt, &p.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("prospect not found: %s", id)
		}
		metrics.RecordDatabaseError("get_prospect")
		return nil, fmt.Errorf("failed to get prospect: %w", err)
	}

	p.PainPoints = unmarshalList(painPoints)
	p.Interests = unmarshalList(interests)

	return p, nil
}

// ListProspects lists prospects owned by a user, newest first
func (r *Repository) ListProspects(ctx context.Context, userID string, limit, offset int) ([]*Prospect, error) {
	query := `
		SELECT id, user_id, first_name, last_name, email, phone, company, job_title,
			   notes, pain_points, interests, lead_status, lead_score, created_at, updated_at
		FROM prospects WHERE user_id = ? ORDER BY created_at DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordDatabaseError("list_prospects")
		return nil, fmt.Errorf("failed to list prospects: %w", err)
	}
	defer rows.Close()

	var prospects []*Prospect
	for rows.Next() {
		p := &Prospect{}
		var painPoints, interests sql.NullString
		err := rows.Scan(
			&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
			&p.Company, &p.JobTitle, &p.Notes, &painPoints, &interests,
			&p.LeadStatus, &p.LeadScore, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			r.logger.WithError(err).Error("Failed to scan prospect row")
			continue
		}
		p.PainPoints = unmarshalList(painPoints)
		p.Interests = unmarshalList(interests)
		prospects = append(prospects, p)
	}

	return prospects, rows.Err()
}

// UpdateProspect updates mutable prospect fields
func (r *Repository) UpdateProspect(ctx context.Context, p *Prospect) error {
	p.UpdatedAt = time.Now()

	painPoints, err := marshalList(p.PainPoints)
	if err != nil {
		return fmt.Errorf("failed to marshal pain points: %w", err)
	}
	interests, err := marshalList(p.Interests)
	if err != nil {
		return fmt.Errorf("failed to marshal interests: %w", err)
	}

	query := `
		UPDATE prospects SET
			first_name = ?, last_name = ?, email = ?, phone = ?, company = ?,
			job_title = ?, notes = ?, pain_points = ?, interests = ?,
			lead_status = ?, lead_score = ?, updated_at = ?
		WHERE id = ?
	`

	_, err = r.db.db.ExecContext(ctx, query,
		p.FirstName, p.LastName, p.Email, p.Phone, p.Company,
		p.JobTitle, p.Notes, painPoints, interests,
		p.LeadStatus, p.LeadScore, p.UpdatedAt, p.ID,
	)

	if err != nil {
		metrics.RecordDatabaseError("update_prospect")
		return fmt.Errorf("failed to update prospect: %w", err)
	}

	return nil
}

// DeleteProspect removes a prospect record
func (r *Repository) DeleteProspect(ctx context.Context, id string) error {
	_, err := r.db.db.ExecContext(ctx, "DELETE FROM prospects WHERE id = ?", id)
	if err != nil {
		metrics.RecordDatabaseError("delete_prospect")
		return fmt.Errorf("failed to delete prospect: %w", err)
	}
	return nil
}

// Product operations

// CreateProduct creates a new product record
func (r *Repository) CreateProduct(ctx context.Context, p *Product) error {
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	if p.Currency == "" {
		p.Currency = "USD"
	}

	keyFeatures, err := marshalList(p.KeyFeatures)
	if err != nil {
		return fmt.Errorf("failed to marshal key features: %w", err)
	}
	benefits, err := marshalList(p.Benefits)
	if err != nil {
		return fmt.Errorf("failed to marshal benefits: %w", err)
	}
	objectionHandlers, err := marshalMap(p.ObjectionHandlers)
	if err != nil {
		return fmt.Errorf("failed to marshal objection handlers: %w", err)
	}

	query := `
		INSERT INTO products (
			id, created_by_id, name, sku, category, description, price, currency,
			pricing_model, key_features, benefits, target_audience,
			objection_handlers, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.db.ExecContext(ctx, query,
		p.ID, p.CreatedByID, p.Name, p.SKU, p.Category, p.Description,
		p.Price, p.Currency, p.PricingModel, keyFeatures, benefits,
		p.TargetAudience, objectionHandlers, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)

	if err != nil {
		metrics.RecordDatabaseError("create_product")
		r.logger.WithError(err).Error("Failed to create product")
		return fmt.Errorf("failed to create product: %w", err)
	}

	return nil
}

// GetProduct retrieves a product by ID
func (r *Repository) GetProduct(ctx context.Context, id string) (*Product, error) {
	query := `
		SELECT id, created_by_id, name, sku, category, description, price, currency,
			   pricing_model, key_features, benefits, target_audience,
			   objection_handlers, is_active, created_at, updated_at
		FROM products WHERE id = ?
	`

	p := &Product{}
	var keyFeatures, benefits, objectionHandlers sql.NullString
	err := r.db.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.CreatedByID, &p.Name, &p.SKU, &p.Category, &p.Description,
		&p.Price, &p.Currency, &p.PricingModel, &keyFeatures, &benefits,
		&p.TargetAudience, &objectionHandlers, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("product not found: %s", id)
		}
		metrics.RecordDatabaseError("get_product")
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	p.KeyFeatures = unmarshalList(keyFeatures)
	p.Benefits = unmarshalList(benefits)
	p.ObjectionHandlers = unmarshalMap(objectionHandlers)

	return p, nil
}

// ListProducts lists active products, newest first
func (r *Repository) ListProducts(ctx context.Context, limit, offset int) ([]*Product, error) {
	query := `
		SELECT id, created_by_id, name, sku, category, description, price, currency,
			   pricing_model, key_features, benefits, target_audience,
			   objection_handlers, is_active, created_at, updated_at
		FROM products WHERE is_active = TRUE ORDER BY created_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordDatabaseError("list_products")
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p := &Product{}
		var keyFeatures, benefits, objectionHandlers sql.NullString
		err := rows.Scan(
			&p.ID, &p.CreatedByID, &p.Name, &p.SKU, &p.Category, &p.Description,
			&p.Price, &p.Currency, &p.PricingModel, &keyFeatures, &benefits,
			&p.TargetAudience, &objectionHandlers, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			r.logger.WithError(err).Error("Failed to scan product row")
			continue
		}
		p.KeyFeatures = unmarshalList(keyFeatures)
		p.Benefits = unmarshalList(benefits)
		p.ObjectionHandlers = unmarshalMap(objectionHandlers)
		products = append(products, p)
	}

	return products, rows.Err()
}

// UpdateProduct updates mutable product fields
func (r *Repository) UpdateProduct(ctx context.Context, p *Product) error {
	p.UpdatedAt = time.Now()

	keyFeatures, err := marshalList(p.KeyFeatures)
	if err != nil {
		return fmt.Errorf("failed to marshal key features: %w", err)
	}
	benefits, err := marshalList(p.Benefits)
	if err != nil {
		return fmt.Errorf("failed to marshal benefits: %w", err)
	}
	objectionHandlers, err := marshalMap(p.ObjectionHandlers)
	if err != nil {
		return fmt.Errorf("failed to marshal objection handlers: %w", err)
	}

	query := `
		UPDATE products SET
			name = ?, sku = ?, category = ?, description = ?, price = ?,
			currency = ?, pricing_model = ?, key_features = ?, benefits = ?,
			target_audience = ?, objection_handlers = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`

	_, err = r.db.db.ExecContext(ctx, query,
		p.Name, p.SKU, p.Category, p.Description, p.Price,
		p.Currency, p.PricingModel, keyFeatures, benefits,
		p.TargetAudience, objectionHandlers, p.IsActive, p.UpdatedAt, p.ID,
	)

	if err != nil {
		metrics.RecordDatabaseError("update_product")
		return fmt.Errorf("failed to update product: %w", err)
	}

	return nil
}

// DeleteProduct soft-deletes a product by marking it inactive
func (r *Repository) DeleteProduct(ctx context.Context, id string) error {
	_, err := r.db.db.ExecContext(ctx,
		"UPDATE products SET is_active = FALSE, updated_at = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		metrics.RecordDatabaseError("delete_product")
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// Call operations

// CreateCall creates a new call record
func (r *Repository) CreateCall(ctx context.Context, call *Call) error {
	call.ID = uuid.New().String()
	call.CreatedAt = time.Now()
	call.UpdatedAt = time.Now()
	if call.Status == "" {
		call.Status = "scheduled"
	}
	if call.ConsentStatus == "" {
		call.ConsentStatus = string(model.ConsentPending)
	}

	objectives, err := marshalList(call.Objectives)
	if err != nil {
		return fmt.Errorf("failed to marshal objectives: %w", err)
	}
	suggestedProducts, err := marshalList(call.SuggestedProducts)
	if err != nil {
		return fmt.Errorf("failed to marshal suggested products: %w", err)
	}

	query := `
		INSERT INTO calls (
			id, user_id, prospect_id, call_type, status, scheduled_at, context,
			objectives, suggested_products, consent_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.db.ExecContext(ctx, query,
		call.ID, call.UserID, call.ProspectID, call.CallType, call.Status,
		call.ScheduledAt, call.Context, objectives, suggestedProducts,
		call.ConsentStatus, call.CreatedAt, call.UpdatedAt,
	)

	if err != nil {
		metrics.RecordDatabaseError("create_call")
		r.logger.WithError(err).Error("Failed to create call")
		return fmt.Errorf("failed to create call: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"call_id": call.ID,
		"user_id": call.UserID,
	}).Info("Call created successfully")

	return nil
}

// GetCall retrieves a call by ID
func (r *Repository) GetCall(ctx context.Context, id string) (*Call, error) {
	query := `
		SELECT id, user_id, prospect_id, call_type, status, scheduled_at,
			   started_at, ended_at, duration_seconds, context, objectives,
			   suggested_products, consent_status, consent_timestamp, consent_method,
			   outcome, outcome_notes, next_steps, follow_up_date, created_at, updated_at
		FROM calls WHERE id = ?
	`

	call := &Call{}
	var objectives, suggestedProducts, nextSteps sql.NullString
	err := r.db.db.QueryRowContext(ctx, query, id).Scan(
		&call.ID, &call.UserID, &call.ProspectID, &call.CallType, &call.Status,
		&call.ScheduledAt, &call.StartedAt, &call.EndedAt, &call.DurationSeconds,
		&call.Context, &objectives, &suggestedProducts, &call.ConsentStatus,
		&call.ConsentTimestamp, &call.ConsentMethod, &call.Outcome,
		&call.OutcomeNotes, &nextSteps, &call.FollowUpDate,
		&call.CreatedAt, &call.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("call not found: %s", id)
		}
		metrics.RecordDatabaseError("get_call")
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	call.Objectives = unmarshalList(objectives)
	call.SuggestedProducts = unmarshalList(suggestedProducts)
	call.NextSteps = unmarshalList(nextSteps)

	return call, nil
}

// ListCalls lists calls for a user, newest first
func (r *Repository) ListCalls(ctx context.Context, userID string, status string, limit, offset int) ([]*Call, error) {
	query := `
		SELECT id, user_id, prospect_id, call_type, status, scheduled_at,
			   started_at, ended_at, duration_seconds, context, objectives,
			   suggested_products, consent_status, consent_timestamp, consent_method,
			   outcome, outcome_notes, next_steps, follow_up_date, created_at, updated_at
		FROM calls WHERE user_id = ?
	`
	args := []interface{}{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := r.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.RecordDatabaseError("list_calls")
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []*Call
	for rows.Next() {
		call := &Call{}
		var objectives, suggestedProducts, nextSteps sql.NullString
		err := rows.Scan(
			&call.ID, &call.UserID, &call.ProspectID, &call.CallType, &call.Status,
			&call.ScheduledAt, &call.StartedAt, &call.EndedAt, &call.DurationSeconds,
			&call.Context, &objectives, &suggestedProducts, &call.ConsentStatus,
			&call.ConsentTimestamp, &call.ConsentMethod, &call.Outcome,
			&call.OutcomeNotes, &nextSteps, &call.FollowUpDate,
			&call.CreatedAt, &call.UpdatedAt,
		)
		if err != nil {
			r.logger.WithError(err).Error("Failed to scan call row")
			continue
		}
		call.Objectives = unmarshalList(objectives)
		call.SuggestedProducts = unmarshalList(suggestedProducts)
		call.NextSteps = unmarshalList(nextSteps)
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// MarkCallStarted transitions a call to in_progress
func (r *Repository) MarkCallStarted(ctx context.Context, id string) error {
	now := time.Now()
	_, err := r.db.db.ExecContext(ctx,
		"UPDATE calls SET status = 'in_progress', started_at = ?, updated_at = ? WHERE id = ?",
		now, now, id)
	if err != nil {
		metrics.RecordDatabaseError("mark_call_started")
		return fmt.Errorf("failed to mark call started: %w", err)
	}
	return nil
}

// UpdateCallOutcome records the post-call disposition
func (r *Repository) UpdateCallOutcome(ctx context.Context, id string, outcome, notes string, nextSteps []string, followUp *time.Time) error {
	steps, err := marshalList(nextSteps)
	if err != nil {
		return fmt.Errorf("failed to marshal next steps: %w", err)
	}

	_, err = r.db.db.ExecContext(ctx, `
		UPDATE calls SET outcome = ?, outcome_notes = ?, next_steps = ?,
			follow_up_date = ?, updated_at = ?
		WHERE id = ?`,
		outcome, notes, steps, followUp, time.Now(), id)
	if err != nil {
		metrics.RecordDatabaseError("update_call_outcome")
		return fmt.Errorf("failed to update call outcome: %w", err)
	}
	return nil
}

// Live session persistence

// SaveTranscriptSegment persists one finalized utterance
func (r *Repository) SaveTranscriptSegment(ctx context.Context, callID string, seg model.TranscriptSegment) error {
	query := `
		INSERT INTO transcript_segments (
			id, call_id, speaker, text, start_time, end_time, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.db.ExecContext(ctx, query,
		uuid.New().String(), callID, string(seg.Speaker), seg.Text,
		seg.StartTime, seg.EndTime, seg.Confidence, time.Now(),
	)

	if err != nil {
		metrics.RecordDatabaseError("save_transcript_segment")
		return fmt.Errorf("failed to save transcript segment: %w", err)
	}

	return nil
}

// SaveSuggestion persists one coaching suggestion
func (r *Repository) SaveSuggestion(ctx context.Context, callID string, s model.Suggestion) error {
	query := `
		INSERT INTO suggestions (
			id, call_id, suggestion_type, content, context, confidence,
			timestamp_seconds, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.db.ExecContext(ctx, query,
		s.ID, callID, string(s.Kind), s.Content, s.Context,
		s.Confidence, s.OffsetSeconds, time.Now(),
	)

	if err != nil {
		metrics.RecordDatabaseError("save_suggestion")
		return fmt.Errorf("failed to save suggestion: %w", err)
	}

	return nil
}

// SaveSuggestionFeedback records whether a suggestion was used and helpful
func (r *Repository) SaveSuggestionFeedback(ctx context.Context, suggestionID string, wasHelpful, wasUsed bool) error {
	_, err := r.db.db.ExecContext(ctx,
		"UPDATE suggestions SET was_helpful = ?, was_used = ? WHERE id = ?",
		wasHelpful, wasUsed, suggestionID)
	if err != nil {
		metrics.RecordDatabaseError("save_suggestion_feedback")
		return fmt.Errorf("failed to save suggestion feedback: %w", err)
	}
	return nil
}

// UpdateConsent records a consent state change on the call record
func (r *Repository) UpdateConsent(ctx context.Context, callID string, state model.ConsentState, method string) error {
	_, err := r.db.db.ExecContext(ctx, `
		UPDATE calls SET consent_status = ?, consent_timestamp = ?,
			consent_method = ?, updated_at = ?
		WHERE id = ?`,
		string(state), time.Now(), method, time.Now(), callID)
	if err != nil {
		metrics.RecordDatabaseError("update_consent")
		return fmt.Errorf("failed to update consent: %w", err)
	}
	return nil
}

// FinalizeCall writes the consolidated transcript, summary, and analytics
// and closes out the call record in one transaction.
func (r *Repository) FinalizeCall(ctx context.Context, callID string, fullTranscript string, segments []model.TranscriptSegment, result model.CallResult) error {
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordDatabaseError("finalize_call")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE calls SET status = 'completed', ended_at = ?, duration_seconds = ?, updated_at = ?
		WHERE id = ?`,
		result.EndedAt, result.DurationSeconds, now, callID)
	if err != nil {
		metrics.RecordDatabaseError("finalize_call")
		return fmt.Errorf("failed to close call record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcripts (id, call_id, full_text, segments, is_final, created_at, updated_at)
		VALUES (?, ?, ?, ?, TRUE, ?, ?)`,
		uuid.New().String(), callID, fullTranscript, segmentsJSON, now, now)
	if err != nil {
		metrics.RecordDatabaseError("finalize_call")
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	summary := result.Summary
	keyPoints, _ := json.Marshal(summary.KeyPoints)
	actionItems, _ := json.Marshal(summary.ActionItems)
	interests, _ := json.Marshal(summary.ProspectInterests)
	objections, _ := json.Marshal(summary.ObjectionsRaised)
	products, _ := json.Marshal(summary.ProductsDiscussed)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO call_summaries (
			id, call_id, executive_summary, key_points, action_items,
			prospect_interests, objections_raised, products_discussed,
			overall_sentiment, deal_probability, follow_up_recommendations,
			suggested_email_subject, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), callID, summary.ExecutiveSummary, keyPoints,
		actionItems, interests, objections, products, summary.OverallSentiment,
		summary.DealProbability, summary.RecommendedFollowUp,
		summary.SuggestedEmailSubject, now)
	if err != nil {
		metrics.RecordDatabaseError("finalize_call")
		return fmt.Errorf("failed to save call summary: %w", err)
	}

	analytics := result.Analytics
	fillerCounts, _ := json.Marshal(analytics.FillerWordCounts)
	timeline, _ := json.Marshal(analytics.SentimentTimeline)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO call_analytics (
			id, call_id, talk_ratio_agent, talk_ratio_counterparty,
			agent_words_per_minute, counterparty_words_per_minute,
			filler_word_counts, question_count, sentiment_timeline,
			average_sentiment, suggestions_shown, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), callID, analytics.TalkRatio.Agent,
		analytics.TalkRatio.Counterparty, analytics.AgentWPM,
		analytics.CounterpartyWPM, fillerCounts, analytics.QuestionCount,
		timeline, analytics.AverageSentiment, analytics.SuggestionCount, now)
	if err != nil {
		metrics.RecordDatabaseError("finalize_call")
		return fmt.Errorf("failed to save call analytics: %w", err)
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDatabaseError("finalize_call")
		return fmt.Errorf("failed to commit call finalization: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"duration": result.DurationSeconds,
		"segments": len(segments),
	}).Info("Call finalized")

	return nil
}

// Post-call reads

// GetTranscript retrieves the consolidated transcript for a call
func (r *Repository) GetTranscript(ctx context.Context, callID string) (*Transcript, error) {
	query := `
		SELECT id, call_id, full_text, segments, detected_language, is_final,
			   created_at, updated_at
		FROM transcripts WHERE call_id = ? ORDER BY created_at DESC LIMIT 1
	`

	t := &Transcript{}
	var fullText, segments sql.NullString
	err := r.db.db.QueryRowContext(ctx, query, callID).Scan(
		&t.ID, &t.CallID, &fullText, &segments, &t.DetectedLanguage,
		&t.IsFinal, &t.CreatedAt, &t.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transcript not found for call: %s", callID)
		}
		metrics.RecordDatabaseError("get_transcript")
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	t.FullText = fullText.String
	t.Segments = segments.String

	return t, nil
}

// ListSuggestions lists the suggestions generated during a call
func (r *Repository) ListSuggestions(ctx context.Context, callID string) ([]*SuggestionRecord, error) {
	query := `
		SELECT id, call_id, suggestion_type, content, context, confidence,
			   timestamp_seconds, was_used, was_helpful, created_at
		FROM suggestions WHERE call_id = ? ORDER BY timestamp_seconds ASC
	`

	rows, err := r.db.db.QueryContext(ctx, query, callID)
	if err != nil {
		metrics.RecordDatabaseError("list_suggestions")
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*SuggestionRecord
	for rows.Next() {
		s := &SuggestionRecord{}
		err := rows.Scan(
			&s.ID, &s.CallID, &s.SuggestionType, &s.Content, &s.Context,
			&s.Confidence, &s.TimestampSeconds, &s.WasUsed, &s.WasHelpful,
			&s.CreatedAt,
		)
		if err != nil {
			r.logger.WithError(err).Error("Failed to scan suggestion row")
			continue
		}
		suggestions = append(suggestions, s)
	}

	return suggestions, rows.Err()
}

// GetCallSummary retrieves the persisted summary for a call
func (r *Repository) GetCallSummary(ctx context.Context, callID string) (*CallSummaryRecord, error) {
	query := `
		SELECT id, call_id, executive_summary, key_points, action_items,
			   prospect_interests, objections_raised, products_discussed,
			   overall_sentiment, deal_probability, follow_up_recommendations,
			   suggested_email_subject, created_at
		FROM call_summaries WHERE call_id = ? ORDER BY created_at DESC LIMIT 1
	`

	s := &CallSummaryRecord{}
	var keyPoints, actionItems, interests, objections, products sql.NullString
	err := r.db.db.QueryRowContext(ctx, query, callID).Scan(
		&s.ID, &s.CallID, &s.ExecutiveSummary, &keyPoints, &actionItems,
		&interests, &objections, &products, &s.OverallSentiment,
		&s.DealProbability, &s.FollowUpRecommendations,
		&s.SuggestedEmailSubject, &s.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("summary not found for call: %s", callID)
		}
		metrics.RecordDatabaseError("get_call_summary")
		return nil, fmt.Errorf("failed to get call summary: %w", err)
	}

	s.KeyPoints = unmarshalList(keyPoints)
	s.ActionItems = unmarshalList(actionItems)
	s.ProspectInterests = unmarshalList(interests)
	s.ObjectionsRaised = unmarshalList(objections)
	s.ProductsDiscussed = unmarshalList(products)

	return s, nil
}

// GetCallAnalytics retrieves the persisted analytics for a call
func (r *Repository) GetCallAnalytics(ctx context.Context, callID string) (*CallAnalyticsRecord, error) {
	query := `
		SELECT id, call_id, talk_ratio_agent, talk_ratio_counterparty,
			   agent_words_per_minute, counterparty_words_per_minute,
			   filler_word_counts, question_count, sentiment_timeline,
			   average_sentiment, suggestions_shown, created_at
		FROM call_analytics WHERE call_id = ? ORDER BY created_at DESC LIMIT 1
	`

	a := &CallAnalyticsRecord{}
	var fillerCounts, timeline sql.NullString
	err := r.db.db.QueryRowContext(ctx, query, callID).Scan(
		&a.ID, &a.CallID, &a.TalkRatioAgent, &a.TalkRatioCounterparty,
		&a.AgentWPM, &a.CounterpartyWPM, &fillerCounts, &a.QuestionCount,
		&timeline, &a.AverageSentiment, &a.SuggestionsShown, &a.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("analytics not found for call: %s", callID)
		}
		metrics.RecordDatabaseError("get_call_analytics")
		return nil, fmt.Errorf("failed to get call analytics: %w", err)
	}

	if fillerCounts.Valid {
		_ = json.Unmarshal([]byte(fillerCounts.String), &a.FillerWordCounts)
	}
	a.SentimentTimeline = timeline.String

	return a, nil
}

// JSON column helpers

func marshalList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func marshalMap(values map[string]string) ([]byte, error) {
	if values == nil {
		values = map[string]string{}
	}
	return json.Marshal(values)
}

func unmarshalList(col sql.NullString) []string {
	values := []string{}
	if col.Valid && col.String != "" {
		_ = json.Unmarshal([]byte(col.String), &values)
	}
	return values
}

func unmarshalMap(col sql.NullString) map[string]string {
	values := map[string]string{}
	if col.Valid && col.String != "" {
		_ = json.Unmarshal([]byte(col.String), &values)
	}
	return values
}
