package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/ai"
	"salescoach-server/pkg/auth"
	"salescoach-server/pkg/database"
	"salescoach-server/pkg/model"
	"salescoach-server/pkg/search"
)

// Store is the persistence surface the REST API needs. Implemented by
// database.Repository.
type Store interface {
	CreateUser(ctx context.Context, user *database.User) error
	GetUser(ctx context.Context, id string) (*database.User, error)

	CreateProspect(ctx context.Context, p *database.Prospect) error
	GetProspect(ctx context.Context, id string) (*database.Prospect, error)
	ListProspects(ctx context.Context, userID string, limit, offset int) ([]*database.Prospect, error)
	UpdateProspect(ctx context.Context, p *database.Prospect) error
	DeleteProspect(ctx context.Context, id string) error

	CreateProduct(ctx context.Context, p *database.Product) error
	GetProduct(ctx context.Context, id string) (*database.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]*database.Product, error)
	UpdateProduct(ctx context.Context, p *database.Product) error
	DeleteProduct(ctx context.Context, id string) error

	CreateCall(ctx context.Context, call *database.Call) error
	GetCall(ctx context.Context, id string) (*database.Call, error)
	ListCalls(ctx context.Context, userID string, status string, limit, offset int) ([]*database.Call, error)
	UpdateCallOutcome(ctx context.Context, id string, outcome, notes string, nextSteps []string, followUp *time.Time) error

	GetTranscript(ctx context.Context, callID string) (*database.Transcript, error)
	ListSuggestions(ctx context.Context, callID string) ([]*database.SuggestionRecord, error)
	GetCallSummary(ctx context.Context, callID string) (*database.CallSummaryRecord, error)
	GetCallAnalytics(ctx context.Context, callID string) (*database.CallAnalyticsRecord, error)
}

// APIOptions wires the REST API's collaborators.
type APIOptions struct {
	Logger         *logrus.Logger
	Store          Store
	Authenticator  *auth.Authenticator
	Knowledge      search.Store
	Engine         *ai.Engine
	ProductIndex   string
	ObjectionIndex string
}

// API serves the REST endpoints for users, prospects, products, and calls.
type API struct {
	logger         *logrus.Logger
	store          Store
	authenticator  *auth.Authenticator
	knowledge      search.Store
	engine         *ai.Engine
	productIndex   string
	objectionIndex string
}

// NewAPI creates the REST API handler set
func NewAPI(opts APIOptions) *API {
	productIndex := opts.ProductIndex
	if productIndex == "" {
		productIndex = "products"
	}
	objectionIndex := opts.ObjectionIndex
	if objectionIndex == "" {
		objectionIndex = "objections"
	}

	return &API{
		logger:         opts.Logger,
		store:          opts.Store,
		authenticator:  opts.Authenticator,
		knowledge:      opts.Knowledge,
		engine:         opts.Engine,
		productIndex:   productIndex,
		objectionIndex: objectionIndex,
	}
}

// Register mounts all REST routes on the server
func (a *API) Register(s *Server) {
	s.Handle("POST /api/auth/register", a.handleRegister)
	s.Handle("POST /api/auth/login", a.handleLogin)

	s.Handle("POST /api/prospects", a.handleCreateProspect)
	s.Handle("GET /api/prospects", a.handleListProspects)
	s.Handle("GET /api/prospects/{id}", a.handleGetProspect)
	s.Handle("PUT /api/prospects/{id}", a.handleUpdateProspect)
	s.Handle("DELETE /api/prospects/{id}", a.handleDeleteProspect)

	s.Handle("POST /api/products", a.handleCreateProduct)
	s.Handle("GET /api/products", a.handleListProducts)
	s.Handle("GET /api/products/{id}", a.handleGetProduct)
	s.Handle("PUT /api/products/{id}", a.handleUpdateProduct)
	s.Handle("DELETE /api/products/{id}", a.handleDeleteProduct)

	s.Handle("POST /api/knowledge/objections", a.handleAddObjection)

	s.Handle("POST /api/calls", a.handleCreateCall)
	s.Handle("GET /api/calls", a.handleListCalls)
	s.Handle("GET /api/calls/{id}", a.handleGetCall)
	s.Handle("PUT /api/calls/{id}/outcome", a.handleUpdateCallOutcome)
	s.Handle("GET /api/calls/{id}/transcript", a.handleGetTranscript)
	s.Handle("GET /api/calls/{id}/suggestions", a.handleListSuggestions)
	s.Handle("GET /api/calls/{id}/summary", a.handleGetSummary)
	s.Handle("GET /api/calls/{id}/analytics", a.handleGetAnalytics)
	s.Handle("POST /api/calls/{id}/follow-up-email", a.handleFollowUpEmail)
}

// Auth

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Company  string `json:"company,omitempty"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.FullName == "" {
		writeError(w, http.StatusBadRequest, "email, password, and full_name are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process password")
		return
	}

	user := &database.User{
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		IsActive:     true,
	}
	if req.Phone != "" {
		user.Phone = &req.Phone
	}
	if req.Company != "" {
		user.Company = &req.Company
	}

	if err := a.store.CreateUser(r.Context(), user); err != nil {
		if strings.Contains(err.Error(), "Duplicate") {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		a.logger.WithError(err).Error("Failed to create user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := a.authenticator.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// Prospects

func (a *API) handleCreateProspect(w http.ResponseWriter, r *http.Request) {
	var p database.Prospect
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if p.UserID == "" {
		p.UserID = a.requestUserID(r)
	}
	if p.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := a.store.CreateProspect(r.Context(), &p); err != nil {
		a.logger.WithError(err).Error("Failed to create prospect")
		writeError(w, http.StatusInternalServerError, "failed to create prospect")
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleListProspects(w http.ResponseWriter, r *http.Request) {
	userID := a.requestUserID(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit, offset := pagination(r)
	prospects, err := a.store.ListProspects(r.Context(), userID, limit, offset)
	if err != nil {
		a.logger.WithError(err).Error("Failed to list prospects")
		writeError(w, http.StatusInternalServerError, "failed to list prospects")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"prospects": prospects})
}

func (a *API) handleGetProspect(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.GetProspect(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "prospect not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleUpdateProspect(w http.ResponseWriter, r *http.Request) {
	existing, err := a.store.GetProspect(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "prospect not found")
		return
	}

	var p database.Prospect
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.ID = existing.ID
	p.UserID = existing.UserID

	if err := a.store.UpdateProspect(r.Context(), &p); err != nil {
		a.logger.WithError(err).Error("Failed to update prospect")
		writeError(w, http.StatusInternalServerError, "failed to update prospect")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeleteProspect(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteProspect(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete prospect")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Products

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var p database.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	p.IsActive = true

	if err := a.store.CreateProduct(r.Context(), &p); err != nil {
		a.logger.WithError(err).Error("Failed to create product")
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	a.indexProduct(r.Context(), &p)

	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	products, err := a.store.ListProducts(r.Context(), limit, offset)
	if err != nil {
		a.logger.WithError(err).Error("Failed to list products")
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	existing, err := a.store.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}

	var p database.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.ID = existing.ID

	if err := a.store.UpdateProduct(r.Context(), &p); err != nil {
		a.logger.WithError(err).Error("Failed to update product")
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	a.indexProduct(r.Context(), &p)

	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.store.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}

	if a.knowledge != nil {
		if err := a.knowledge.Delete(r.Context(), a.productIndex, id); err != nil {
			a.logger.WithError(err).WithField("product_id", id).
				Warn("Failed to remove product from knowledge store")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// indexProduct mirrors product sales content into the knowledge store so
// the suggestion engine can ground pitches in catalog facts.
func (a *API) indexProduct(ctx context.Context, p *database.Product) {
	if a.knowledge == nil {
		return
	}

	var content strings.Builder
	content.WriteString(p.Name)
	if p.Description != nil {
		content.WriteString(". ")
		content.WriteString(*p.Description)
	}
	if len(p.KeyFeatures) > 0 {
		content.WriteString(" Features: ")
		content.WriteString(strings.Join(p.KeyFeatures, ", "))
	}
	if len(p.Benefits) > 0 {
		content.WriteString(" Benefits: ")
		content.WriteString(strings.Join(p.Benefits, ", "))
	}

	doc := search.Document{
		ID:      p.ID,
		Content: content.String(),
		Metadata: map[string]string{
			"name": p.Name,
		},
	}
	if p.Category != nil {
		doc.Metadata["category"] = *p.Category
	}

	if err := a.knowledge.Index(ctx, a.productIndex, doc); err != nil {
		a.logger.WithError(err).WithField("product_id", p.ID).
			Warn("Failed to index product in knowledge store")
	}
}

// Objection knowledge

type objectionRequest struct {
	Objection string `json:"objection"`
	Response  string `json:"response"`
	Category  string `json:"category,omitempty"`
}

func (a *API) handleAddObjection(w http.ResponseWriter, r *http.Request) {
	if a.knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store not configured")
		return
	}

	var req objectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Objection == "" || req.Response == "" {
		writeError(w, http.StatusBadRequest, "objection and response are required")
		return
	}

	doc := search.Document{
		ID:      uuid.New().String(),
		Content: req.Objection + " " + req.Response,
		Metadata: map[string]string{
			"objection": req.Objection,
			"response":  req.Response,
		},
	}
	if req.Category != "" {
		doc.Metadata["category"] = req.Category
	}

	if err := a.knowledge.Index(r.Context(), a.objectionIndex, doc); err != nil {
		a.logger.WithError(err).Error("Failed to index objection")
		writeError(w, http.StatusInternalServerError, "failed to index objection")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "indexed"})
}

// Calls

func (a *API) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var call database.Call
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if call.UserID == "" {
		call.UserID = a.requestUserID(r)
	}
	if call.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := a.store.CreateCall(r.Context(), &call); err != nil {
		a.logger.WithError(err).Error("Failed to create call")
		writeError(w, http.StatusInternalServerError, "failed to create call")
		return
	}

	writeJSON(w, http.StatusCreated, call)
}

func (a *API) handleListCalls(w http.ResponseWriter, r *http.Request) {
	userID := a.requestUserID(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit, offset := pagination(r)
	calls, err := a.store.ListCalls(r.Context(), userID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		a.logger.WithError(err).Error("Failed to list calls")
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"calls": calls})
}

func (a *API) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, err := a.store.GetCall(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

type outcomeRequest struct {
	Outcome      string     `json:"outcome"`
	Notes        string     `json:"notes,omitempty"`
	NextSteps    []string   `json:"next_steps,omitempty"`
	FollowUpDate *time.Time `json:"follow_up_date,omitempty"`
}

func (a *API) handleUpdateCallOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Outcome == "" {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}

	id := r.PathValue("id")
	if err := a.store.UpdateCallOutcome(r.Context(), id, req.Outcome, req.Notes, req.NextSteps, req.FollowUpDate); err != nil {
		a.logger.WithError(err).Error("Failed to update call outcome")
		writeError(w, http.StatusInternalServerError, "failed to update call outcome")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (a *API) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetTranscript(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := a.store.ListSuggestions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list suggestions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (a *API) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.store.GetCallSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "summary not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := a.store.GetCallAnalytics(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "analytics not found")
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

type followUpEmailRequest struct {
	ProspectName    string `json:"prospect_name"`
	SalespersonName string `json:"salesperson_name"`
}

func (a *API) handleFollowUpEmail(w http.ResponseWriter, r *http.Request) {
	var req followUpEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	callID := r.PathValue("id")
	record, err := a.store.GetCallSummary(r.Context(), callID)
	if err != nil {
		writeError(w, http.StatusNotFound, "summary not found")
		return
	}

	email, err := a.engine.FollowUpEmail(r.Context(), summaryFromRecord(record), req.ProspectName, req.SalespersonName)
	if err != nil {
		a.logger.WithError(err).WithField("call_id", callID).Error("Failed to draft follow-up email")
		writeError(w, http.StatusBadGateway, "failed to draft follow-up email")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"subject": record.SuggestedEmailSubject,
		"body":    email,
	})
}

// Helpers

func summaryFromRecord(record *database.CallSummaryRecord) model.CallSummary {
	return model.CallSummary{
		ExecutiveSummary:      record.ExecutiveSummary,
		KeyPoints:             record.KeyPoints,
		ActionItems:           record.ActionItems,
		ProspectInterests:     record.ProspectInterests,
		ObjectionsRaised:      record.ObjectionsRaised,
		ProductsDiscussed:     record.ProductsDiscussed,
		OverallSentiment:      record.OverallSentiment,
		RecommendedFollowUp:   record.FollowUpRecommendations,
		DealProbability:       record.DealProbability,
		SuggestedEmailSubject: record.SuggestedEmailSubject,
	}
}

func (a *API) requestUserID(r *http.Request) string {
	if claims, ok := UserFromContext(r.Context()); ok {
		return claims.UserID
	}
	return r.URL.Query().Get("user_id")
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
