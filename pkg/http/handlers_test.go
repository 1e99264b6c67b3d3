package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salescoach-server/pkg/auth"
	"salescoach-server/pkg/config"
	"salescoach-server/pkg/database"
	"salescoach-server/pkg/search"
	"salescoach-server/pkg/session"
)

type fakeStore struct {
	users     map[string]*database.User
	prospects map[string]*database.Prospect
	products  map[string]*database.Product
	calls     map[string]*database.Call
	summaries map[string]*database.CallSummaryRecord

	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]*database.User),
		prospects: make(map[string]*database.Prospect),
		products:  make(map[string]*database.Product),
		calls:     make(map[string]*database.Call),
		summaries: make(map[string]*database.CallSummaryRecord),
	}
}

func (f *fakeStore) CreateUser(ctx context.Context, user *database.User) error {
	if f.failNext != nil {
		return f.takeErr()
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return fmt.Errorf("Duplicate entry '%s'", user.Email)
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*database.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*database.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user not found: %s", email)
}

func (f *fakeStore) TouchUserLogin(ctx context.Context, id string) error { return nil }

func (f *fakeStore) CreateProspect(ctx context.Context, p *database.Prospect) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	f.prospects[p.ID] = p
	return nil
}

func (f *fakeStore) GetProspect(ctx context.Context, id string) (*database.Prospect, error) {
	p, ok := f.prospects[id]
	if !ok {
		return nil, fmt.Errorf("prospect not found: %s", id)
	}
	return p, nil
}

func (f *fakeStore) ListProspects(ctx context.Context, userID string, limit, offset int) ([]*database.Prospect, error) {
	var out []*database.Prospect
	for _, p := range f.prospects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateProspect(ctx context.Context, p *database.Prospect) error {
	f.prospects[p.ID] = p
	return nil
}

func (f *fakeStore) DeleteProspect(ctx context.Context, id string) error {
	delete(f.prospects, id)
	return nil
}

func (f *fakeStore) CreateProduct(ctx context.Context, p *database.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	f.products[p.ID] = p
	return nil
}

func (f *fakeStore) GetProduct(ctx context.Context, id string) (*database.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, fmt.Errorf("product not found: %s", id)
	}
	return p, nil
}

func (f *fakeStore) ListProducts(ctx context.Context, limit, offset int) ([]*database.Product, error) {
	var out []*database.Product
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) UpdateProduct(ctx context.Context, p *database.Product) error {
	f.products[p.ID] = p
	return nil
}

func (f *fakeStore) DeleteProduct(ctx context.Context, id string) error {
	delete(f.products, id)
	return nil
}

func (f *fakeStore) CreateCall(ctx context.Context, call *database.Call) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.Status == "" {
		call.Status = "scheduled"
	}
	f.calls[call.ID] = call
	return nil
}

func (f *fakeStore) GetCall(ctx context.Context, id string) (*database.Call, error) {
	c, ok := f.calls[id]
	if !ok {
		return nil, fmt.Errorf("call not found: %s", id)
	}
	return c, nil
}

func (f *fakeStore) ListCalls(ctx context.Context, userID string, status string, limit, offset int) ([]*database.Call, error) {
	var out []*database.Call
	for _, c := range f.calls {
		if c.UserID != userID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) UpdateCallOutcome(ctx context.Context, id string, outcome, notes string, nextSteps []string, followUp *time.Time) error {
	c, ok := f.calls[id]
	if !ok {
		return fmt.Errorf("call not found: %s", id)
	}
	c.Outcome = &outcome
	return nil
}

func (f *fakeStore) GetTranscript(ctx context.Context, callID string) (*database.Transcript, error) {
	return nil, fmt.Errorf("transcript not found: %s", callID)
}

func (f *fakeStore) ListSuggestions(ctx context.Context, callID string) ([]*database.SuggestionRecord, error) {
	return nil, nil
}

func (f *fakeStore) GetCallSummary(ctx context.Context, callID string) (*database.CallSummaryRecord, error) {
	s, ok := f.summaries[callID]
	if !ok {
		return nil, fmt.Errorf("summary not found: %s", callID)
	}
	return s, nil
}

func (f *fakeStore) GetCallAnalytics(ctx context.Context, callID string) (*database.CallAnalyticsRecord, error) {
	return nil, fmt.Errorf("analytics not found: %s", callID)
}

func (f *fakeStore) takeErr() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func newTestAPI(t *testing.T, store *fakeStore, knowledge search.Store) *httptest.Server {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	authenticator := auth.NewAuthenticator(config.AuthConfig{
		JWTSecret: "test-secret",
		Issuer:    "salescoach-test",
	}, store, logger)

	api := NewAPI(APIOptions{
		Logger:        logger,
		Store:         store,
		Authenticator: authenticator,
		Knowledge:     knowledge,
	})

	server := NewServer(logger, config.HTTPConfig{Port: 0}, session.NewRegistry(4))
	api.Register(server)

	ts := httptest.NewServer(server.mux)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRegisterAndLogin(t *testing.T) {
	store := newFakeStore()
	ts := newTestAPI(t, store, nil)

	resp := postJSON(t, ts.URL+"/api/auth/register", map[string]string{
		"email":     "rep@example.com",
		"password":  "s3cure-pass",
		"full_name": "Jordan Reyes",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created database.User
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "rep@example.com", created.Email)
	assert.Empty(t, created.PasswordHash, "password hash must not leak in responses")

	resp = postJSON(t, ts.URL+"/api/auth/login", map[string]string{
		"email":    "rep@example.com",
		"password": "s3cure-pass",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login struct {
		Token string         `json:"token"`
		User  *database.User `json:"user"`
	}
	decodeBody(t, resp, &login)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, created.ID, login.User.ID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := newFakeStore()
	ts := newTestAPI(t, store, nil)

	body := map[string]string{
		"email":     "dup@example.com",
		"password":  "pass-word",
		"full_name": "Dup User",
	}
	resp := postJSON(t, ts.URL+"/api/auth/register", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/auth/register", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginWrongPassword(t *testing.T) {
	store := newFakeStore()
	ts := newTestAPI(t, store, nil)

	resp := postJSON(t, ts.URL+"/api/auth/register", map[string]string{
		"email":     "rep@example.com",
		"password":  "right-pass",
		"full_name": "Jordan Reyes",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/auth/login", map[string]string{
		"email":    "rep@example.com",
		"password": "wrong-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestProspectCRUD(t *testing.T) {
	store := newFakeStore()
	ts := newTestAPI(t, store, nil)

	resp := postJSON(t, ts.URL+"/api/prospects?user_id=u1", map[string]interface{}{
		"first_name":  "Avery",
		"last_name":   "Chen",
		"company":     "Initech",
		"pain_points": []string{"manual reporting"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created database.Prospect
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.UserID)

	resp, err := http.Get(ts.URL + "/api/prospects?user_id=u1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Prospects []*database.Prospect `json:"prospects"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Prospects, 1)
	assert.Equal(t, created.ID, listed.Prospects[0].ID)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/prospects/"+created.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/prospects/" + created.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestProductCreateIndexesKnowledge(t *testing.T) {
	store := newFakeStore()
	knowledge := search.NewMemoryStore()
	ts := newTestAPI(t, store, knowledge)

	desc := "Workflow automation platform for revenue teams"
	resp := postJSON(t, ts.URL+"/api/products", map[string]interface{}{
		"name":         "FlowDesk",
		"description":  desc,
		"key_features": []string{"pipeline automation", "email sequencing"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created database.Product
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	hits, err := knowledge.Search(context.Background(), "products", "workflow automation", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestProductDeleteRemovesFromKnowledge(t *testing.T) {
	store := newFakeStore()
	knowledge := search.NewMemoryStore()
	ts := newTestAPI(t, store, knowledge)

	resp := postJSON(t, ts.URL+"/api/products", map[string]interface{}{
		"name":        "FlowDesk",
		"description": "Workflow automation platform",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created database.Product
	decodeBody(t, resp, &created)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/products/"+created.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	hits, err := knowledge.Search(context.Background(), "products", "workflow automation", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAddObjection(t *testing.T) {
	store := newFakeStore()
	knowledge := search.NewMemoryStore()
	ts := newTestAPI(t, store, knowledge)

	resp := postJSON(t, ts.URL+"/api/knowledge/objections", map[string]string{
		"objection": "Your pricing is too high for our budget",
		"response":  "Focus on cost of the manual process it replaces",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	hits, err := knowledge.Search(context.Background(), "objections", "pricing budget", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestAddObjectionWithoutKnowledgeStore(t *testing.T) {
	store := newFakeStore()
	ts := newTestAPI(t, store, nil)

	resp := postJSON(t, ts.URL+"/api/knowledge/objections", map[string]string{
		"objection": "too expensive",
		"response":  "value framing",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestCallLifecycleEndpoints(t *testing.T) {
	store := newFakeStore()
	ts := newTestAPI(t, store, nil)

	resp := postJSON(t, ts.URL+"/api/calls?user_id=u1", map[string]interface{}{
		"prospect_id": "p1",
		"call_type":   "discovery",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created database.Call
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "scheduled", created.Status)

	resp, err := http.Get(ts.URL + "/api/calls?user_id=u1&status=scheduled")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Calls []*database.Call `json:"calls"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Calls, 1)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/calls/"+created.ID+"/outcome",
		bytes.NewReader([]byte(`{"outcome":"interested","next_steps":["send proposal"]}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.NotNil(t, store.calls[created.ID].Outcome)
	assert.Equal(t, "interested", *store.calls[created.ID].Outcome)
}

func TestCallSummaryNotFound(t *testing.T) {
	store := newFakeStore()
	ts := newTestAPI(t, store, nil)

	resp, err := http.Get(ts.URL + "/api/calls/missing/summary")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestFollowUpEmailMissingSummary(t *testing.T) {
	store := newFakeStore()
	ts := newTestAPI(t, store, nil)

	resp := postJSON(t, ts.URL+"/api/calls/missing/follow-up-email", map[string]string{
		"prospect_name":    "Avery Chen",
		"salesperson_name": "Jordan Reyes",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
