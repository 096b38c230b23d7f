package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mockprep/interview-server/internal/auth"
	"github.com/mockprep/interview-server/internal/core"
	"github.com/mockprep/interview-server/internal/llm"
	"github.com/mockprep/interview-server/internal/store"
	"github.com/mockprep/interview-server/internal/stream"
)

type testEnv struct {
	router http.Handler
	mock   *llm.MockProvider
	store  *store.SQLStore
}

func newTestEnv(t *testing.T, gateway func(*llm.MockProvider) *core.Gateway) *testEnv {
	t.Helper()
	db, err := store.NewSQLStore(store.DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock := llm.NewMockProvider()
	mock.Questions = 1
	g := core.NewGateway(mock, nil)
	if gateway != nil {
		g = gateway(mock)
	}

	hub := stream.NewHub()
	deps := core.Deps{Gateway: g, Store: db, Events: hub}
	feedback := core.NewFeedbackService(g, db, hub)
	manager := core.NewSessionManager(deps, feedback, 0)
	t.Cleanup(manager.Shutdown)

	h := NewAPIHandler(Services{
		Users:      db,
		JWT:        auth.NewJWTManager("test-secret", time.Hour),
		BcryptCost: bcrypt.MinCost,
		Manager:    manager,
		Chat:       core.NewChatService(deps, feedback, manager),
		History:    core.NewHistoryService(db, manager),
		Events:     stream.NewServer(hub),
	})
	return &testEnv{router: NewRouter(h), mock: mock, store: db}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"user_id": username, "password": "hunter2"}
	rr := e.do(t, http.MethodPost, "/api/signup", "", creds)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = e.do(t, http.MethodPost, "/api/login", "", creds)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[map[string]string](t, rr)["token"]
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/roles", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	roles := decode[map[string][]core.RoleOption](t, rr)["roles"]
	require.Len(t, roles, 5)
	assert.Equal(t, store.RoleDirectorPharmacyAnalytics, roles[0].ID)
}

func TestSignupAndLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")
	assert.NotEmpty(t, token)

	rr := env.do(t, http.MethodPost, "/api/signup", "", map[string]string{"user_id": "alice", "password": "other"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"user_id": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/signup", "", map[string]string{"user_id": "", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/sessions", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Optional auth still rejects a bad token.
	rr = env.do(t, http.MethodPost, "/api/interviews", "not-a-token", map[string]string{"roleType": "general"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAnonymousInterview(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/interviews", "", map[string]string{"roleType": "general"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	started := decode[startInterviewResponse](t, rr)
	assert.Equal(t, store.StatusActive, started.Status)
	assert.Len(t, started.Messages, 1)

	rr = env.do(t, http.MethodPost, "/api/interviews/"+started.SessionID+"/turns", "", map[string]string{"content": "I led a team of 4 engineers."})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	turn := decode[core.TurnResult](t, rr)
	assert.True(t, turn.IsComplete)
	assert.NotContains(t, turn.Message.Content, core.CompletionMarker)

	rr = env.do(t, http.MethodPost, "/api/interviews/"+started.SessionID+"/turns", "", map[string]string{"content": "One more thing"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/interviews/"+started.SessionID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decode[interviewResponse](t, rr)
	assert.Equal(t, core.StateCompleted, view.State)
	assert.Len(t, view.Messages, 3)
	assert.NotNil(t, view.Session.EndedAt)
}

func TestStartInterviewRejectsUnknownRole(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/api/interviews", "", map[string]string{"roleType": "astronaut"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[errorResponse](t, rr)
	assert.Contains(t, body.Fields, "roleType")
}

func TestPersistedInterviewLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")
	other := env.login(t, "bob")

	rr := env.do(t, http.MethodPost, "/api/interviews", token, map[string]string{"roleType": "data-analyst", "jobDescription": "BI team"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decode[startInterviewResponse](t, rr).SessionID

	// Someone else's interview does not exist for them.
	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/turns", other, map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/turns", token, map[string]string{"content": "I build dashboards."})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[core.TurnResult](t, rr).IsComplete)

	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/feedback", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(7), decode[store.Feedback](t, rr).OverallScore)

	rr = env.do(t, http.MethodGet, "/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	sessions := decode[map[string][]store.SessionSummary](t, rr)["sessions"]
	require.Len(t, sessions, 1)
	assert.Equal(t, 3, sessions[0].MessageCount)
	require.NotNil(t, sessions[0].OverallScore)
	assert.Equal(t, float64(7), *sessions[0].OverallScore)

	rr = env.do(t, http.MethodGet, "/api/sessions/"+id, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	details := decode[map[string]store.SessionDetails](t, rr)["session"]
	assert.Equal(t, store.StatusCompleted, details.Status)
	assert.NotNil(t, details.EndedAt)
	assert.Len(t, details.Messages, 3)
	require.NotNil(t, details.Feedback)

	rr = env.do(t, http.MethodGet, "/api/sessions/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateSessionStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mock.Questions = 5
	token := env.login(t, "alice")

	rr := env.do(t, http.MethodPost, "/api/interviews", token, map[string]string{"roleType": "general"})
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[startInterviewResponse](t, rr).SessionID

	rr = env.do(t, http.MethodPatch, "/api/sessions/"+id, token, map[string]string{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPatch, "/api/sessions/"+id, token, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	session := decode[map[string]store.Session](t, rr)["session"]
	assert.Equal(t, store.StatusCompleted, session.Status)
	assert.NotNil(t, session.EndedAt)

	// The live interview follows the stored status.
	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/turns", token, map[string]string{"content": "hello?"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPatch, "/api/sessions/"+id, token, map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, rr.Code)
	session = decode[map[string]store.Session](t, rr)["session"]
	assert.Equal(t, store.StatusActive, session.Status)
	assert.Nil(t, session.EndedAt)

	rr = env.do(t, http.MethodPatch, "/api/sessions/does-not-exist", token, map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSelfPlayRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mock.Questions = 2

	rr := env.do(t, http.MethodPost, "/api/interviews", "", map[string]string{"roleType": "software-engineer"})
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[startInterviewResponse](t, rr).SessionID

	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/selfplay", "", nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool {
		rr := env.do(t, http.MethodGet, "/api/interviews/"+id+"/selfplay", "", nil)
		return rr.Code == http.StatusOK && !decode[core.SelfPlayStatus](t, rr).Running
	}, 5*time.Second, 10*time.Millisecond)

	rr = env.do(t, http.MethodGet, "/api/interviews/"+id+"/selfplay", "", nil)
	assert.Equal(t, 2, decode[core.SelfPlayStatus](t, rr).Turns)

	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/selfplay", "", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/interviews/"+id+"/selfplay", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/interviews/unknown/selfplay", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatelessEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/chat", "", map[string]any{"messages": []any{}, "config": map[string]string{"roleType": "general"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	chat := decode[chatResponse](t, rr)
	assert.NotEmpty(t, chat.Message)
	assert.False(t, chat.IsComplete)

	rr = env.do(t, http.MethodPost, "/api/demo-response", "", map[string]any{"messages": []any{}, "config": map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "No interviewer question to respond to", decode[errorResponse](t, rr).Error)

	rr = env.do(t, http.MethodPost, "/api/demo-response", "", map[string]any{
		"messages": []map[string]string{{"role": "assistant", "content": "Why us?"}},
		"config":   map[string]string{"roleType": "product-manager"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rr)["response"])

	rr = env.do(t, http.MethodPost, "/api/feedback", "", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/feedback", "", map[string]any{
		"messages": []map[string]string{{"role": "assistant", "content": "Q"}, {"role": "user", "content": "A"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(7), decode[store.Feedback](t, rr).OverallScore)
}

func TestMissingProviderConfiguration(t *testing.T) {
	env := newTestEnv(t, func(*llm.MockProvider) *core.Gateway { return core.NewGateway(nil, llm.ErrConfiguration) })

	rr := env.do(t, http.MethodPost, "/api/chat", "", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "LLM provider configuration is missing", decode[errorResponse](t, rr).Error)

	rr = env.do(t, http.MethodPost, "/api/feedback", "", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "A"}},
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
