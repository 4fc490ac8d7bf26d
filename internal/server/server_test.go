package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	authz "github.com/mj-trademark/portal/internal/auth"
	caseinfra "github.com/mj-trademark/portal/internal/case/infrastructure"
	"github.com/mj-trademark/portal/internal/identity"
	"github.com/mj-trademark/portal/internal/message"
	"github.com/mj-trademark/portal/internal/shared/config"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/events"
)

const password = "Correct-Horse-9"

type testServer struct {
	t       *testing.T
	handler http.Handler
	svc     *identity.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := events.NewMemoryStore()
	svc := identity.NewService(
		identity.NewSQLiteRepository(db),
		authz.NewPasswordHasher(bcrypt.MinCost),
		authz.NewTokenIssuer("test-secret-at-least-16", "portal-test"),
		authz.DefaultSessionConfig(),
		events.NewEmitter(store),
	)

	cfg := &config.Config{
		Server:  config.ServerConfig{Env: "test"},
		Auth:    config.AuthConfig{CookieName: "mj_session"},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		Pricing: config.PricingConfig{AttorneyConsultationFee: 33000},
	}

	handler := NewRouter(Deps{
		Config:   cfg,
		Logger:   zerolog.Nop(),
		Identity: svc,
		Cases:    caseinfra.NewSQLiteRepository(db),
		Messages: message.NewSQLiteRepository(db),
		Events:   store,
		Database: db.PingContext,
	})
	return &testServer{t: t, handler: handler, svc: svc}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (s *testServer) raw(token, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(s.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) do(token, method, path string, body any) (int, envelope) {
	s.t.Helper()
	rec := s.raw(token, method, path, body)
	var env envelope
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (s *testServer) signUp(name, email string) (token, userID string) {
	s.t.Helper()
	status, env := s.do("", http.MethodPost, "/api/auth/sign-up", map[string]any{
		"name": name, "email": email, "password": password,
	})
	require.Equal(s.t, http.StatusCreated, status, env.Message)
	view := decode[identity.AuthView](s.t, env.Data)
	return view.Session.Token, view.User.ID
}

func (s *testServer) signIn(email string) string {
	s.t.Helper()
	status, env := s.do("", http.MethodPost, "/api/auth/sign-in", map[string]any{
		"email": email, "password": password,
	})
	require.Equal(s.t, http.StatusOK, status, env.Message)
	return decode[identity.AuthView](s.t, env.Data).Session.Token
}

// adminToken seeds the first ADMIN, which has no public sign-up path.
func (s *testServer) adminToken() string {
	s.t.Helper()
	_, _, err := s.svc.CreateStaff(context.Background(), authz.AdminPrincipal{}, identity.NewStaff{
		Name: "Admin", Email: "admin@example.com", Password: password, Role: authz.RoleAdmin,
	})
	require.NoError(s.t, err)
	return s.signIn("admin@example.com")
}

func (s *testServer) createCase(token, title string) (id, caseNumber string) {
	s.t.Helper()
	status, env := s.do(token, http.MethodPost, "/api/cases", map[string]any{
		"title": title, "trademarkType": "TEXT", "applicant": "株式会社エムジェイ", "classes": []string{"9", "42"},
	})
	require.Equal(s.t, http.StatusCreated, status, env.Message)
	var created struct {
		ID         string `json:"id"`
		CaseNumber string `json:"caseNumber"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &created))
	return created.ID, created.CaseNumber
}

func (s *testServer) staff(token string) identity.StaffList {
	s.t.Helper()
	status, env := s.do(token, http.MethodGet, "/api/admin/staff", nil)
	require.Equal(s.t, http.StatusOK, status)
	return decode[identity.StaffList](s.t, env.Data)
}

func findStaff(list identity.StaffList, userID string) *identity.StaffEntry {
	for i := range list.Users {
		if list.Users[i].ID.String() == userID {
			return &list.Users[i]
		}
	}
	return nil
}

func TestClientCaseLifecycle(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp("山田 太郎", "yamada@example.com")

	id, caseNumber := s.createCase(token, "MJ Mark")
	assert.Equal(t, "MJ00010001", caseNumber)

	status, env := s.do(token, http.MethodPatch, "/api/cases/"+id, map[string]any{
		"status":            "PRELIMINARY_RESEARCH_IN_PROGRESS",
		"consultationRoute": "ATTORNEY_CONSULTATION",
	})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, env = s.do(token, http.MethodGet, "/api/cases/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	var detail struct {
		Status            string  `json:"status"`
		ConsultationRoute *string `json:"consultationRoute"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, "PRELIMINARY_RESEARCH_IN_PROGRESS", detail.Status)
	require.NotNil(t, detail.ConsultationRoute)
	assert.Equal(t, "ATTORNEY_CONSULTATION", *detail.ConsultationRoute)

	status, _ = s.do(token, http.MethodPatch, "/api/cases/"+id, map[string]any{"status": "NOT_A_REAL_STATUS"})
	assert.Equal(t, http.StatusBadRequest, status)

	_, env = s.do(token, http.MethodGet, "/api/cases/"+id, nil)
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, "PRELIMINARY_RESEARCH_IN_PROGRESS", detail.Status)
}

func TestAttorneyMessagingAfterAssignment(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken()
	client, _ := s.signUp("Client", "client@example.com")
	caseID, _ := s.createCase(client, "MJ Mark")

	status, env := s.do(client, http.MethodPost, "/api/messages/"+caseID, map[string]any{"content": "ご相談です"})
	require.Equal(t, http.StatusCreated, status, env.Message)

	status, env = s.do(admin, http.MethodPost, "/api/admin/staff", map[string]any{
		"name": "Sato", "email": "sato@example.com", "password": password, "role": "ATTORNEY",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	lawyerID := decode[identity.CreatedStaff](t, env.Data).ID
	lawyer := s.signIn("sato@example.com")

	status, _ = s.do(lawyer, http.MethodGet, "/api/messages/"+caseID, nil)
	assert.Equal(t, http.StatusForbidden, status)

	entry := findStaff(s.staff(admin), lawyerID)
	require.NotNil(t, entry)
	require.NotNil(t, entry.AttorneyID)

	status, env = s.do(admin, http.MethodPatch, "/api/admin/cases/"+caseID, map[string]any{
		"assignedAttorneyId": *entry.AttorneyID,
	})
	require.Equal(t, http.StatusOK, status, env.Message)

	status, _ = s.do(lawyer, http.MethodGet, "/api/messages/"+caseID, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(lawyer, http.MethodGet, "/api/messages/"+caseID, nil)
	require.Equal(t, http.StatusOK, status)
	conv := decode[message.Conversation](t, env.Data)
	require.Len(t, conv.Messages, 1)
	assert.True(t, conv.Messages[0].IsRead)

	status, env = s.do(lawyer, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, status)
	inbox := decode[message.Inbox](t, env.Data)
	require.Len(t, inbox.Communications, 1)
	assert.Zero(t, inbox.TotalUnread)
}

func TestAdminPromotesClientToAttorney(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken()
	clientToken, clientID := s.signUp("Client", "client@example.com")

	for i := 0; i < 2; i++ {
		status, env := s.do(admin, http.MethodPatch, "/api/admin/staff", map[string]any{
			"userId": clientID, "role": "ATTORNEY",
		})
		require.Equal(t, http.StatusOK, status, env.Message)
	}

	entry := findStaff(s.staff(admin), clientID)
	require.NotNil(t, entry)
	assert.Equal(t, authz.RoleAttorney, entry.Role)
	assert.NotNil(t, entry.AttorneyID)
	assert.Nil(t, entry.InternalStaffID)

	// the promoted user now reaches the admin area
	status, _ := s.do(clientToken, http.MethodGet, "/api/admin/cases", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSessionCookieRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := s.raw("", http.MethodPost, "/api/auth/sign-up", map[string]any{
		"name": "Client", "email": "client@example.com", "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(cookies[0])
	res := httptest.NewRecorder()
	s.handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.raw("", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = s.raw("", http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ready", ready.Checks["database"])
	assert.Equal(t, "ready", ready.Checks["events"])

	rec = s.raw("", http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = s.raw("", http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestTrademarkCatalogIsPublic(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do("", http.MethodGet, "/api/trademark/pricing", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"attorneyConsultationFee":33000,"currency":"JPY"}`, string(env.Data))

	status, env = s.do("", http.MethodGet, "/api/trademark/statuses", nil)
	require.Equal(t, http.StatusOK, status)
	var statuses []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &statuses))
	assert.Len(t, statuses, 17)
	assert.Equal(t, "DRAFT", statuses[0]["value"])
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	s := newTestServer(t)
	s.handler = NewRouter(Deps{
		Config:   &config.Config{Auth: config.AuthConfig{CookieName: "mj_session"}},
		Logger:   zerolog.Nop(),
		Identity: s.svc,
		Events:   events.NewMemoryStore(),
		Database: func(context.Context) error { return context.DeadlineExceeded },
	})

	rec := s.raw("", http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not ready"`)
}
