package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/case/infrastructure"
	"github.com/mj-trademark/portal/internal/shared/auth"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/events"
	"github.com/mj-trademark/portal/internal/shared/types"
)

type fixture struct {
	t      *testing.T
	db     *sql.DB
	repo   *infrastructure.SQLiteRepository
	store  *events.MemoryStore
	router chi.Router
	known  profiles
	seq    int
}

type profiles map[types.ID]string

func (p profiles) AttorneyExists(ctx context.Context, id types.ID) (bool, error) {
	return p[id] == "attorney", nil
}

func (p profiles) InternalStaffExists(ctx context.Context, id types.ID) (bool, error) {
	return p[id] == "staff", nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := infrastructure.NewSQLiteRepository(db)
	store := events.NewMemoryStore()
	emitter := events.NewEmitter(store)
	known := profiles{}

	r := chi.NewRouter()
	r.Mount("/api/cases", NewHandler(repo, emitter).Routes())
	r.Mount("/api/admin/cases", NewAdminHandler(repo, known, store, emitter).Routes())

	return &fixture{t: t, db: db, repo: repo, store: store, router: r, known: known}
}

// client inserts a CLIENT user with a client profile.
func (f *fixture) client() *authz.Identity {
	f.t.Helper()
	f.seq++
	now := database.ToNanos(time.Now())
	userID := types.NewID()

	_, err := f.db.Exec(`INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		VALUES (?, 'Client', ?, 'x', 'CLIENT', ?, ?)`, userID.String(), fmt.Sprintf("c%d@example.com", f.seq), now, now)
	require.NoError(f.t, err)
	_, err = f.db.Exec(`INSERT INTO clients (id, user_id, sequence_number, customer_number, created_at)
		VALUES (?, ?, ?, ?, ?)`, types.NewID().String(), userID.String(), f.seq, fmt.Sprintf("MJ%04d", f.seq), now)
	require.NoError(f.t, err)

	return &authz.Identity{SessionID: types.NewID(), Principal: authz.ClientPrincipal{User: userID}}
}

// attorney inserts an ATTORNEY user with a profile and returns the identity.
func (f *fixture) attorney() *authz.Identity {
	f.t.Helper()
	f.seq++
	now := database.ToNanos(time.Now())
	userID, profileID := types.NewID(), types.NewID()

	_, err := f.db.Exec(`INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		VALUES (?, 'Attorney', ?, 'x', 'ATTORNEY', ?, ?)`, userID.String(), fmt.Sprintf("a%d@example.com", f.seq), now, now)
	require.NoError(f.t, err)
	_, err = f.db.Exec(`INSERT INTO attorneys (id, user_id, created_at) VALUES (?, ?, ?)`,
		profileID.String(), userID.String(), now)
	require.NoError(f.t, err)
	f.known[profileID] = "attorney"

	return &authz.Identity{SessionID: types.NewID(), Principal: authz.AttorneyPrincipal{User: userID, Profile: profileID}}
}

func admin() *authz.Identity {
	return &authz.Identity{SessionID: types.NewID(), Principal: authz.AdminPrincipal{User: types.NewID()}}
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

func (f *fixture) do(identity *authz.Identity, method, path string, body any) (int, envelope) {
	f.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (f *fixture) createCase(identity *authz.Identity, title string, classes ...string) CreatedCase {
	f.t.Helper()
	status, env := f.do(identity, http.MethodPost, "/api/cases", map[string]any{
		"title":         title,
		"trademarkType": "TEXT",
		"applicant":     "Acme",
		"classes":       classes,
	})
	require.Equal(f.t, http.StatusCreated, status, env.Error)
	return decode[CreatedCase](f.t, env.Data)
}

func TestCreateCase(t *testing.T) {
	f := newFixture(t)
	owner := f.client()

	created := f.createCase(owner, "MJ Mark", "9", "42")
	assert.Equal(t, "MJ00010001", created.CaseNumber)
	assert.Equal(t, "MJ Mark", created.Title)

	second := f.createCase(owner, "Second", "9")
	assert.Equal(t, "MJ00010002", second.CaseNumber)

	evts, err := f.store.Read(context.Background(), events.AggregateCase, types.ID(created.ID), 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.CaseCreated, evts[0].Type)
}

func TestCreateCaseValidation(t *testing.T) {
	f := newFixture(t)
	owner := f.client()

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"malformed json", `{"title":`, msgInvalidJSON},
		{"missing title", map[string]any{"trademarkType": "TEXT", "applicant": "A", "classes": []string{"9"}}, msgMissingRequired},
		{"blank applicant", map[string]any{"title": "T", "trademarkType": "TEXT", "applicant": " ", "classes": []string{"9"}}, msgMissingRequired},
		{"no classes", map[string]any{"title": "T", "trademarkType": "TEXT", "applicant": "A", "classes": []string{}}, msgNoClasses},
		{"bad type", map[string]any{"title": "T", "trademarkType": "SOUND", "applicant": "A", "classes": []string{"9"}}, ""},
		{"bad class", map[string]any{"title": "T", "trademarkType": "TEXT", "applicant": "A", "classes": []string{"46"}}, ""},
		{"bad route", map[string]any{"title": "T", "trademarkType": "TEXT", "applicant": "A", "classes": []string{"9"}, "consultationRoute": "PHONE"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := f.do(owner, http.MethodPost, "/api/cases", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.False(t, env.Success)
			if tt.message != "" {
				assert.Equal(t, tt.message, env.Error.Message)
			}
		})
	}
}

func TestCreateCaseRequiresClientProfile(t *testing.T) {
	f := newFixture(t)

	status, env := f.do(admin(), http.MethodPost, "/api/cases", map[string]any{
		"title": "T", "trademarkType": "TEXT", "applicant": "A", "classes": []string{"9"},
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, msgNoClientProfile, env.Error.Message)
}

func TestCasesRequireSession(t *testing.T) {
	f := newFixture(t)

	status, env := f.do(nil, http.MethodGet, "/api/cases", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, msgLoginRequired, env.Error.Message)
}

func TestListOwnCases(t *testing.T) {
	f := newFixture(t)
	owner, other := f.client(), f.client()

	f.createCase(owner, "Coffee", "30")
	f.createCase(owner, "Software", "9", "42")
	f.createCase(other, "Not mine", "9")

	status, env := f.do(owner, http.MethodGet, "/api/cases?sortBy=title&sortOrder=asc", nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[CaseList](t, env.Data)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "Coffee", list.Cases[0].Title)
	assert.Equal(t, "下書き", list.Cases[0].StatusLabel)

	status, env = f.do(owner, http.MethodGet, "/api/cases?classes=42,09", nil)
	require.Equal(t, http.StatusOK, status)
	list = decode[CaseList](t, env.Data)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Software", list.Cases[0].Title)

	status, env = f.do(owner, http.MethodGet, "/api/cases?q=mj0001", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, decode[CaseList](t, env.Data).Total)
}

func TestGetCaseAccess(t *testing.T) {
	f := newFixture(t)
	owner, stranger := f.client(), f.client()
	created := f.createCase(owner, "Mine", "9")

	status, env := f.do(owner, http.MethodGet, "/api/cases/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	detail := decode[ClientCaseDetail](t, env.Data)
	assert.Equal(t, domain.StatusDraft, detail.Status)
	assert.Nil(t, detail.ConsultationRoute)
	require.Len(t, detail.Progress, domain.ProgressStages)
	assert.Equal(t, domain.StepCurrent, detail.Progress[0].State)

	status, env = f.do(stranger, http.MethodGet, "/api/cases/"+created.ID, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, msgNoReadAccess, env.Error.Message)

	status, _ = f.do(admin(), http.MethodGet, "/api/cases/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = f.do(owner, http.MethodGet, "/api/cases/"+types.NewID().String(), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, msgCaseNotFound, env.Error.Message)

	status, _ = f.do(owner, http.MethodGet, "/api/cases/not-an-id", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUpdateCaseStatusAndRoute(t *testing.T) {
	f := newFixture(t)
	owner := f.client()
	created := f.createCase(owner, "Mine", "9")

	status, env := f.do(owner, http.MethodPatch, "/api/cases/"+created.ID, map[string]any{
		"status":            "PRELIMINARY_RESEARCH_IN_PROGRESS",
		"consultationRoute": "ATTORNEY_CONSULTATION",
		"clientIntake":      map[string]any{"budget": 100000},
	})
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, msgCaseUpdated, env.Message)

	status, env = f.do(owner, http.MethodGet, "/api/cases/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	detail := decode[ClientCaseDetail](t, env.Data)
	assert.Equal(t, domain.StatusPreliminaryResearchInProgress, detail.Status)
	require.NotNil(t, detail.ConsultationRoute)
	assert.Equal(t, "ATTORNEY_CONSULTATION", *detail.ConsultationRoute)
	assert.Equal(t, domain.StepCompleted, detail.Progress[0].State)
	assert.Equal(t, domain.StepCurrent, detail.Progress[1].State)

	evts, err := f.store.Read(context.Background(), events.AggregateCase, types.ID(created.ID), 10)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, events.CaseStatusChanged, evts[0].Type)

	// null clears the route
	status, env = f.do(owner, http.MethodPatch, "/api/cases/"+created.ID, `{"consultationRoute":null}`)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, decode[UpdatedCase](t, env.Data).ConsultationRoute)
}

func TestUpdateCaseRejectsUnknownStatusAtomically(t *testing.T) {
	f := newFixture(t)
	owner := f.client()
	created := f.createCase(owner, "Mine", "9")

	status, env := f.do(owner, http.MethodPatch, "/api/cases/"+created.ID, map[string]any{
		"status":    "NOT_A_REAL_STATUS",
		"applicant": "Changed",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, msgInvalidStatus, env.Error.Message)
	assert.Equal(t, "INVALID_STATUS", env.Error.Code)

	c, err := f.repo.FindByID(context.Background(), types.ID(created.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, c.Status)
	assert.Equal(t, "Acme", c.Applicant)

	status, _ = f.do(owner, http.MethodPatch, "/api/cases/"+created.ID, map[string]any{"consultationRoute": "PHONE"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpdateCaseForbiddenForOtherClient(t *testing.T) {
	f := newFixture(t)
	owner, stranger := f.client(), f.client()
	created := f.createCase(owner, "Mine", "9")

	status, env := f.do(stranger, http.MethodPatch, "/api/cases/"+created.ID, map[string]any{"status": "ABANDONED"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, msgNoUpdateAccess, env.Error.Message)
}
