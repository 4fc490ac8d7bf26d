package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/types"
	"github.com/mj-trademark/portal/internal/trademark"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedClient(t *testing.T, db *sql.DB, email string, seq int) types.ID {
	t.Helper()
	ctx := context.Background()
	now := database.ToNanos(time.Now())
	userID := types.NewID()

	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		 VALUES (?, 'Client', ?, 'x', 'CLIENT', ?, ?)`,
		userID.String(), email, now, now)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		`INSERT INTO clients (id, user_id, sequence_number, customer_number, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		types.NewID().String(), userID.String(), seq, fmt.Sprintf("MJ%04d", seq), now)
	require.NoError(t, err)
	return userID
}

func seedAttorney(t *testing.T, db *sql.DB, email string) types.ID {
	t.Helper()
	ctx := context.Background()
	now := database.ToNanos(time.Now())
	userID, profileID := types.NewID(), types.NewID()

	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		 VALUES (?, 'Attorney', ?, 'x', 'ATTORNEY', ?, ?)`,
		userID.String(), email, now, now)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO attorneys (id, user_id, created_at) VALUES (?, ?, ?)`,
		profileID.String(), userID.String(), now)
	require.NoError(t, err)
	return profileID
}

func newTestCase(t *testing.T, owner types.ID, title, applicant string, classes ...string) *domain.Case {
	t.Helper()
	c, err := domain.NewCase(domain.NewCaseParams{
		OwnerID:       owner,
		Title:         title,
		TrademarkType: "TEXT",
		Applicant:     applicant,
		Classes:       classes,
	}, time.Now().UTC())
	require.NoError(t, err)
	return c
}

func TestSQLiteCreateAllocatesSequentialNumbers(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	owner := seedClient(t, db, "a@example.com", 1)
	other := seedClient(t, db, "b@example.com", 2)

	for i, want := range []string{"MJ00010001", "MJ00010002", "MJ00010003"} {
		c := newTestCase(t, owner, "Mark", "Acme", "9")
		require.NoError(t, repo.Create(ctx, c))
		assert.Equal(t, i+1, c.SequenceNumber)
		assert.Equal(t, want, c.CaseNumber)
	}

	c := newTestCase(t, other, "Other", "Beta", "42")
	require.NoError(t, repo.Create(ctx, c))
	assert.Equal(t, 1, c.SequenceNumber)
	assert.Equal(t, "MJ00020001", c.CaseNumber)
}

func TestSQLiteCreateWithoutClientProfile(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db)

	c := newTestCase(t, types.NewID(), "Mark", "Acme", "9")
	err := repo.Create(context.Background(), c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSQLiteRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	owner := seedClient(t, db, "a@example.com", 1)
	attorney := seedAttorney(t, db, "lawyer@example.com")

	c, err := domain.NewCase(domain.NewCaseParams{
		OwnerID:           owner,
		Title:             "MJ Mark",
		TrademarkType:     "LOGO",
		Applicant:         "Acme",
		Classes:           []string{"9", "42"},
		TrademarkDetails:  json.RawMessage(`{"reading":"えむじぇい"}`),
		ClassSelections:   []trademark.ClassSelection{{ClassCode: "9", Details: []string{"software", " "}}},
		ClassCategory:     "商品",
		ConsultationRoute: "AI_SELF_SERVICE",
	}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.CaseNumber, got.CaseNumber)
	assert.Equal(t, domain.TrademarkTypeLogo, got.TrademarkType)
	assert.Equal(t, []string{"9", "42"}, got.Classes)
	assert.JSONEq(t, `{"reading":"えむじぇい"}`, string(got.TrademarkDetails))
	require.Len(t, got.ClassSelections, 1)
	assert.Equal(t, []string{"software"}, got.ClassSelections[0].Details)
	assert.Equal(t, domain.RouteAISelfService, got.ConsultationRoute)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.Nil(t, got.ClientIntake)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))

	status := string(domain.StatusUnderExamination)
	notes := "filed"
	assigned := attorney.String()
	_, err = got.ApplyStaffUpdate(domain.StaffUpdate{
		Status:             &status,
		Notes:              &notes,
		AssignedAttorneyID: &assigned,
	}, time.Now().UTC())
	require.NoError(t, err)
	got.ClientIntake = json.RawMessage(`{"budget":100000}`)
	require.NoError(t, repo.Update(ctx, got))

	updated, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderExamination, updated.Status)
	assert.Equal(t, "filed", updated.Notes)
	assert.Equal(t, attorney, updated.AssignedAttorneyID)
	assert.JSONEq(t, `{"budget":100000}`, string(updated.ClientIntake))
}

func TestSQLiteUpdateUnknownCase(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db)
	owner := seedClient(t, db, "a@example.com", 1)

	c := newTestCase(t, owner, "Mark", "Acme", "9")
	err := repo.Update(context.Background(), c)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = repo.FindByID(context.Background(), types.NewID())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSQLiteSoftDelete(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	owner := seedClient(t, db, "a@example.com", 1)

	kept := newTestCase(t, owner, "Kept", "Acme", "9")
	gone := newTestCase(t, owner, "Gone", "Acme", "9")
	require.NoError(t, repo.Create(ctx, kept))
	require.NoError(t, repo.Create(ctx, gone))

	require.NoError(t, repo.SoftDelete(ctx, gone.ID, time.Now()))

	_, err := repo.FindByID(ctx, gone.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	cases, total, err := repo.List(ctx, domain.ListFilter{OwnerID: owner})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, kept.ID, cases[0].ID)

	err = repo.SoftDelete(ctx, gone.ID, time.Now())
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	// A deleted case keeps its sequence number.
	next := newTestCase(t, owner, "Next", "Acme", "9")
	require.NoError(t, repo.Create(ctx, next))
	assert.Equal(t, 3, next.SequenceNumber)
}

func TestSQLiteListFilters(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	owner := seedClient(t, db, "a@example.com", 1)
	other := seedClient(t, db, "b@example.com", 2)
	attorney := seedAttorney(t, db, "lawyer@example.com")

	base := time.Now().UTC().Add(-time.Hour)
	mk := func(owner types.ID, title, applicant string, offset time.Duration, classes ...string) *domain.Case {
		c := newTestCase(t, owner, title, applicant, classes...)
		c.CreatedAt = base.Add(offset)
		c.UpdatedAt = base.Add(offset)
		require.NoError(t, repo.Create(ctx, c))
		return c
	}

	alpha := mk(owner, "Alpha Coffee", "Sato Shoten", 1*time.Minute, "30", "43")
	beta := mk(owner, "Beta 100% Juice", "Suzuki", 2*time.Minute, "32")
	gamma := mk(other, "Gamma Soft", "Alpha Holdings", 3*time.Minute, "9", "42")

	beta.Status = domain.StatusUnderExamination
	beta.AssignedAttorneyID = attorney
	require.NoError(t, repo.Update(ctx, beta))

	ids := func(cases []domain.Case) []types.ID {
		out := make([]types.ID, 0, len(cases))
		for _, c := range cases {
			out = append(out, c.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter domain.ListFilter
		want   []types.ID
	}{
		{"all by updated desc", domain.ListFilter{SortDesc: true}, []types.ID{gamma.ID, beta.ID, alpha.ID}},
		{"owner", domain.ListFilter{OwnerID: owner, SortBy: domain.SortByTitle}, []types.ID{alpha.ID, beta.ID}},
		{"attorney", domain.ListFilter{AttorneyID: attorney}, []types.ID{beta.ID}},
		{"status", domain.ListFilter{Status: domain.StatusDraft, SortBy: domain.SortByCreatedAt}, []types.ID{alpha.ID, gamma.ID}},
		{"type", domain.ListFilter{TrademarkType: domain.TrademarkTypeLogo}, []types.ID{}},
		{"classes any", domain.ListFilter{Classes: []string{"42", "32"}, SortBy: domain.SortByCreatedAt}, []types.ID{beta.ID, gamma.ID}},
		{"search title", domain.ListFilter{Search: "alpha"}, []types.ID{alpha.ID}},
		{"search applicant", domain.ListFilter{Search: "alpha", SearchApplicant: true, SortBy: domain.SortByCreatedAt}, []types.ID{alpha.ID, gamma.ID}},
		{"search case number", domain.ListFilter{Search: "mj00020001"}, []types.ID{gamma.ID}},
		{"search escapes wildcards", domain.ListFilter{Search: "100%"}, []types.ID{beta.ID}},
		{"search percent alone", domain.ListFilter{Search: "%"}, []types.ID{beta.ID}},
		{"case number desc", domain.ListFilter{SortBy: domain.SortByCaseNumber, SortDesc: true}, []types.ID{gamma.ID, beta.ID, alpha.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cases, total, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), total)
			assert.Equal(t, tt.want, ids(cases))
		})
	}
}

// setStatus moves a stored case to status through a staff update.
func setStatus(t *testing.T, repo domain.Repository, c *domain.Case, status domain.Status) {
	t.Helper()
	value := string(status)
	_, err := c.ApplyStaffUpdate(domain.StaffUpdate{Status: &value}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.Update(context.Background(), c))
}

func TestSQLiteSortByStatusFollowsLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	owner := seedClient(t, db, "a@example.com", 1)

	examining := newTestCase(t, owner, "Examining", "Acme", "9")
	draft := newTestCase(t, owner, "Draft", "Acme", "9")
	submitted := newTestCase(t, owner, "Submitted", "Acme", "9")
	for _, c := range []*domain.Case{examining, draft, submitted} {
		require.NoError(t, repo.Create(ctx, c))
	}
	setStatus(t, repo, examining, domain.StatusUnderExamination)
	setStatus(t, repo, submitted, domain.StatusApplicationSubmitted)

	ids := func(cases []domain.Case) []types.ID {
		out := make([]types.ID, len(cases))
		for i, c := range cases {
			out[i] = c.ID
		}
		return out
	}

	cases, _, err := repo.List(ctx, domain.ListFilter{OwnerID: owner, SortBy: domain.SortByStatus})
	require.NoError(t, err)
	assert.Equal(t, []types.ID{draft.ID, submitted.ID, examining.ID}, ids(cases))

	cases, _, err = repo.List(ctx, domain.ListFilter{OwnerID: owner, SortBy: domain.SortByStatus, SortDesc: true})
	require.NoError(t, err)
	assert.Equal(t, []types.ID{examining.ID, submitted.ID, draft.ID}, ids(cases))
}

func TestStatusOrderCoversEveryStatus(t *testing.T) {
	order := statusOrder()
	for i, info := range domain.Statuses() {
		assert.Contains(t, order, fmt.Sprintf("WHEN '%s' THEN %d", info.Value, i))
	}
	assert.Contains(t, order, fmt.Sprintf("ELSE %d END", len(domain.Statuses())))
}
