package message

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/case/infrastructure"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// openPostgres connects to TEST_DATABASE_URL and empties the schema. Tests
// that need it are skipped when the variable is unset.
func openPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool, zerolog.Nop()))
	_, err = pool.Exec(ctx, `TRUNCATE message_reads, messages, cases, sessions, clients, attorneys, internal_staff, users CASCADE`)
	require.NoError(t, err)
	return pool
}

func seedPostgresUser(t *testing.T, pool *pgxpool.Pool, role authz.Role, email string) types.ID {
	t.Helper()
	userID := types.NewID()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, name, email, password_hash, role) VALUES ($1, $2, $3, 'x', $4)`,
		userID, string(role), email, string(role))
	require.NoError(t, err)
	return userID
}

// seedPostgresCase creates a client owning one case and returns both ids.
func seedPostgresCase(t *testing.T, pool *pgxpool.Pool) (owner, caseID types.ID) {
	t.Helper()
	ctx := context.Background()
	owner = seedPostgresUser(t, pool, authz.RoleClient, "client@example.com")
	_, err := pool.Exec(ctx,
		`INSERT INTO clients (id, user_id, sequence_number, customer_number) VALUES ($1, $2, 1, $3)`,
		types.NewID(), owner, fmt.Sprintf("MJ%04d", 1))
	require.NoError(t, err)

	c, err := domain.NewCase(domain.NewCaseParams{
		OwnerID:       owner,
		Title:         "MJ Mark",
		TrademarkType: "TEXT",
		Applicant:     "株式会社テスト",
		Classes:       []string{"9"},
	}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, infrastructure.NewPostgresRepository(pool).Create(ctx, c))
	return owner, c.ID
}

func TestPostgresMarkReadKeepsOneReceiptPerMessage(t *testing.T) {
	pool := openPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	owner, caseID := seedPostgresCase(t, pool)
	viewer := seedPostgresUser(t, pool, authz.RoleAdmin, "admin@example.com")

	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	var ids []types.ID
	for i := 0; i < 3; i++ {
		m, err := NewMessage(caseID, owner, fmt.Sprintf("note %d", i), nil, false, nil, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, m))
		ids = append(ids, m.ID)
	}

	added, err := repo.MarkRead(ctx, viewer, ids, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = repo.MarkRead(ctx, viewer, ids, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, added)

	added, err = repo.MarkRead(ctx, viewer, nil, base)
	require.NoError(t, err)
	assert.Zero(t, added)

	var receipts int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM message_reads WHERE user_id = $1`, viewer).Scan(&receipts))
	assert.Equal(t, 3, receipts)

	entries, err := repo.ListForCase(ctx, caseID, viewer)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].ID)
	for _, e := range entries {
		require.NotNil(t, e.ReadAt)
		assert.True(t, e.ReadAt.Equal(base.Add(time.Minute)))
		assert.Equal(t, authz.RoleClient, e.Sender.Role)
	}

	entries, err = repo.ListForCase(ctx, caseID, owner)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Nil(t, entries[0].ReadAt)
}

func TestPostgresFlagAndFind(t *testing.T) {
	pool := openPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	owner, caseID := seedPostgresCase(t, pool)

	subject := "出願について"
	now := time.Now().UTC()
	m, err := NewMessage(caseID, owner, "確認をお願いします", &subject, false, []byte(`[{"name":"logo.png"}]`), now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, m))

	require.NoError(t, repo.SetFlagged(ctx, m.ID, true, now.Add(time.Second)))
	got, err := repo.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFlagged)
	require.NotNil(t, got.Subject)
	assert.Equal(t, subject, *got.Subject)
	assert.JSONEq(t, `[{"name":"logo.png"}]`, string(got.Attachments))

	missing := types.NewID()
	err = repo.SetFlagged(ctx, missing, true, now)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = repo.FindByID(ctx, missing)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
