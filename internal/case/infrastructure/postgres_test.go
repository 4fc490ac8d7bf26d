package infrastructure

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj-trademark/portal/internal/case/domain"
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

func seedPostgresClient(t *testing.T, pool *pgxpool.Pool, email string, seq int) types.ID {
	t.Helper()
	ctx := context.Background()
	userID := types.NewID()

	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, role) VALUES ($1, 'Client', $2, 'x', 'CLIENT')`,
		userID, email)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO clients (id, user_id, sequence_number, customer_number) VALUES ($1, $2, $3, $4)`,
		types.NewID(), userID, seq, fmt.Sprintf("MJ%04d", seq))
	require.NoError(t, err)
	return userID
}

func TestPostgresConcurrentCreateAllocatesDistinctNumbers(t *testing.T) {
	pool := openPostgres(t)
	repo := NewPostgresRepository(pool)
	owner := seedPostgresClient(t, pool, "a@example.com", 1)

	const n = 4
	cases := make([]*domain.Case, n)
	for i := range cases {
		cases[i] = newTestCase(t, owner, fmt.Sprintf("Mark %d", i), "Acme", "9")
	}

	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i, c := range cases {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = repo.Create(context.Background(), c)
			numbers[i] = c.CaseNumber
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Strings(numbers)
	assert.Equal(t, []string{"MJ00010001", "MJ00010002", "MJ00010003", "MJ00010004"}, numbers)
}

func TestPostgresRoundTripAndSoftDelete(t *testing.T) {
	pool := openPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	owner := seedPostgresClient(t, pool, "a@example.com", 1)

	c := newTestCase(t, owner, "MJ Mark", "Acme", "9", "42")
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "42"}, got.Classes)
	assert.Equal(t, domain.StatusDraft, got.Status)

	cases, total, err := repo.List(ctx, domain.ListFilter{OwnerID: owner, Classes: []string{"42", "1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, cases, 1)

	require.NoError(t, repo.SoftDelete(ctx, c.ID, time.Now()))
	_, err = repo.FindByID(ctx, c.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, total, err = repo.List(ctx, domain.ListFilter{OwnerID: owner})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPostgresSortByStatusFollowsLifecycle(t *testing.T) {
	pool := openPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	owner := seedPostgresClient(t, pool, "a@example.com", 1)

	examining := newTestCase(t, owner, "Examining", "Acme", "9")
	draft := newTestCase(t, owner, "Draft", "Acme", "9")
	submitted := newTestCase(t, owner, "Submitted", "Acme", "9")
	for _, c := range []*domain.Case{examining, draft, submitted} {
		require.NoError(t, repo.Create(ctx, c))
	}
	setStatus(t, repo, examining, domain.StatusUnderExamination)
	setStatus(t, repo, submitted, domain.StatusApplicationSubmitted)

	cases, _, err := repo.List(ctx, domain.ListFilter{OwnerID: owner, SortBy: domain.SortByStatus})
	require.NoError(t, err)
	require.Len(t, cases, 3)
	assert.Equal(t, []types.ID{draft.ID, submitted.ID, examining.ID}, []types.ID{cases[0].ID, cases[1].ID, cases[2].ID})
}
