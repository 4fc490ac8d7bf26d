package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj-trademark/portal/internal/shared/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, MigrateSQLite(context.Background(), db))
}

func TestIsSQLiteUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := ToNanos(time.Now())

	insert := `INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		VALUES (?, 'A', 'a@example.com', 'x', 'CLIENT', ?, ?)`
	_, err := db.ExecContext(ctx, insert, types.NewID().String(), now, now)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, types.NewID().String(), now, now)
	require.Error(t, err)
	assert.True(t, IsSQLiteUniqueViolation(err, ""))
	assert.True(t, IsSQLiteUniqueViolation(err, "users.email"))
	assert.False(t, IsSQLiteUniqueViolation(err, "cases.case_number"))
	assert.False(t, IsSQLiteUniqueViolation(assert.AnError, ""))
}

func TestForeignKeysEnforced(t *testing.T) {
	db := openTestDB(t)
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ('s', 'missing', 0, 0)`)
	assert.Error(t, err)
}

func TestNanosRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 8, time.FixedZone("JST", 9*3600))
	assert.True(t, now.Equal(FromNanos(ToNanos(now))))

	assert.Nil(t, NullNanos(nil))
	assert.Nil(t, FromNullNanos(sql.NullInt64{}))
	got := FromNullNanos(sql.NullInt64{Int64: ToNanos(now), Valid: true})
	require.NotNil(t, got)
	assert.True(t, now.Equal(*got))
}

func TestNullableHelpers(t *testing.T) {
	assert.Nil(t, NullString(""))
	assert.Equal(t, "x", NullString("x"))
	assert.Nil(t, NullID(""))
	assert.Nil(t, NullJSON(nil))
	assert.Nil(t, NullJSON(json.RawMessage(" null ")))
	assert.Equal(t, `{"a":1}`, NullJSON(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "", StringValue(nil))
	assert.Equal(t, `100\%\_off\\`, EscapeLike(`100%_off\`))
	assert.Equal(t, 1, BoolInt(true))
}
