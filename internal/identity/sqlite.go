package identity

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/metrics"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// SQLiteRepository implements Store on database/sql with modernc.org/sqlite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open SQLite handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

var _ Store = (*SQLiteRepository)(nil)

func isSQLiteCustomerNumberConflict(err error) bool {
	return database.IsSQLiteUniqueViolation(err, "clients.sequence_number") ||
		database.IsSQLiteUniqueViolation(err, "clients.customer_number")
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u *User) (Profiles, error) {
	for attempt := 1; ; attempt++ {
		profiles, err := r.createUser(ctx, u)
		if err == nil {
			return profiles, nil
		}
		if !isSQLiteCustomerNumberConflict(err) {
			return Profiles{}, err
		}
		if attempt == MaxCustomerNumberAttempts {
			return Profiles{}, errors.Conflict("could not allocate a customer number, please retry").WithCode("CUSTOMER_NUMBER_CONFLICT")
		}
		metrics.RecordCustomerNumberRetry()
	}
}

func (r *SQLiteRepository) createUser(ctx context.Context, u *User) (Profiles, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Profiles{}, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email, email_verified, password_hash, role, last_login_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Name, u.Email, database.BoolInt(u.EmailVerified), u.PasswordHash, string(u.Role),
		database.NullNanos(u.LastLoginAt), database.ToNanos(u.CreatedAt), database.ToNanos(u.UpdatedAt),
	)
	if err != nil {
		if database.IsSQLiteUniqueViolation(err, "users.email") {
			return Profiles{}, ErrEmailTaken
		}
		return Profiles{}, errors.Wrap(err, "failed to create user")
	}

	profiles, err := syncSQLiteProfiles(ctx, tx, u.ID, u.Role, u.CreatedAt)
	if err != nil {
		return Profiles{}, err
	}

	if err := tx.Commit(); err != nil {
		return Profiles{}, errors.Wrap(err, "failed to commit transaction")
	}
	return profiles, nil
}

func syncSQLiteProfiles(ctx context.Context, tx *sql.Tx, userID types.ID, role authz.Role, at time.Time) (Profiles, error) {
	var err error
	switch role {
	case authz.RoleAttorney:
		err = insertSQLiteProfile(ctx, tx, "attorneys", userID, at)
		if err == nil {
			err = deleteSQLiteProfile(ctx, tx, "internal_staff", userID)
		}
	case authz.RoleInternalStaff:
		err = insertSQLiteProfile(ctx, tx, "internal_staff", userID, at)
		if err == nil {
			err = deleteSQLiteProfile(ctx, tx, "attorneys", userID)
		}
	default:
		err = deleteSQLiteProfile(ctx, tx, "attorneys", userID)
		if err == nil {
			err = deleteSQLiteProfile(ctx, tx, "internal_staff", userID)
		}
	}
	if err != nil {
		return Profiles{}, err
	}

	if role == authz.RoleClient {
		var exists bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE user_id = ?)`, userID.String()).Scan(&exists)
		if err != nil {
			return Profiles{}, errors.Wrap(err, "failed to check client profile")
		}
		if !exists {
			var sequence int
			err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM clients`).Scan(&sequence)
			if err != nil {
				return Profiles{}, errors.Wrap(err, "failed to allocate customer number")
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO clients (id, user_id, sequence_number, customer_number, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				types.NewID().String(), userID.String(), sequence, FormatCustomerNumber(sequence), database.ToNanos(at),
			)
			if err != nil {
				if isSQLiteCustomerNumberConflict(err) {
					return Profiles{}, err
				}
				return Profiles{}, errors.Wrap(err, "failed to create client profile")
			}
		}
	}

	return findSQLiteProfiles(ctx, tx, userID)
}

// insertSQLiteProfile adds a profile row unless one exists. table is one of
// the fixed profile table names.
func insertSQLiteProfile(ctx context.Context, tx *sql.Tx, table string, userID types.ID, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO `+table+` (id, user_id, created_at) VALUES (?, ?, ?) ON CONFLICT (user_id) DO NOTHING`,
		types.NewID().String(), userID.String(), database.ToNanos(at),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create "+table+" profile")
	}
	return nil
}

func deleteSQLiteProfile(ctx context.Context, tx *sql.Tx, table string, userID types.ID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID.String()); err != nil {
		return errors.Wrap(err, "failed to remove "+table+" profile")
	}
	return nil
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findSQLiteProfiles(ctx context.Context, q sqlQuerier, userID types.ID) (Profiles, error) {
	var clientID, customerNumber, attorneyID, internalStaffID sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT id FROM clients WHERE user_id = ?1),
			(SELECT customer_number FROM clients WHERE user_id = ?1),
			(SELECT id FROM attorneys WHERE user_id = ?1),
			(SELECT id FROM internal_staff WHERE user_id = ?1)`,
		userID.String(),
	).Scan(&clientID, &customerNumber, &attorneyID, &internalStaffID)
	if err != nil {
		return Profiles{}, errors.Wrap(err, "failed to load profiles")
	}

	return Profiles{
		ClientID:        types.ID(clientID.String),
		CustomerNumber:  customerNumber.String,
		AttorneyID:      types.ID(attorneyID.String),
		InternalStaffID: types.ID(internalStaffID.String),
	}, nil
}

func (r *SQLiteRepository) FindUserByID(ctx context.Context, id types.ID) (*User, error) {
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id.String(),
	))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	return u, nil
}

func (r *SQLiteRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email),
	))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("user", email)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user by email")
	}
	return u, nil
}

func scanSQLiteUser(row *sql.Row) (*User, error) {
	var (
		u                    User
		id, role             string
		verified             int
		lastLogin            sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&id, &u.Name, &u.Email, &verified, &u.PasswordHash, &role,
		&lastLogin, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	u.ID = types.ID(id)
	u.Role = authz.Role(role)
	u.EmailVerified = verified != 0
	u.LastLoginAt = database.FromNullNanos(lastLogin)
	u.CreatedAt = database.FromNanos(createdAt)
	u.UpdatedAt = database.FromNanos(updatedAt)
	return &u, nil
}

func (r *SQLiteRepository) FindProfiles(ctx context.Context, userID types.ID) (Profiles, error) {
	return findSQLiteProfiles(ctx, r.db, userID)
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]StaffEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.role, a.id, s.id, u.created_at, u.updated_at
		FROM users u
		LEFT JOIN attorneys a ON a.user_id = u.id
		LEFT JOIN internal_staff s ON s.user_id = u.id
		ORDER BY u.created_at DESC, u.id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	users := []StaffEntry{}
	for rows.Next() {
		var (
			e                    StaffEntry
			id, role             string
			attorneyID, staffID  sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &e.Name, &e.Email, &role, &attorneyID, &staffID, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		e.ID = types.ID(id)
		e.Role = authz.Role(role)
		e.AttorneyID = types.ID(attorneyID.String).Ptr()
		e.InternalStaffID = types.ID(staffID.String).Ptr()
		e.CreatedAt = database.FromNanos(createdAt)
		e.UpdatedAt = database.FromNanos(updatedAt)
		users = append(users, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return users, nil
}

func (r *SQLiteRepository) ChangeRole(ctx context.Context, userID types.ID, role authz.Role, at time.Time) (authz.Role, error) {
	for attempt := 1; ; attempt++ {
		old, err := r.changeRole(ctx, userID, role, at)
		if err == nil {
			return old, nil
		}
		if !isSQLiteCustomerNumberConflict(err) {
			return "", err
		}
		if attempt == MaxCustomerNumberAttempts {
			return "", errors.Conflict("could not allocate a customer number, please retry").WithCode("CUSTOMER_NUMBER_CONFLICT")
		}
		metrics.RecordCustomerNumberRetry()
	}
}

func (r *SQLiteRepository) changeRole(ctx context.Context, userID types.ID, role authz.Role, at time.Time) (authz.Role, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var old string
	err = tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID.String()).Scan(&old)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", errors.NotFound("user", userID.String())
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to load user")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), database.ToNanos(at), userID.String(),
	); err != nil {
		return "", errors.Wrap(err, "failed to update role")
	}

	if _, err := syncSQLiteProfiles(ctx, tx, userID, role, at); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "failed to commit transaction")
	}
	return authz.Role(old), nil
}

func (r *SQLiteRepository) UpdateLastLogin(ctx context.Context, userID types.ID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?1, updated_at = ?1 WHERE id = ?2`,
		database.ToNanos(at), userID.String(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update last login")
	}
	return nil
}

func (r *SQLiteRepository) AttorneyExists(ctx context.Context, id types.ID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM attorneys WHERE id = ?)`, id.String()).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check attorney")
	}
	return exists, nil
}

func (r *SQLiteRepository) InternalStaffExists(ctx context.Context, id types.ID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM internal_staff WHERE id = ?)`, id.String()).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check internal staff")
	}
	return exists, nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s *authz.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.UserID.String(), database.ToNanos(s.ExpiresAt),
		database.NullString(s.IPAddress), database.NullString(s.UserAgent), database.ToNanos(s.CreatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create session")
	}
	return nil
}

func (r *SQLiteRepository) FindSession(ctx context.Context, id types.ID) (*authz.Session, error) {
	var (
		s                    authz.Session
		sid, userID          string
		expiresAt, createdAt int64
		ipAddress, userAgent sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, ip_address, user_agent, created_at
		FROM sessions WHERE id = ?`,
		id.String(),
	).Scan(&sid, &userID, &expiresAt, &ipAddress, &userAgent, &createdAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("session", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}

	s.ID = types.ID(sid)
	s.UserID = types.ID(userID)
	s.ExpiresAt = database.FromNanos(expiresAt)
	s.CreatedAt = database.FromNanos(createdAt)
	s.IPAddress = ipAddress.String
	s.UserAgent = userAgent.String
	return &s, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id types.ID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String()); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}
