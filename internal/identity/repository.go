package identity

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/metrics"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// Store persists users, their role profiles and sessions.
type Store interface {
	// CreateUser inserts the user and the profile its role requires in one
	// transaction. A CLIENT gets the next customer number.
	CreateUser(ctx context.Context, u *User) (Profiles, error)
	FindUserByID(ctx context.Context, id types.ID) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindProfiles(ctx context.Context, userID types.ID) (Profiles, error)
	// ListUsers returns every user, newest first.
	ListUsers(ctx context.Context) ([]StaffEntry, error)
	// ChangeRole updates the role and syncs the profile rows in one
	// transaction, returning the previous role. Repeating it is a no-op.
	ChangeRole(ctx context.Context, userID types.ID, role authz.Role, at time.Time) (authz.Role, error)
	UpdateLastLogin(ctx context.Context, userID types.ID, at time.Time) error

	AttorneyExists(ctx context.Context, id types.ID) (bool, error)
	InternalStaffExists(ctx context.Context, id types.ID) (bool, error)

	CreateSession(ctx context.Context, s *authz.Session) error
	FindSession(ctx context.Context, id types.ID) (*authz.Session, error)
	DeleteSession(ctx context.Context, id types.ID) error
}

// ErrEmailTaken is returned when the email already belongs to a user.
var ErrEmailTaken = errors.Conflict(msgEmailTaken).WithCode("AUTH_009")

// PostgresRepository implements Store using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new identity repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Store = (*PostgresRepository)(nil)

func isPostgresCustomerNumberConflict(err error) bool {
	return database.IsUniqueViolation(err, "clients_sequence_number_key") ||
		database.IsUniqueViolation(err, "clients_customer_number_key")
}

// --- User Operations ---

// CreateUser creates a user with its role profile
func (r *PostgresRepository) CreateUser(ctx context.Context, u *User) (Profiles, error) {
	for attempt := 1; ; attempt++ {
		profiles, err := r.createUser(ctx, u)
		if err == nil {
			return profiles, nil
		}
		if !isPostgresCustomerNumberConflict(err) {
			return Profiles{}, err
		}
		if attempt == MaxCustomerNumberAttempts {
			return Profiles{}, errors.Conflict("could not allocate a customer number, please retry").WithCode("CUSTOMER_NUMBER_CONFLICT")
		}
		metrics.RecordCustomerNumberRetry()
	}
}

func (r *PostgresRepository) createUser(ctx context.Context, u *User) (Profiles, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Profiles{}, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, name, email, email_verified, password_hash, role, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID.String(), u.Name, u.Email, u.EmailVerified, u.PasswordHash, string(u.Role),
		u.LastLoginAt, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			return Profiles{}, ErrEmailTaken
		}
		return Profiles{}, errors.Wrap(err, "failed to create user")
	}

	profiles, err := syncPostgresProfiles(ctx, tx, u.ID, u.Role, u.CreatedAt)
	if err != nil {
		return Profiles{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Profiles{}, errors.Wrap(err, "failed to commit transaction")
	}
	return profiles, nil
}

// syncPostgresProfiles makes the profile rows match role and returns them.
func syncPostgresProfiles(ctx context.Context, tx pgx.Tx, userID types.ID, role authz.Role, at time.Time) (Profiles, error) {
	var profiles Profiles

	switch role {
	case authz.RoleAttorney:
		if _, err := tx.Exec(ctx, `
			INSERT INTO attorneys (id, user_id, created_at) VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING`,
			types.NewID().String(), userID.String(), at,
		); err != nil {
			return profiles, errors.Wrap(err, "failed to create attorney profile")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM internal_staff WHERE user_id = $1`, userID.String()); err != nil {
			return profiles, errors.Wrap(err, "failed to remove internal staff profile")
		}
	case authz.RoleInternalStaff:
		if _, err := tx.Exec(ctx, `
			INSERT INTO internal_staff (id, user_id, created_at) VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING`,
			types.NewID().String(), userID.String(), at,
		); err != nil {
			return profiles, errors.Wrap(err, "failed to create internal staff profile")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM attorneys WHERE user_id = $1`, userID.String()); err != nil {
			return profiles, errors.Wrap(err, "failed to remove attorney profile")
		}
	default:
		if _, err := tx.Exec(ctx, `DELETE FROM attorneys WHERE user_id = $1`, userID.String()); err != nil {
			return profiles, errors.Wrap(err, "failed to remove attorney profile")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM internal_staff WHERE user_id = $1`, userID.String()); err != nil {
			return profiles, errors.Wrap(err, "failed to remove internal staff profile")
		}
	}

	if role == authz.RoleClient {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE user_id = $1)`, userID.String()).Scan(&exists)
		if err != nil {
			return profiles, errors.Wrap(err, "failed to check client profile")
		}
		if !exists {
			var sequence int
			err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM clients`).Scan(&sequence)
			if err != nil {
				return profiles, errors.Wrap(err, "failed to allocate customer number")
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO clients (id, user_id, sequence_number, customer_number, created_at)
				VALUES ($1, $2, $3, $4, $5)`,
				types.NewID().String(), userID.String(), sequence, FormatCustomerNumber(sequence), at,
			)
			if err != nil {
				if isPostgresCustomerNumberConflict(err) {
					return profiles, err
				}
				return profiles, errors.Wrap(err, "failed to create client profile")
			}
		}
	}

	return findPostgresProfiles(ctx, tx, userID)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findPostgresProfiles(ctx context.Context, q pgQuerier, userID types.ID) (Profiles, error) {
	var (
		profiles                    Profiles
		clientID, customerNumber    *string
		attorneyID, internalStaffID *string
	)
	err := q.QueryRow(ctx, `
		SELECT
			(SELECT id FROM clients WHERE user_id = $1),
			(SELECT customer_number FROM clients WHERE user_id = $1),
			(SELECT id FROM attorneys WHERE user_id = $1),
			(SELECT id FROM internal_staff WHERE user_id = $1)`,
		userID.String(),
	).Scan(&clientID, &customerNumber, &attorneyID, &internalStaffID)
	if err != nil {
		return profiles, errors.Wrap(err, "failed to load profiles")
	}

	profiles.ClientID = types.ID(database.StringValue(clientID))
	profiles.CustomerNumber = database.StringValue(customerNumber)
	profiles.AttorneyID = types.ID(database.StringValue(attorneyID))
	profiles.InternalStaffID = types.ID(database.StringValue(internalStaffID))
	return profiles, nil
}

const userColumns = `id, name, email, email_verified, password_hash, role, last_login_at, created_at, updated_at`

// FindUserByID retrieves a user by ID
func (r *PostgresRepository) FindUserByID(ctx context.Context, id types.ID) (*User, error) {
	u, err := scanPostgresUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id.String(),
	))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	return u, nil
}

// FindUserByEmail retrieves a user by normalized email
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanPostgresUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email),
	))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", email)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user by email")
	}
	return u, nil
}

func scanPostgresUser(row pgx.Row) (*User, error) {
	var (
		u    User
		id   string
		role string
	)
	err := row.Scan(&id, &u.Name, &u.Email, &u.EmailVerified, &u.PasswordHash, &role,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.ID = types.ID(id)
	u.Role = authz.Role(role)
	return &u, nil
}

// FindProfiles returns the profile rows of a user
func (r *PostgresRepository) FindProfiles(ctx context.Context, userID types.ID) (Profiles, error) {
	return findPostgresProfiles(ctx, r.pool, userID)
}

// ListUsers lists every user with their staff profile ids
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]StaffEntry, error) {
	rows, err := r.pool.Query(ctx, `
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
			e        StaffEntry
			id, role string
		)
		if err := rows.Scan(&id, &e.Name, &e.Email, &role, &e.AttorneyID, &e.InternalStaffID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		e.ID = types.ID(id)
		e.Role = authz.Role(role)
		users = append(users, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return users, nil
}

// ChangeRole updates a user's role and syncs profiles
func (r *PostgresRepository) ChangeRole(ctx context.Context, userID types.ID, role authz.Role, at time.Time) (authz.Role, error) {
	for attempt := 1; ; attempt++ {
		old, err := r.changeRole(ctx, userID, role, at)
		if err == nil {
			return old, nil
		}
		if !isPostgresCustomerNumberConflict(err) {
			return "", err
		}
		if attempt == MaxCustomerNumberAttempts {
			return "", errors.Conflict("could not allocate a customer number, please retry").WithCode("CUSTOMER_NUMBER_CONFLICT")
		}
		metrics.RecordCustomerNumberRetry()
	}
}

func (r *PostgresRepository) changeRole(ctx context.Context, userID types.ID, role authz.Role, at time.Time) (authz.Role, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var old string
	err = tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, userID.String()).Scan(&old)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", errors.NotFound("user", userID.String())
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to load user")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`,
		userID.String(), string(role), at,
	); err != nil {
		return "", errors.Wrap(err, "failed to update role")
	}

	if _, err := syncPostgresProfiles(ctx, tx, userID, role, at); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", errors.Wrap(err, "failed to commit transaction")
	}
	return authz.Role(old), nil
}

// UpdateLastLogin records a successful sign-in
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, userID types.ID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`,
		userID.String(), at,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update last login")
	}
	return nil
}

// AttorneyExists reports whether an attorney profile exists
func (r *PostgresRepository) AttorneyExists(ctx context.Context, id types.ID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attorneys WHERE id = $1)`, id.String()).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check attorney")
	}
	return exists, nil
}

// InternalStaffExists reports whether an internal staff profile exists
func (r *PostgresRepository) InternalStaffExists(ctx context.Context, id types.ID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM internal_staff WHERE id = $1)`, id.String()).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check internal staff")
	}
	return exists, nil
}

// --- Session Operations ---

// CreateSession stores a session
func (r *PostgresRepository) CreateSession(ctx context.Context, s *authz.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID.String(), s.UserID.String(), s.ExpiresAt,
		database.NullString(s.IPAddress), database.NullString(s.UserAgent), s.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create session")
	}
	return nil
}

// FindSession retrieves a session by ID
func (r *PostgresRepository) FindSession(ctx context.Context, id types.ID) (*authz.Session, error) {
	var (
		s                    authz.Session
		sid, userID          string
		ipAddress, userAgent *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, expires_at, ip_address, user_agent, created_at
		FROM sessions WHERE id = $1`,
		id.String(),
	).Scan(&sid, &userID, &s.ExpiresAt, &ipAddress, &userAgent, &s.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("session", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}

	s.ID = types.ID(sid)
	s.UserID = types.ID(userID)
	s.IPAddress = database.StringValue(ipAddress)
	s.UserAgent = database.StringValue(userAgent)
	return &s, nil
}

// DeleteSession removes a session; deleting a missing session is not an error
func (r *PostgresRepository) DeleteSession(ctx context.Context, id types.ID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id.String()); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}
