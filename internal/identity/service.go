package identity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/auth"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/events"
	"github.com/mj-trademark/portal/internal/shared/metrics"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// Caller-facing messages shared by the auth and staff endpoints.
const (
	msgInvalidEmail       = "有効なメールアドレスを入力してください"
	msgWeakPassword       = "パスワードは12文字以上で、英大文字・小文字・数字・記号を含む必要があります"
	msgRequiredFields     = "必須項目を入力してください"
	msgNameTooLong        = "氏名は100文字以内で入力してください"
	msgInvalidCredentials = "メールアドレスまたはパスワードが正しくありません"
	msgSessionInvalid     = "セッションが無効です。再度ログインしてください"
	msgEmailTaken         = "このメールアドレスは既に登録されています"
	msgServerError        = "サーバーエラーが発生しました。しばらく待ってから再度お試しください"
	msgUserNotFound       = "ユーザーが見つかりません"
	msgOwnRoleChange      = "自分自身の権限は変更できません"
)

var (
	errInvalidCredentials = errors.Unauthorized(msgInvalidCredentials).WithCode("AUTH_004")
	errSessionInvalid     = errors.Unauthorized(msgSessionInvalid).WithCode("AUTH_008")
)

// Service implements sign-up, sign-in, session resolution and staff
// administration on top of a Store.
type Service struct {
	store    Store
	hasher   *authz.PasswordHasher
	tokens   *authz.TokenIssuer
	sessions authz.SessionConfig
	events   *events.Emitter
	now      func() time.Time
}

// NewService creates the identity service.
func NewService(store Store, hasher *authz.PasswordHasher, tokens *authz.TokenIssuer, sessions authz.SessionConfig, emitter *events.Emitter) *Service {
	return &Service{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		sessions: sessions,
		events:   emitter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ auth.Resolver = (*Service)(nil)

// Store returns the underlying store, which also answers profile lookups
// for case assignment.
func (s *Service) Store() Store {
	return s.store
}

// Credentials are the validated inputs of sign-up and sign-in.
type Credentials struct {
	Name       string
	Email      string
	Password   string
	RememberMe bool
	IPAddress  string
	UserAgent  string
}

// AuthResult is a signed-in user with a fresh session.
type AuthResult struct {
	User     *User
	Profiles Profiles
	Session  *authz.Session
	Token    string
}

// SignUp creates a CLIENT user with its customer number and opens a session.
func (s *Service) SignUp(ctx context.Context, c Credentials) (*AuthResult, error) {
	if err := authz.ValidatePassword(c.Password); err != nil {
		return nil, errors.BadRequest(msgWeakPassword).WithCode("AUTH_002")
	}

	hash, err := s.hasher.Hash(c.Password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	now := s.now()
	user := NewUser(c.Name, c.Email, hash, authz.RoleClient, now)
	profiles, err := s.store.CreateUser(ctx, user)
	if err != nil {
		metrics.RecordAuthAttempt("sign_up", false)
		return nil, err
	}

	result, err := s.openSession(ctx, user, profiles, c, now)
	if err != nil {
		return nil, err
	}

	metrics.RecordAuthAttempt("sign_up", true)
	s.events.Emit(ctx, events.NewEvent(events.UserSignedUp, events.AggregateUser, user.ID, map[string]any{
		"customerNumber": profiles.CustomerNumber,
	}).WithActor(user.ID, string(user.Role)))

	zerolog.Ctx(ctx).Info().
		Str("user_id", user.ID.String()).
		Str("customer_number", profiles.CustomerNumber).
		Msg("user signed up")

	return result, nil
}

// SignIn checks the credentials and opens a session. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, c Credentials) (*AuthResult, error) {
	user, err := s.store.FindUserByEmail(ctx, c.Email)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		s.hasher.VerifyMissing(c.Password)
		metrics.RecordAuthAttempt("sign_in", false)
		return nil, errInvalidCredentials
	}

	if !s.hasher.Verify(user.PasswordHash, c.Password) {
		metrics.RecordAuthAttempt("sign_in", false)
		zerolog.Ctx(ctx).Info().
			Str("user_id", user.ID.String()).
			Msg("sign-in rejected")
		return nil, errInvalidCredentials
	}

	now := s.now()
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now
	user.UpdatedAt = now

	profiles, err := s.store.FindProfiles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	result, err := s.openSession(ctx, user, profiles, c, now)
	if err != nil {
		return nil, err
	}
	metrics.RecordAuthAttempt("sign_in", true)
	return result, nil
}

func (s *Service) openSession(ctx context.Context, user *User, profiles Profiles, c Credentials, now time.Time) (*AuthResult, error) {
	session := authz.NewSession(s.sessions, user.ID, c.RememberMe, c.IPAddress, c.UserAgent, now)
	token, err := s.tokens.Issue(session)
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue session token")
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Profiles: profiles, Session: session, Token: token}, nil
}

// Logout deletes the session the token names. Invalid tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sessionID, _, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// Resolve turns a session token into the caller's identity: the session row
// must exist, belong to the token's user and not be expired.
func (s *Service) Resolve(ctx context.Context, token string) (*authz.Identity, error) {
	sessionID, userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, errSessionInvalid
	}

	session, err := s.store.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errSessionInvalid
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, errSessionInvalid
	}
	if session.IsExpired(s.now()) {
		if err := s.store.DeleteSession(ctx, session.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to delete expired session")
		}
		return nil, errSessionInvalid
	}

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errSessionInvalid
		}
		return nil, err
	}

	var profile types.ID
	if user.Role == authz.RoleAttorney || user.Role == authz.RoleInternalStaff {
		profiles, err := s.store.FindProfiles(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		profile = profiles.ProfileFor(user.Role)
	}

	return &authz.Identity{
		SessionID: session.ID,
		Principal: authz.NewPrincipal(user.Role, user.ID, profile),
		Name:      user.Name,
		Email:     user.Email,
	}, nil
}

// CurrentUser loads the user behind an identity.
func (s *Service) CurrentUser(ctx context.Context, identity *authz.Identity) (*User, error) {
	user, err := s.store.FindUserByID(ctx, identity.Principal.UserID())
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errSessionInvalid
		}
		return nil, err
	}
	return user, nil
}

// --- Staff administration ---

// ListUsers returns every user for the staff page.
func (s *Service) ListUsers(ctx context.Context) ([]StaffEntry, error) {
	return s.store.ListUsers(ctx)
}

// NewStaff is a validated staff creation request.
type NewStaff struct {
	Name     string
	Email    string
	Password string
	Role     authz.Role
}

// CreateStaff creates a user of any role together with its profile.
func (s *Service) CreateStaff(ctx context.Context, actor authz.Principal, in NewStaff) (*User, Profiles, error) {
	if err := authz.ValidatePassword(in.Password); err != nil {
		return nil, Profiles{}, errors.BadRequest(msgWeakPassword).WithCode("AUTH_002")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, Profiles{}, errors.Wrap(err, "failed to hash password")
	}

	user := NewUser(in.Name, in.Email, hash, in.Role, s.now())
	profiles, err := s.store.CreateUser(ctx, user)
	if err != nil {
		return nil, Profiles{}, err
	}

	s.events.Emit(ctx, events.NewEvent(events.StaffCreated, events.AggregateUser, user.ID, map[string]any{
		"role": user.Role,
	}).WithActor(actor.UserID(), string(actor.Role())))

	zerolog.Ctx(ctx).Info().
		Str("user_id", user.ID.String()).
		Str("new_role", string(user.Role)).
		Msg("staff member created")

	return user, profiles, nil
}

// ChangeRole moves a user to role and syncs their profiles. Admins cannot
// change their own role.
func (s *Service) ChangeRole(ctx context.Context, actor authz.Principal, userID types.ID, role authz.Role) (authz.Role, error) {
	if actor.UserID() == userID {
		return "", errors.BadRequest(msgOwnRoleChange).WithCode("OWN_ROLE_CHANGE")
	}

	old, err := s.store.ChangeRole(ctx, userID, role, s.now())
	if err != nil {
		if appErr, ok := errors.As(err); ok && errors.Is(err, errors.ErrNotFound) {
			return "", appErr.WithMessage(msgUserNotFound)
		}
		return "", err
	}

	metrics.RecordRoleChange(string(old), string(role))
	s.events.Emit(ctx, events.NewEvent(events.StaffRoleChanged, events.AggregateUser, userID, map[string]any{
		"oldRole": old,
		"newRole": role,
	}).WithActor(actor.UserID(), string(actor.Role())))

	zerolog.Ctx(ctx).Info().
		Str("user_id", userID.String()).
		Str("old_role", string(old)).
		Str("new_role", string(role)).
		Msg("user role changed")

	return old, nil
}
