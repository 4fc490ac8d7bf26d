package identity

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/auth"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/middleware"
	"github.com/mj-trademark/portal/internal/shared/response"
)

const msgLoggedOut = "ログアウトしました"

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// Handler provides the session endpoints mounted at /api/auth.
type Handler struct {
	svc     *Service
	cookie  CookieConfig
	limiter *middleware.IPRateLimiter
}

// NewHandler creates a new auth handler. A nil limiter disables rate
// limiting of sign-up and sign-in.
func NewHandler(svc *Service, cookie CookieConfig, limiter *middleware.IPRateLimiter) *Handler {
	return &Handler{svc: svc, cookie: cookie, limiter: limiter}
}

// Routes registers the auth routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Post("/sign-up", h.SignUp)
		r.Post("/sign-in", h.SignIn)
	})

	r.Post("/logout", h.Logout)
	r.Get("/session", h.Session)

	return r
}

// --- Response types ---

type UserView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"emailVerified"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	Role          string     `json:"role"`
}

type SessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AuthView struct {
	User    UserView    `json:"user"`
	Session SessionView `json:"session"`
}

type SessionUser struct {
	User UserView `json:"user"`
}

func toUserView(u *User) UserView {
	return UserView{
		ID:            u.ID.String(),
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Role:          u.Role.Lower(),
	}
}

func toAuthView(res *AuthResult) AuthView {
	user := toUserView(res.User)
	createdAt := res.User.CreatedAt
	user.CreatedAt = &createdAt
	user.LastLoginAt = res.User.LastLoginAt
	return AuthView{
		User:    user,
		Session: SessionView{Token: res.Token, ExpiresAt: res.Session.ExpiresAt},
	}
}

// --- Handlers ---

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeFields(w, r)
	if !ok {
		response.Error(w, r, errRequired())
		return
	}

	name, ok := body.String("name")
	if !ok || strings.TrimSpace(name) == "" {
		response.Error(w, r, errRequired())
		return
	}
	if !ValidName(name) {
		response.Error(w, r, errors.BadRequest(msgNameTooLong).WithCode("AUTH_003"))
		return
	}

	email, err := requireEmail(body)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	password, ok := body.String("password")
	if !ok || password == "" {
		response.Error(w, r, errRequired())
		return
	}
	if authz.ValidatePassword(password) != nil {
		response.Error(w, r, errors.BadRequest(msgWeakPassword).WithCode("AUTH_002"))
		return
	}

	rememberMe, ok := body.OptionalBool("rememberMe")
	if !ok {
		response.Error(w, r, errRequired())
		return
	}

	res, err := h.svc.SignUp(r.Context(), Credentials{
		Name:       name,
		Email:      email,
		Password:   password,
		RememberMe: rememberMe,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		response.Error(w, r, serverError(err))
		return
	}

	h.setSessionCookie(w, res.Token, res.Session.ExpiresAt, res.Session.CreatedAt)
	response.JSON(w, http.StatusCreated, toAuthView(res))
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeFields(w, r)
	if !ok {
		response.Error(w, r, errRequired())
		return
	}

	email, err := requireEmail(body)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	password, ok := body.String("password")
	if !ok || password == "" {
		response.Error(w, r, errRequired())
		return
	}

	rememberMe, ok := body.OptionalBool("rememberMe")
	if !ok {
		response.Error(w, r, errRequired())
		return
	}

	res, err := h.svc.SignIn(r.Context(), Credentials{
		Email:      email,
		Password:   password,
		RememberMe: rememberMe,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		response.Error(w, r, serverError(err))
		return
	}

	h.setSessionCookie(w, res.Token, res.Session.ExpiresAt, res.Session.CreatedAt)
	response.JSON(w, http.StatusOK, toAuthView(res))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), auth.TokenFromRequest(r, h.cookie.Name)); err != nil {
		response.Error(w, r, serverError(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSONMessage(w, http.StatusOK, nil, msgLoggedOut)
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		response.Error(w, r, errSessionInvalid)
		return
	}

	user, err := h.svc.CurrentUser(r.Context(), identity)
	if err != nil {
		response.Error(w, r, serverError(err))
		return
	}

	response.JSON(w, http.StatusOK, SessionUser{User: toUserView(user)})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expires, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(expires.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- Request parsing ---

// fields holds a JSON object whose members are type-checked one by one, so
// a wrongly typed member yields the same error as a missing one.
type fields map[string]json.RawMessage

func decodeFields(w http.ResponseWriter, r *http.Request) (fields, bool) {
	var body fields
	if err := response.Decode(w, r, &body); err != nil || body == nil {
		return nil, false
	}
	return body, true
}

// String returns the member as a string; ok is false when it is absent or
// not a string.
func (f fields) String(key string) (string, bool) {
	raw, present := f[key]
	if !present || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// OptionalBool returns the member as a bool, false when absent; ok is false
// when it is present but not a bool.
func (f fields) OptionalBool(key string) (bool, bool) {
	raw, present := f[key]
	if !present {
		return false, true
	}
	if string(raw) == "null" {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func requireEmail(body fields) (string, error) {
	email, ok := body.String("email")
	if !ok || strings.TrimSpace(email) == "" {
		return "", errRequired()
	}
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return "", errors.BadRequest(msgInvalidEmail).WithCode("AUTH_001")
	}
	return email, nil
}

func errRequired() *errors.AppError {
	return errors.BadRequest(msgRequiredFields).WithCode("AUTH_003")
}

// serverError gives unexpected failures the localized server error message.
func serverError(err error) error {
	if appErr, ok := errors.As(err); ok && appErr.HTTPStatus < http.StatusInternalServerError {
		return err
	}
	return errors.Internal(err).WithMessage(msgServerError).WithCode("AUTH_013")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
