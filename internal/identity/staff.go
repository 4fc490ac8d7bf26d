package identity

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/auth"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/response"
	"github.com/mj-trademark/portal/internal/shared/types"
)

const (
	msgLoginRequired       = "ログインが必要です"
	msgNoStaffPageAccess   = "このページにアクセスする権限がありません"
	msgNoStaffCreateAccess = "スタッフを追加する権限がありません"
	msgNoRoleChangeAccess  = "権限を変更する権限がありません"
	msgInvalidJSON         = "JSON形式で送信してください"
	msgStaffFieldsRequired = "名前、メールアドレス、パスワード、権限は必須です"
	msgRoleFieldsRequired  = "userIdとroleは必須です"
	msgInvalidRole         = "無効な権限です"
	msgStaffCreated        = "スタッフを追加しました"
	msgRoleChanged         = "権限を変更しました"
)

// StaffHandler provides the staff administration endpoints mounted at
// /api/admin/staff. Every endpoint is ADMIN only.
type StaffHandler struct {
	svc *Service
}

// NewStaffHandler creates a new staff handler
func NewStaffHandler(svc *Service) *StaffHandler {
	return &StaffHandler{svc: svc}
}

// Routes registers the staff routes
func (h *StaffHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(auth.RequireStaffManager(msgLoginRequired, msgNoStaffPageAccess)).Get("/", h.ListStaff)
	r.With(auth.RequireStaffManager(msgLoginRequired, msgNoStaffCreateAccess)).Post("/", h.CreateStaff)
	r.With(auth.RequireStaffManager(msgLoginRequired, msgNoRoleChangeAccess)).Patch("/", h.ChangeRole)

	return r
}

type StaffList struct {
	Users []StaffEntry `json:"users"`
	Total int          `json:"total"`
}

type CreatedStaff struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  authz.Role `json:"role"`
}

type RoleChange struct {
	UserID  string     `json:"userId"`
	OldRole authz.Role `json:"oldRole"`
	NewRole authz.Role `json:"newRole"`
}

func (h *StaffHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, StaffList{Users: users, Total: len(users)})
}

func (h *StaffHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	body, ok := decodeFields(w, r)
	if !ok {
		response.Error(w, r, errors.BadRequest(msgInvalidJSON).WithCode("INVALID_JSON"))
		return
	}

	name, _ := body.String("name")
	email, _ := body.String("email")
	password, _ := body.String("password")
	rawRole, _ := body.String("role")
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" || password == "" || strings.TrimSpace(rawRole) == "" {
		response.Error(w, r, errors.BadRequest(msgStaffFieldsRequired).WithCode("MISSING_FIELDS"))
		return
	}

	role, err := authz.ParseRole(rawRole)
	if err != nil {
		response.Error(w, r, errors.BadRequest(msgInvalidRole).WithCode("INVALID_ROLE"))
		return
	}
	if !ValidName(name) {
		response.Error(w, r, errors.BadRequest(msgNameTooLong).WithCode("AUTH_003"))
		return
	}
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		response.Error(w, r, errors.BadRequest(msgInvalidEmail).WithCode("AUTH_001"))
		return
	}

	user, _, err := h.svc.CreateStaff(r.Context(), identity.Principal, NewStaff{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     role,
	})
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSONMessage(w, http.StatusCreated, CreatedStaff{
		ID:    user.ID.String(),
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	}, msgStaffCreated)
}

func (h *StaffHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	body, ok := decodeFields(w, r)
	if !ok {
		response.Error(w, r, errors.BadRequest(msgInvalidJSON).WithCode("INVALID_JSON"))
		return
	}

	rawID, _ := body.String("userId")
	rawRole, _ := body.String("role")
	if strings.TrimSpace(rawID) == "" || strings.TrimSpace(rawRole) == "" {
		response.Error(w, r, errors.BadRequest(msgRoleFieldsRequired).WithCode("MISSING_FIELDS"))
		return
	}

	role, err := authz.ParseRole(rawRole)
	if err != nil {
		response.Error(w, r, errors.BadRequest(msgInvalidRole).WithCode("INVALID_ROLE"))
		return
	}

	userID, err := types.ParseID(strings.TrimSpace(rawID))
	if err != nil {
		response.Error(w, r, errors.NotFound("user", rawID).WithMessage(msgUserNotFound))
		return
	}

	old, err := h.svc.ChangeRole(r.Context(), identity.Principal, userID, role)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSONMessage(w, http.StatusOK, RoleChange{
		UserID:  userID.String(),
		OldRole: old,
		NewRole: role,
	}, msgRoleChanged)
}
