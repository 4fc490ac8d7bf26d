package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/shared/auth"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/events"
	"github.com/mj-trademark/portal/internal/shared/response"
	"github.com/mj-trademark/portal/internal/shared/types"
)

const (
	msgNoAdminAccess       = "このページにアクセスする権限がありません"
	msgAssignAdminOnly     = "担当者の割り当ては管理者のみ可能です"
	msgDeleteAdminOnly     = "案件の削除は管理者のみ可能です"
	msgAttorneyNotFound    = "指定された弁理士が見つかりません"
	msgStaffMemberNotFound = "指定された担当者が見つかりません"
	msgCaseDeleted         = "案件を削除しました"

	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// ProfileDirectory answers whether staff profiles exist, so assignments never
// point at a missing attorney or staff member.
type ProfileDirectory interface {
	AttorneyExists(ctx context.Context, id types.ID) (bool, error)
	InternalStaffExists(ctx context.Context, id types.ID) (bool, error)
}

// AdminHandler provides the admin-area case endpoints mounted at
// /api/admin/cases. Every admin-area role may browse all cases.
type AdminHandler struct {
	repo     domain.Repository
	profiles ProfileDirectory
	activity events.Reader
	events   *events.Emitter
	now      func() time.Time
}

// NewAdminHandler creates the admin case handler. activity may be nil, in
// which case the activity endpoint returns an empty list.
func NewAdminHandler(repo domain.Repository, profiles ProfileDirectory, activity events.Reader, emitter *events.Emitter) *AdminHandler {
	return &AdminHandler{
		repo:     repo,
		profiles: profiles,
		activity: activity,
		events:   emitter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the admin case routes
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAdminArea(msgLoginRequired, msgNoAdminAccess))

	r.Get("/", h.ListCases)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCase)
		r.Patch("/", h.UpdateCase)
		r.Delete("/", h.DeleteCase)
		r.Get("/activity", h.GetActivity)
	})

	return r
}

type StaffUpdateRequest struct {
	Status                  *string `json:"status"`
	Notes                   *string `json:"notes"`
	AssignedAttorneyID      *string `json:"assignedAttorneyId"`
	AssignedInternalStaffID *string `json:"assignedInternalStaffId"`
}

// ActivityList is the body of GET /{id}/activity.
type ActivityList struct {
	Events []events.Event `json:"events"`
	Total  int            `json:"total"`
}

func (h *AdminHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r, domain.AdminSortFields)
	filter.SearchApplicant = true

	cases, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, toList(cases, total))
}

func (h *AdminHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, ok := h.findCase(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, toAdminDetail(c))
}

func (h *AdminHandler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	c, ok := h.findCase(w, r)
	if !ok {
		return
	}

	var req StaffUpdateRequest
	if err := response.Decode(w, r, &req); err != nil {
		response.Error(w, r, invalidJSON(err))
		return
	}

	update := domain.StaffUpdate{
		Status:                  req.Status,
		Notes:                   req.Notes,
		AssignedAttorneyID:      req.AssignedAttorneyID,
		AssignedInternalStaffID: req.AssignedInternalStaffID,
	}

	if update.ChangesAssignment() {
		if !authz.HasPermission(identity.Principal.Role(), authz.PermCaseAssign) {
			response.Error(w, r, errors.Forbidden(msgAssignAdminOnly))
			return
		}
		if err := h.checkProfiles(r.Context(), update); err != nil {
			response.Error(w, r, err)
			return
		}
	}

	oldAttorney, oldStaff := c.AssignedAttorneyID, c.AssignedInternalStaffID
	change, err := c.ApplyStaffUpdate(update, h.now())
	if err != nil {
		if appErr, ok := errors.As(err); ok {
			if _, bad := appErr.Details["status"]; bad {
				err = appErr.WithMessage(msgInvalidStatus).WithCode("INVALID_STATUS")
			}
		}
		response.Error(w, r, err)
		return
	}

	if err := h.repo.Update(r.Context(), c); err != nil {
		response.Error(w, r, notFoundMessage(err))
		return
	}

	emitChange(r, h.events, c, change, identity)
	if c.AssignedAttorneyID != oldAttorney || c.AssignedInternalStaffID != oldStaff {
		h.events.Emit(r.Context(), events.NewEvent(events.CaseAssigned, events.AggregateCase, c.ID, map[string]any{
			"assignedAttorneyId":      c.AssignedAttorneyID,
			"assignedInternalStaffId": c.AssignedInternalStaffID,
		}).WithActor(identity.Principal.UserID(), string(identity.Principal.Role())))

		zerolog.Ctx(r.Context()).Info().
			Str("case_id", c.ID.String()).
			Str("attorney_id", c.AssignedAttorneyID.String()).
			Str("internal_staff_id", c.AssignedInternalStaffID.String()).
			Msg("case assignment changed")
	}

	body := toUpdated(c)
	body.Notes = optional(c.Notes)
	body.AssignedAttorneyID = optional(c.AssignedAttorneyID.String())
	body.AssignedInternalStaffID = optional(c.AssignedInternalStaffID.String())
	response.JSONMessage(w, http.StatusOK, body, msgCaseUpdated)
}

func (h *AdminHandler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if !authz.HasPermission(identity.Principal.Role(), authz.PermCaseDelete) {
		response.Error(w, r, errors.Forbidden(msgDeleteAdminOnly))
		return
	}

	c, ok := h.findCase(w, r)
	if !ok {
		return
	}

	now := h.now()
	if err := h.repo.SoftDelete(r.Context(), c.ID, now); err != nil {
		response.Error(w, r, notFoundMessage(err))
		return
	}
	c.MarkDeleted(now)

	h.events.Emit(r.Context(), events.NewEvent(events.CaseDeleted, events.AggregateCase, c.ID, map[string]any{
		"caseNumber": c.CaseNumber,
	}).WithActor(identity.Principal.UserID(), string(identity.Principal.Role())))

	zerolog.Ctx(r.Context()).Info().
		Str("case_id", c.ID.String()).
		Msg("case soft-deleted")

	response.JSONMessage(w, http.StatusOK, map[string]any{
		"id":        c.ID.String(),
		"deletedAt": c.DeletedAt,
	}, msgCaseDeleted)
}

func (h *AdminHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if !authz.HasPermission(identity.Principal.Role(), authz.PermActivityRead) {
		response.Error(w, r, errors.Forbidden(msgNoAdminAccess))
		return
	}

	c, ok := h.findCase(w, r)
	if !ok {
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.Error(w, r, errors.BadRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxActivityLimit)
	}

	list := []events.Event{}
	if h.activity != nil {
		evts, err := h.activity.Read(r.Context(), events.AggregateCase, c.ID, limit)
		if err != nil {
			response.Error(w, r, errors.Wrap(err, "failed to read case activity"))
			return
		}
		list = append(list, evts...)
	}

	response.JSON(w, http.StatusOK, ActivityList{Events: list, Total: len(list)})
}

func (h *AdminHandler) findCase(w http.ResponseWriter, r *http.Request) (*domain.Case, bool) {
	raw := chi.URLParam(r, "caseID")
	id, err := types.ParseID(raw)
	if err != nil {
		response.Error(w, r, errors.NotFound("case", raw).WithMessage(msgCaseNotFound))
		return nil, false
	}

	c, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		response.Error(w, r, notFoundMessage(err))
		return nil, false
	}
	return c, true
}

// checkProfiles verifies that non-empty assignment ids name existing
// profiles. Malformed ids are left to the domain validation.
func (h *AdminHandler) checkProfiles(ctx context.Context, u domain.StaffUpdate) error {
	if id, ok := assignmentID(u.AssignedAttorneyID); ok {
		exists, err := h.profiles.AttorneyExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errors.BadRequest(msgAttorneyNotFound).WithCode("ATTORNEY_NOT_FOUND")
		}
	}
	if id, ok := assignmentID(u.AssignedInternalStaffID); ok {
		exists, err := h.profiles.InternalStaffExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errors.BadRequest(msgStaffMemberNotFound).WithCode("INTERNAL_STAFF_NOT_FOUND")
		}
	}
	return nil
}

func assignmentID(s *string) (types.ID, bool) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "", false
	}
	id, err := types.ParseID(strings.TrimSpace(*s))
	if err != nil {
		return "", false
	}
	return id, true
}
