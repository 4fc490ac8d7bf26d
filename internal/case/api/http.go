package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/shared/auth"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/events"
	"github.com/mj-trademark/portal/internal/shared/metrics"
	"github.com/mj-trademark/portal/internal/shared/response"
	"github.com/mj-trademark/portal/internal/shared/types"
	"github.com/mj-trademark/portal/internal/trademark"
)

// Caller-facing messages.
const (
	msgLoginRequired   = "ログインが必要です"
	msgCaseNotFound    = "案件が見つかりません"
	msgNoReadAccess    = "この案件を閲覧する権限がありません"
	msgNoUpdateAccess  = "この案件を更新する権限がありません"
	msgInvalidJSON     = "JSON形式で送信してください"
	msgMissingRequired = "必須項目が不足しています"
	msgNoClasses       = "区分を1つ以上選択してください"
	msgNoClientProfile = "クライアント情報が登録されていません"
	msgInvalidStatus   = "無効なステータスです"
	msgCaseCreated     = "案件を作成しました"
	msgCaseUpdated     = "案件を更新しました"
)

// Handler provides the client case endpoints mounted at /api/cases.
type Handler struct {
	repo   domain.Repository
	events *events.Emitter
	now    func() time.Time
}

// NewHandler creates a new case handler
func NewHandler(repo domain.Repository, emitter *events.Emitter) *Handler {
	return &Handler{
		repo:   repo,
		events: emitter,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the case routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSession(msgLoginRequired))

	r.Get("/", h.ListCases)
	r.Post("/", h.CreateCase)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCase)
		r.Patch("/", h.UpdateCase)
	})

	return r
}

// --- Request types ---

type CreateCaseRequest struct {
	Title             string                     `json:"title"`
	TrademarkType     string                     `json:"trademarkType"`
	Applicant         string                     `json:"applicant"`
	Classes           []string                   `json:"classes"`
	TrademarkDetails  json.RawMessage            `json:"trademarkDetails"`
	ClassSelections   []trademark.ClassSelection `json:"classSelections"`
	ClassCategory     string                     `json:"classCategory"`
	ProductService    string                     `json:"productService"`
	ConsultationRoute string                     `json:"consultationRoute"`
}

// UpdateCaseRequest distinguishes absent fields from explicit nulls:
// clientIntake and consultationRoute may be cleared with null.
type UpdateCaseRequest struct {
	Applicant         *string         `json:"applicant"`
	ClientIntake      json.RawMessage `json:"clientIntake"`
	ConsultationRoute optionalString  `json:"consultationRoute"`
	Status            *string         `json:"status"`
}

// optionalString records whether a field was present; null sets it to "".
type optionalString struct {
	Set   bool
	Value string
}

func (o *optionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = ""
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

func (o optionalString) ptr() *string {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

// --- Handlers ---

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	filter := listFilterFromQuery(r, domain.ClientSortFields)
	filter.OwnerID = identity.Principal.UserID()

	cases, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, toList(cases, total))
}

func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	var req CreateCaseRequest
	if err := response.Decode(w, r, &req); err != nil {
		response.Error(w, r, invalidJSON(err))
		return
	}

	if blank(req.Title) || blank(req.TrademarkType) || blank(req.Applicant) {
		response.Error(w, r, errors.BadRequest(msgMissingRequired).WithCode("MISSING_FIELDS"))
		return
	}
	if len(req.Classes) == 0 {
		response.Error(w, r, errors.BadRequest(msgNoClasses).WithCode("NO_CLASSES"))
		return
	}

	c, err := domain.NewCase(domain.NewCaseParams{
		OwnerID:           identity.Principal.UserID(),
		Title:             req.Title,
		TrademarkType:     req.TrademarkType,
		Applicant:         req.Applicant,
		Classes:           req.Classes,
		TrademarkDetails:  req.TrademarkDetails,
		ClassSelections:   req.ClassSelections,
		ClassCategory:     req.ClassCategory,
		ProductService:    req.ProductService,
		ConsultationRoute: req.ConsultationRoute,
	}, h.now())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if err := h.repo.Create(r.Context(), c); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			err = errors.NotFound("client", identity.Principal.UserID().String()).WithMessage(msgNoClientProfile)
		}
		response.Error(w, r, err)
		return
	}

	metrics.RecordCaseCreated(string(c.TrademarkType))
	h.events.Emit(r.Context(), events.NewEvent(events.CaseCreated, events.AggregateCase, c.ID, map[string]any{
		"caseNumber":    c.CaseNumber,
		"title":         c.Title,
		"trademarkType": c.TrademarkType,
		"classes":       c.Classes,
		"status":        c.Status,
	}).WithActor(identity.Principal.UserID(), string(identity.Principal.Role())))

	zerolog.Ctx(r.Context()).Info().
		Str("case_id", c.ID.String()).
		Str("case_number", c.CaseNumber).
		Msg("case created")

	response.JSONMessage(w, http.StatusCreated, CreatedCase{
		ID:         c.ID.String(),
		CaseNumber: c.CaseNumber,
		Title:      c.Title,
	}, msgCaseCreated)
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, _, ok := h.loadCase(w, r, "read", msgNoReadAccess)
	if !ok {
		return
	}

	response.JSON(w, http.StatusOK, toClientDetail(c))
}

func (h *Handler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	c, identity, ok := h.loadCase(w, r, "update", msgNoUpdateAccess)
	if !ok {
		return
	}

	var req UpdateCaseRequest
	if err := response.Decode(w, r, &req); err != nil {
		response.Error(w, r, invalidJSON(err))
		return
	}

	change, err := c.ApplyClientUpdate(domain.ClientUpdate{
		Applicant:         req.Applicant,
		ClientIntake:      req.ClientIntake,
		ConsultationRoute: req.ConsultationRoute.ptr(),
		Status:            req.Status,
	}, h.now())
	if err != nil {
		if appErr, ok := errors.As(err); ok && appErr.Code == "INVALID_STATUS" {
			err = appErr.WithMessage(msgInvalidStatus)
		}
		response.Error(w, r, err)
		return
	}

	if err := h.repo.Update(r.Context(), c); err != nil {
		response.Error(w, r, notFoundMessage(err))
		return
	}

	emitChange(r, h.events, c, change, identity)
	response.JSONMessage(w, http.StatusOK, toUpdated(c), msgCaseUpdated)
}

// loadCase resolves {caseID}, loads the case and applies the authorization
// resolver. On failure the response has been written and ok is false.
func (h *Handler) loadCase(w http.ResponseWriter, r *http.Request, action, denied string) (*domain.Case, *authz.Identity, bool) {
	identity := auth.GetIdentity(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "caseID"))
	if err != nil {
		response.Error(w, r, errors.NotFound("case", chi.URLParam(r, "caseID")).WithMessage(msgCaseNotFound))
		return nil, nil, false
	}

	c, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		response.Error(w, r, notFoundMessage(err))
		return nil, nil, false
	}

	if !authz.AuthorizeCase(identity.Principal, c.Scope(), action) {
		response.Error(w, r, errors.Forbidden(denied))
		return nil, nil, false
	}
	return c, identity, true
}

// emitChange publishes case.updated and, when the status moved,
// case.status_changed.
func emitChange(r *http.Request, emitter *events.Emitter, c *domain.Case, change domain.Change, identity *authz.Identity) {
	actorID := identity.Principal.UserID()
	role := string(identity.Principal.Role())

	if len(change.Fields) > 0 {
		emitter.Emit(r.Context(), events.NewEvent(events.CaseUpdated, events.AggregateCase, c.ID, map[string]any{
			"fields": change.Fields,
		}).WithActor(actorID, role))
	}
	if change.StatusChanged() {
		metrics.RecordCaseStatusChange(string(change.OldStatus), string(change.NewStatus))
		emitter.Emit(r.Context(), events.NewEvent(events.CaseStatusChanged, events.AggregateCase, c.ID, map[string]any{
			"from": change.OldStatus,
			"to":   change.NewStatus,
		}).WithActor(actorID, role))
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func invalidJSON(err error) error {
	if appErr, ok := errors.As(err); ok {
		return appErr.WithMessage(msgInvalidJSON).WithCode("INVALID_JSON")
	}
	return err
}

func notFoundMessage(err error) error {
	if appErr, ok := errors.As(err); ok && errors.Is(err, errors.ErrNotFound) {
		return appErr.WithMessage(msgCaseNotFound)
	}
	return err
}
