package message

import (
	"context"
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
)

const (
	msgLoginRequired      = "ログインが必要です"
	msgCaseNotFound       = "案件が見つかりません"
	msgMessageNotFound    = "メッセージが見つかりません"
	msgNoReadAccess       = "この案件の通信を閲覧する権限がありません"
	msgNoSendAccess       = "この案件にメッセージを送信する権限がありません"
	msgNoFlagAccess       = "このメッセージのフラグを変更する権限がありません"
	msgContentRequired    = "メッセージ内容は必須です"
	msgFlagFieldsRequired = "メッセージIDとフラグ状態は必須です"
	msgInvalidJSON        = "JSON形式で送信してください"
)

// Cases is the part of the case repository the message endpoints need.
type Cases interface {
	FindByID(ctx context.Context, id types.ID) (*domain.Case, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error)
}

// Handler provides the case communication endpoints mounted at
// /api/messages.
type Handler struct {
	store  Store
	cases  Cases
	events *events.Emitter
	now    func() time.Time
}

// NewHandler creates a new message handler
func NewHandler(store Store, cases Cases, emitter *events.Emitter) *Handler {
	return &Handler{
		store:  store,
		cases:  cases,
		events: emitter,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the message routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSession(msgLoginRequired))

	r.Get("/", h.Inbox)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.ListMessages)
		r.Post("/", h.SendMessage)
		r.Patch("/", h.FlagMessage)
	})

	return r
}

// --- Request / response types ---

type SendMessageRequest struct {
	Content     *string         `json:"content"`
	Subject     *string         `json:"subject"`
	IsFlagged   bool            `json:"isFlagged"`
	Attachments json.RawMessage `json:"attachments"`
}

type FlagMessageRequest struct {
	MessageID string          `json:"messageId"`
	IsFlagged json.RawMessage `json:"isFlagged"`
}

type MessageView struct {
	ID          types.ID        `json:"id"`
	Content     string          `json:"content"`
	Subject     *string         `json:"subject"`
	Sender      Sender          `json:"sender"`
	IsFlagged   bool            `json:"isFlagged"`
	Attachments json.RawMessage `json:"attachments"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	IsRead      bool            `json:"isRead"`
	ReadAt      *time.Time      `json:"readAt"`
}

type CaseHeader struct {
	ID         types.ID `json:"id"`
	CaseNumber string   `json:"caseNumber"`
	Title      string   `json:"title"`
}

type Conversation struct {
	Case     CaseHeader    `json:"case"`
	Messages []MessageView `json:"messages"`
}

type SentMessage struct {
	Message MessageView `json:"message"`
}

type FlagState struct {
	ID        types.ID `json:"id"`
	IsFlagged bool     `json:"isFlagged"`
}

type FlaggedMessage struct {
	Message FlagState `json:"message"`
}

func toView(e Entry, viewer types.ID) MessageView {
	return MessageView{
		ID:          e.ID,
		Content:     e.Content,
		Subject:     e.Subject,
		Sender:      e.Sender,
		IsFlagged:   e.IsFlagged,
		Attachments: e.Attachments,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		IsRead:      e.IsRead(viewer),
		ReadAt:      e.ReadAt,
	}
}

// --- Handlers ---

// Inbox summarizes every case the caller can see.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	viewer := identity.Principal.UserID()

	filter, ok := domain.AccessFilter(identity.Principal)
	if !ok {
		response.JSON(w, http.StatusOK, BuildInbox(nil, nil, viewer))
		return
	}

	cases, _, err := h.cases.List(r.Context(), filter)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	refs := make([]CaseRef, len(cases))
	ids := make([]types.ID, len(cases))
	for i, c := range cases {
		refs[i] = CaseRef{ID: c.ID, CaseNumber: c.CaseNumber, Title: c.Title}
		ids[i] = c.ID
	}

	entries, err := h.store.ListForCases(r.Context(), ids, viewer)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, BuildInbox(refs, Summarize(entries, viewer), viewer))
}

// ListMessages returns the case's conversation and marks it read. The
// returned read state is the one from before this request.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	c, identity, ok := h.loadCase(w, r, "read_messages", msgNoReadAccess)
	if !ok {
		return
	}
	viewer := identity.Principal.UserID()

	entries, err := h.store.ListForCase(r.Context(), c.ID, viewer)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if unread := Unread(entries, viewer); len(unread) > 0 {
		added, err := h.store.MarkRead(r.Context(), viewer, unread, h.now())
		if err != nil {
			response.Error(w, r, err)
			return
		}
		metrics.RecordReadReceipts(added)
	}

	views := make([]MessageView, len(entries))
	for i, e := range entries {
		views[i] = toView(e, viewer)
	}

	response.JSON(w, http.StatusOK, Conversation{
		Case:     CaseHeader{ID: c.ID, CaseNumber: c.CaseNumber, Title: c.Title},
		Messages: views,
	})
}

// SendMessage posts a message to the case as the caller.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := response.Decode(w, r, &req); err != nil {
		response.Error(w, r, invalidJSON(err))
		return
	}
	if req.Content == nil || strings.TrimSpace(*req.Content) == "" {
		response.Error(w, r, errors.BadRequest(msgContentRequired).WithCode("MISSING_CONTENT"))
		return
	}

	c, identity, ok := h.loadCase(w, r, "send_message", msgNoSendAccess)
	if !ok {
		return
	}
	sender := identity.Principal.UserID()
	role := identity.Principal.Role()

	m, err := NewMessage(c.ID, sender, *req.Content, req.Subject, req.IsFlagged, req.Attachments, h.now())
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if err := h.store.Create(r.Context(), m); err != nil {
		response.Error(w, r, err)
		return
	}

	metrics.RecordMessageSent(string(role))
	h.events.Emit(r.Context(), events.NewEvent(events.MessageSent, events.AggregateCase, c.ID, map[string]any{
		"messageId": m.ID,
		"isFlagged": m.IsFlagged,
	}).WithActor(sender, string(role)))

	zerolog.Ctx(r.Context()).Info().
		Str("case_id", c.ID.String()).
		Str("message_id", m.ID.String()).
		Msg("message sent")

	entry := Entry{
		Message: *m,
		Sender:  Sender{ID: sender, Name: identity.Name, Email: identity.Email, Role: role},
	}
	response.JSON(w, http.StatusCreated, SentMessage{Message: toView(entry, sender)})
}

// FlagMessage sets or clears the flag of a message on the case.
func (h *Handler) FlagMessage(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	var req FlagMessageRequest
	if err := response.Decode(w, r, &req); err != nil {
		response.Error(w, r, invalidJSON(err))
		return
	}
	var flagged bool
	if strings.TrimSpace(req.MessageID) == "" || json.Unmarshal(req.IsFlagged, &flagged) != nil || string(req.IsFlagged) == "null" {
		response.Error(w, r, errors.BadRequest(msgFlagFieldsRequired).WithCode("MISSING_FIELDS"))
		return
	}

	caseID, err := types.ParseID(chi.URLParam(r, "caseID"))
	if err != nil {
		response.Error(w, r, errors.NotFound("case", chi.URLParam(r, "caseID")).WithMessage(msgCaseNotFound))
		return
	}

	m, err := h.findMessage(r.Context(), req.MessageID)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if m.CaseID != caseID {
		response.Error(w, r, errors.NotFound("message", req.MessageID).WithMessage(msgMessageNotFound))
		return
	}

	c, err := h.cases.FindByID(r.Context(), m.CaseID)
	if err != nil {
		response.Error(w, r, caseNotFound(err))
		return
	}
	if !authz.AuthorizeCase(identity.Principal, c.Scope(), "flag_message") {
		response.Error(w, r, errors.Forbidden(msgNoFlagAccess))
		return
	}

	if err := h.store.SetFlagged(r.Context(), m.ID, flagged, h.now()); err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, FlaggedMessage{Message: FlagState{ID: m.ID, IsFlagged: flagged}})
}

func (h *Handler) findMessage(ctx context.Context, rawID string) (*Message, error) {
	id, err := types.ParseID(strings.TrimSpace(rawID))
	if err != nil {
		return nil, errors.NotFound("message", rawID).WithMessage(msgMessageNotFound)
	}
	m, err := h.store.FindByID(ctx, id)
	if err != nil {
		if appErr, ok := errors.As(err); ok && errors.Is(err, errors.ErrNotFound) {
			return nil, appErr.WithMessage(msgMessageNotFound)
		}
		return nil, err
	}
	return m, nil
}

// loadCase resolves {caseID} and applies the authorization resolver. On
// failure the response has been written and ok is false.
func (h *Handler) loadCase(w http.ResponseWriter, r *http.Request, action, denied string) (*domain.Case, *authz.Identity, bool) {
	identity := auth.GetIdentity(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "caseID"))
	if err != nil {
		response.Error(w, r, errors.NotFound("case", chi.URLParam(r, "caseID")).WithMessage(msgCaseNotFound))
		return nil, nil, false
	}

	c, err := h.cases.FindByID(r.Context(), id)
	if err != nil {
		response.Error(w, r, caseNotFound(err))
		return nil, nil, false
	}

	if !authz.AuthorizeCase(identity.Principal, c.Scope(), action) {
		response.Error(w, r, errors.Forbidden(denied))
		return nil, nil, false
	}
	return c, identity, true
}

func invalidJSON(err error) error {
	if appErr, ok := errors.As(err); ok {
		return appErr.WithMessage(msgInvalidJSON).WithCode("INVALID_JSON")
	}
	return err
}

func caseNotFound(err error) error {
	if appErr, ok := errors.As(err); ok && errors.Is(err, errors.ErrNotFound) {
		return appErr.WithMessage(msgCaseNotFound)
	}
	return err
}
