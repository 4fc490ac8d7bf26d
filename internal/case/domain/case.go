package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/errors"
	"github.com/mj-trademark/portal/internal/shared/types"
	"github.com/mj-trademark/portal/internal/trademark"
)

// TrademarkType distinguishes word marks from logo marks.
type TrademarkType string

const (
	TrademarkTypeText TrademarkType = "TEXT"
	TrademarkTypeLogo TrademarkType = "LOGO"
)

// ParseTrademarkType accepts TEXT or LOGO.
func ParseTrademarkType(s string) (TrademarkType, error) {
	switch TrademarkType(s) {
	case TrademarkTypeText, TrademarkTypeLogo:
		return TrademarkType(s), nil
	}
	return "", fmt.Errorf("invalid trademark type %q", s)
}

// ConsultationRoute is how the client chose to proceed after the search.
// The empty value means no route has been chosen.
type ConsultationRoute string

const (
	RouteAISelfService        ConsultationRoute = "AI_SELF_SERVICE"
	RouteAttorneyConsultation ConsultationRoute = "ATTORNEY_CONSULTATION"
)

// ParseConsultationRoute accepts the two routes; "" clears the route.
func ParseConsultationRoute(s string) (ConsultationRoute, error) {
	switch ConsultationRoute(s) {
	case "", RouteAISelfService, RouteAttorneyConsultation:
		return ConsultationRoute(s), nil
	}
	return "", fmt.Errorf("invalid consultation route %q", s)
}

// Case is a trademark registration case.
type Case struct {
	ID             types.ID      `json:"id"`
	CaseNumber     string        `json:"caseNumber"`
	SequenceNumber int           `json:"sequenceNumber"`
	UserID         types.ID      `json:"userId"`
	Title          string        `json:"title"`
	TrademarkType  TrademarkType `json:"trademarkType"`
	Applicant      string        `json:"applicant"`
	Classes        []string      `json:"classes"`

	// Loose documents passed through from the wizard
	TrademarkDetails json.RawMessage            `json:"trademarkDetails"`
	ClassSelections  []trademark.ClassSelection `json:"classSelections"`
	ClassCategory    string                     `json:"classCategory"`
	ProductService   string                     `json:"productService"`
	ClientIntake     json.RawMessage            `json:"clientIntake"`

	ConsultationRoute   ConsultationRoute `json:"consultationRoute"`
	ConsultationStarted bool              `json:"consultationStarted"`
	Status              Status            `json:"status"`
	Notes               string            `json:"notes"`

	AssignedAttorneyID      types.ID `json:"assignedAttorneyId"`
	AssignedInternalStaffID types.ID `json:"assignedInternalStaffId"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// NewCaseParams is the client's intake submission.
type NewCaseParams struct {
	OwnerID           types.ID
	Title             string
	TrademarkType     string
	Applicant         string
	Classes           []string
	TrademarkDetails  json.RawMessage
	ClassSelections   []trademark.ClassSelection
	ClassCategory     string
	ProductService    string
	ConsultationRoute string
}

// NewCase validates an intake submission and builds a DRAFT case. The case
// number is allocated by the repository on insert.
func NewCase(p NewCaseParams, now time.Time) (*Case, error) {
	details := map[string]string{}

	title := strings.TrimSpace(p.Title)
	if title == "" {
		details["title"] = "title is required"
	}
	applicant := strings.TrimSpace(p.Applicant)
	if applicant == "" {
		details["applicant"] = "applicant is required"
	}

	var tmType TrademarkType
	if p.TrademarkType == "" {
		details["trademarkType"] = "trademarkType is required"
	} else if t, err := ParseTrademarkType(p.TrademarkType); err != nil {
		details["trademarkType"] = "trademarkType must be TEXT or LOGO"
	} else {
		tmType = t
	}

	classes, invalid := trademark.NormalizeClasses(p.Classes)
	switch {
	case len(invalid) > 0:
		details["classes"] = "unknown class codes: " + strings.Join(invalid, ",")
	case len(classes) == 0:
		details["classes"] = "at least one class is required"
	}

	var selections []trademark.ClassSelection
	if p.ClassSelections != nil {
		clean, badCodes := trademark.SanitizeSelections(p.ClassSelections)
		if len(badCodes) > 0 {
			details["classSelections"] = "unknown class codes: " + strings.Join(badCodes, ",")
		}
		selections = clean
	}

	route, err := ParseConsultationRoute(p.ConsultationRoute)
	if err != nil {
		details["consultationRoute"] = "consultationRoute must be AI_SELF_SERVICE or ATTORNEY_CONSULTATION"
	}

	if p.OwnerID.IsZero() {
		details["userId"] = "owner is required"
	}

	if len(details) > 0 {
		return nil, errors.Validation("invalid case", details)
	}

	return &Case{
		ID:                types.NewID(),
		UserID:            p.OwnerID,
		Title:             title,
		TrademarkType:     tmType,
		Applicant:         applicant,
		Classes:           classes,
		TrademarkDetails:  normalizeJSON(p.TrademarkDetails),
		ClassSelections:   selections,
		ClassCategory:     strings.TrimSpace(p.ClassCategory),
		ProductService:    strings.TrimSpace(p.ProductService),
		ConsultationRoute: route,
		Status:            StatusDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// ClientUpdate is a client's PATCH. Nil fields are left unchanged; an empty
// ConsultationRoute clears the route and a JSON null ClientIntake clears the
// intake.
type ClientUpdate struct {
	Applicant         *string
	ClientIntake      json.RawMessage
	ConsultationRoute *string
	Status            *string
}

// Change summarises what an update did, for activity events and metrics.
type Change struct {
	Fields    []string
	OldStatus Status
	NewStatus Status
}

// StatusChanged reports whether the update moved the case to a new status.
func (c Change) StatusChanged() bool {
	return c.OldStatus != c.NewStatus
}

// ApplyClientUpdate validates every field before touching the case, so a
// bad status rejects the whole update.
func (c *Case) ApplyClientUpdate(u ClientUpdate, now time.Time) (Change, error) {
	details := map[string]string{}

	var applicant string
	if u.Applicant != nil {
		applicant = strings.TrimSpace(*u.Applicant)
		if applicant == "" {
			details["applicant"] = "applicant must not be empty"
		}
	}

	if u.ClientIntake != nil && !isJSONObjectOrNull(u.ClientIntake) {
		details["clientIntake"] = "clientIntake must be a JSON object"
	}

	var route ConsultationRoute
	if u.ConsultationRoute != nil {
		r, err := ParseConsultationRoute(*u.ConsultationRoute)
		if err != nil {
			details["consultationRoute"] = "consultationRoute must be AI_SELF_SERVICE or ATTORNEY_CONSULTATION"
		}
		route = r
	}

	var status Status
	if u.Status != nil {
		s, err := ParseStatus(*u.Status)
		if err != nil {
			return Change{}, errors.Validation("invalid status", map[string]string{"status": err.Error()}).
				WithCode("INVALID_STATUS")
		}
		status = s
	}

	if len(details) > 0 {
		return Change{}, errors.Validation("invalid case update", details)
	}

	change := Change{OldStatus: c.Status, NewStatus: c.Status}
	if u.Applicant != nil {
		c.Applicant = applicant
		change.Fields = append(change.Fields, "applicant")
	}
	if u.ClientIntake != nil {
		c.ClientIntake = normalizeJSON(u.ClientIntake)
		change.Fields = append(change.Fields, "clientIntake")
	}
	if u.ConsultationRoute != nil {
		c.ConsultationRoute = route
		change.Fields = append(change.Fields, "consultationRoute")
	}
	if u.Status != nil {
		c.Status = status
		change.NewStatus = status
		change.Fields = append(change.Fields, "status")
	}
	c.UpdatedAt = now
	return change, nil
}

// StaffUpdate is an admin-area PATCH. Assignment ids are strings so an empty
// value can clear the assignment; nil leaves it unchanged.
type StaffUpdate struct {
	Status                  *string
	Notes                   *string
	AssignedAttorneyID      *string
	AssignedInternalStaffID *string
}

// ChangesAssignment reports whether the update touches either assignment.
func (u StaffUpdate) ChangesAssignment() bool {
	return u.AssignedAttorneyID != nil || u.AssignedInternalStaffID != nil
}

// ApplyStaffUpdate validates and applies a staff update. Whether the caller
// may assign, and whether the referenced profiles exist, is checked by the
// handler before this runs.
func (c *Case) ApplyStaffUpdate(u StaffUpdate, now time.Time) (Change, error) {
	details := map[string]string{}

	var status Status
	if u.Status != nil {
		s, err := ParseStatus(*u.Status)
		if err != nil {
			details["status"] = err.Error()
		}
		status = s
	}

	attorneyID, err := parseOptionalID(u.AssignedAttorneyID)
	if err != nil {
		details["assignedAttorneyId"] = "assignedAttorneyId must be a valid id"
	}
	staffID, err := parseOptionalID(u.AssignedInternalStaffID)
	if err != nil {
		details["assignedInternalStaffId"] = "assignedInternalStaffId must be a valid id"
	}

	if len(details) > 0 {
		return Change{}, errors.Validation("invalid case update", details)
	}

	change := Change{OldStatus: c.Status, NewStatus: c.Status}
	if u.Status != nil {
		c.Status = status
		change.NewStatus = status
		change.Fields = append(change.Fields, "status")
	}
	if u.Notes != nil {
		c.Notes = strings.TrimSpace(*u.Notes)
		change.Fields = append(change.Fields, "notes")
	}
	if u.AssignedAttorneyID != nil {
		c.AssignedAttorneyID = attorneyID
		change.Fields = append(change.Fields, "assignedAttorneyId")
	}
	if u.AssignedInternalStaffID != nil {
		c.AssignedInternalStaffID = staffID
		change.Fields = append(change.Fields, "assignedInternalStaffId")
	}
	c.UpdatedAt = now
	return change, nil
}

// Scope is the part of the case the authorization resolver looks at.
func (c *Case) Scope() auth.CaseScope {
	return auth.CaseScope{
		OwnerID:         c.UserID,
		AttorneyID:      c.AssignedAttorneyID,
		InternalStaffID: c.AssignedInternalStaffID,
	}
}

// MarkDeleted soft-deletes the case.
func (c *Case) MarkDeleted(now time.Time) {
	c.DeletedAt = &now
	c.UpdatedAt = now
}

// IsDeleted reports whether the case was soft-deleted.
func (c *Case) IsDeleted() bool {
	return c.DeletedAt != nil
}

func parseOptionalID(s *string) (types.ID, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "", nil
	}
	return types.ParseID(strings.TrimSpace(*s))
}

// normalizeJSON maps an absent or null document to nil.
func normalizeJSON(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), trimmed...)
}

func isJSONObjectOrNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
