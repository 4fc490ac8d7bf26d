package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/trademark"
)

// --- Response types ---

// CaseSummary is one row of a case list.
type CaseSummary struct {
	ID            string               `json:"id"`
	CaseNumber    string               `json:"caseNumber"`
	Title         string               `json:"title"`
	TrademarkType domain.TrademarkType `json:"trademarkType"`
	Status        domain.Status        `json:"status"`
	StatusLabel   string               `json:"statusLabel"`
	Classes       []string             `json:"classes"`
	Applicant     string               `json:"applicant"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// CaseList is the body of the list endpoints.
type CaseList struct {
	Cases []CaseSummary `json:"cases"`
	Total int           `json:"total"`
}

// ClientCaseDetail is what the owning client sees.
type ClientCaseDetail struct {
	ID                string                `json:"id"`
	CaseNumber        string                `json:"caseNumber"`
	Title             string                `json:"title"`
	Status            domain.Status         `json:"status"`
	StatusLabel       string                `json:"statusLabel"`
	TrademarkType     domain.TrademarkType  `json:"trademarkType"`
	Applicant         string                `json:"applicant"`
	Classes           []string              `json:"classes"`
	ConsultationRoute *string               `json:"consultationRoute"`
	Progress          []domain.ProgressStep `json:"progress"`
}

// AdminCaseDetail is the full record shown in the admin area.
type AdminCaseDetail struct {
	ClientCaseDetail
	TrademarkDetails        json.RawMessage            `json:"trademarkDetails"`
	ClassSelections         []trademark.ClassSelection `json:"classSelections"`
	ClassCategory           *string                    `json:"classCategory"`
	ProductService          *string                    `json:"productService"`
	ClientIntake            json.RawMessage            `json:"clientIntake"`
	ConsultationStarted     bool                       `json:"consultationStarted"`
	Notes                   *string                    `json:"notes"`
	UserID                  string                     `json:"userId"`
	AssignedAttorneyID      *string                    `json:"assignedAttorneyId"`
	AssignedInternalStaffID *string                    `json:"assignedInternalStaffId"`
	CreatedAt               time.Time                  `json:"createdAt"`
	UpdatedAt               time.Time                  `json:"updatedAt"`
}

// CreatedCase is returned by POST /api/cases.
type CreatedCase struct {
	ID         string `json:"id"`
	CaseNumber string `json:"caseNumber"`
	Title      string `json:"title"`
}

// UpdatedCase is returned by the PATCH endpoints.
type UpdatedCase struct {
	ID                      string        `json:"id"`
	CaseNumber              string        `json:"caseNumber"`
	Title                   string        `json:"title"`
	Status                  domain.Status `json:"status"`
	StatusLabel             string        `json:"statusLabel"`
	ConsultationRoute       *string       `json:"consultationRoute"`
	Notes                   *string       `json:"notes,omitempty"`
	AssignedAttorneyID      *string       `json:"assignedAttorneyId,omitempty"`
	AssignedInternalStaffID *string       `json:"assignedInternalStaffId,omitempty"`
}

func toSummary(c domain.Case) CaseSummary {
	return CaseSummary{
		ID:            c.ID.String(),
		CaseNumber:    c.CaseNumber,
		Title:         c.Title,
		TrademarkType: c.TrademarkType,
		Status:        c.Status,
		StatusLabel:   c.Status.Label(),
		Classes:       classesOrEmpty(c.Classes),
		Applicant:     c.Applicant,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toList(cases []domain.Case, total int) CaseList {
	out := make([]CaseSummary, 0, len(cases))
	for _, c := range cases {
		out = append(out, toSummary(c))
	}
	return CaseList{Cases: out, Total: total}
}

func toClientDetail(c *domain.Case) ClientCaseDetail {
	return ClientCaseDetail{
		ID:                c.ID.String(),
		CaseNumber:        c.CaseNumber,
		Title:             c.Title,
		Status:            c.Status,
		StatusLabel:       c.Status.Label(),
		TrademarkType:     c.TrademarkType,
		Applicant:         c.Applicant,
		Classes:           classesOrEmpty(c.Classes),
		ConsultationRoute: optional(string(c.ConsultationRoute)),
		Progress:          domain.Progress(c.Status),
	}
}

func toAdminDetail(c *domain.Case) AdminCaseDetail {
	return AdminCaseDetail{
		ClientCaseDetail:        toClientDetail(c),
		TrademarkDetails:        jsonOrNull(c.TrademarkDetails),
		ClassSelections:         c.ClassSelections,
		ClassCategory:           optional(c.ClassCategory),
		ProductService:          optional(c.ProductService),
		ClientIntake:            jsonOrNull(c.ClientIntake),
		ConsultationStarted:     c.ConsultationStarted,
		Notes:                   optional(c.Notes),
		UserID:                  c.UserID.String(),
		AssignedAttorneyID:      optional(c.AssignedAttorneyID.String()),
		AssignedInternalStaffID: optional(c.AssignedInternalStaffID.String()),
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
}

func toUpdated(c *domain.Case) UpdatedCase {
	return UpdatedCase{
		ID:                c.ID.String(),
		CaseNumber:        c.CaseNumber,
		Title:             c.Title,
		Status:            c.Status,
		StatusLabel:       c.Status.Label(),
		ConsultationRoute: optional(string(c.ConsultationRoute)),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func classesOrEmpty(classes []string) []string {
	if classes == nil {
		return []string{}
	}
	return classes
}

// listFilterFromQuery reads the shared list parameters: status,
// trademarkType, classes (comma separated), q, sortBy and sortOrder.
// Unknown status or type values match nothing rather than everything.
func listFilterFromQuery(r *http.Request, allowed []domain.SortField) domain.ListFilter {
	q := r.URL.Query()

	filter := domain.ListFilter{
		Status:        domain.Status(strings.TrimSpace(q.Get("status"))),
		TrademarkType: domain.TrademarkType(strings.TrimSpace(q.Get("trademarkType"))),
		Search:        strings.TrimSpace(q.Get("q")),
		SortBy:        domain.ParseSortField(q.Get("sortBy"), allowed),
		SortDesc:      q.Get("sortOrder") != "asc",
	}

	if raw := q.Get("classes"); raw != "" {
		for _, code := range strings.Split(raw, ",") {
			if code = strings.TrimSpace(code); code != "" {
				if class, ok := trademark.LookupClass(code); ok {
					code = class.Code
				}
				filter.Classes = append(filter.Classes, code)
			}
		}
	}
	return filter
}
