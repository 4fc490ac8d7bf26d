package domain

import (
	"context"
	"time"

	"github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// Repository defines the interface for case persistence
type Repository interface {
	// Create allocates the per-client sequence number and case number and
	// inserts the case in one transaction, retrying on a numbering conflict.
	Create(ctx context.Context, c *Case) error
	// FindByID returns NotFound for unknown and soft-deleted cases.
	FindByID(ctx context.Context, id types.ID) (*Case, error)
	Update(ctx context.Context, c *Case) error
	SoftDelete(ctx context.Context, id types.ID, at time.Time) error

	// Query operations
	List(ctx context.Context, filter ListFilter) ([]Case, int, error)
}

// SortField is a column cases can be ordered by.
type SortField string

const (
	SortByCaseNumber SortField = "caseNumber"
	SortByTitle      SortField = "title"
	SortByApplicant  SortField = "applicant"
	SortByStatus     SortField = "status"
	SortByCreatedAt  SortField = "createdAt"
	SortByUpdatedAt  SortField = "updatedAt"
)

// ClientSortFields are the orderings offered on the client case list.
var ClientSortFields = []SortField{SortByTitle, SortByStatus, SortByUpdatedAt}

// AdminSortFields are the orderings offered on the admin case list.
var AdminSortFields = []SortField{
	SortByCaseNumber, SortByTitle, SortByApplicant, SortByStatus, SortByCreatedAt, SortByUpdatedAt,
}

// ParseSortField returns s when it is one of allowed, else updatedAt.
func ParseSortField(s string, allowed []SortField) SortField {
	for _, f := range allowed {
		if string(f) == s {
			return f
		}
	}
	return SortByUpdatedAt
}

// ListFilter defines filters for listing cases. Soft-deleted cases are
// always excluded. Zero-valued fields do not filter.
type ListFilter struct {
	OwnerID         types.ID
	AttorneyID      types.ID
	InternalStaffID types.ID

	Status        Status
	TrademarkType TrademarkType
	// Classes matches cases holding any of the codes.
	Classes []string
	// Search is a case-insensitive substring of case number or title, and
	// of applicant when SearchApplicant is set.
	Search          string
	SearchApplicant bool

	SortBy   SortField
	SortDesc bool
}

// AccessFilter restricts a listing to the cases p may see. ok is false when
// p can see no case at all, e.g. an attorney without a profile row.
func AccessFilter(p auth.Principal) (filter ListFilter, ok bool) {
	switch v := p.(type) {
	case auth.AdminPrincipal:
		return ListFilter{}, true
	case auth.ClientPrincipal:
		return ListFilter{OwnerID: v.User}, !v.User.IsZero()
	case auth.AttorneyPrincipal:
		return ListFilter{AttorneyID: v.Profile}, !v.Profile.IsZero()
	case auth.InternalStaffPrincipal:
		return ListFilter{InternalStaffID: v.Profile}, !v.Profile.IsZero()
	default:
		return ListFilter{}, false
	}
}
