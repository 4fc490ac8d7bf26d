package identity

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/shared/types"
)

const (
	// MaxNameLength is counted in characters after trimming.
	MaxNameLength = 100

	// MaxCustomerNumberAttempts bounds customer number allocation retries.
	MaxCustomerNumberAttempts = 5
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User is an account of any role.
type User struct {
	ID            types.ID   `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"emailVerified"`
	PasswordHash  string     `json:"-"`
	Role          authz.Role `json:"role"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// NewUser creates an unsaved user. The email is stored normalized.
func NewUser(name, email, passwordHash string, role authz.Role, now time.Time) *User {
	return &User{
		ID:           types.NewID(),
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Profiles are the role profile rows attached to a user. Which ids are set
// follows the user's role.
type Profiles struct {
	ClientID        types.ID
	CustomerNumber  string
	AttorneyID      types.ID
	InternalStaffID types.ID
}

// ProfileFor returns the profile a principal of role is matched on.
func (p Profiles) ProfileFor(role authz.Role) types.ID {
	switch role {
	case authz.RoleAttorney:
		return p.AttorneyID
	case authz.RoleInternalStaff:
		return p.InternalStaffID
	default:
		return ""
	}
}

// StaffEntry is one row of the staff list.
type StaffEntry struct {
	ID              types.ID   `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Role            authz.Role `json:"role"`
	AttorneyID      *string    `json:"attorneyId,omitempty"`
	InternalStaffID *string    `json:"internalStaffId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// FormatCustomerNumber renders a global client sequence as MJ0001.
func FormatCustomerNumber(sequence int) string {
	return fmt.Sprintf("MJ%04d", sequence)
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail checks the shape of a normalized address.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidName reports whether a trimmed name is present and short enough.
func ValidName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && utf8.RuneCountInString(name) <= MaxNameLength
}
