package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Roles known to the system.
const (
	RoleAdmin     = "admin"
	RoleOperativo = "operativo"
)

// IdentityContext names one of the two independent session scopes. Each
// device/tab may hold one session per context; signing out of one never
// invalidates the other.
type IdentityContext string

const (
	ContextAdmin    IdentityContext = "admin"
	ContextDelivery IdentityContext = "delivery"
)

// ParseIdentityContext validates a caller-supplied context name. The context
// is always explicit in the API; it is never inferred from whichever session
// happens to be populated.
func ParseIdentityContext(s string) (IdentityContext, error) {
	switch IdentityContext(s) {
	case ContextAdmin, ContextDelivery:
		return IdentityContext(s), nil
	}
	return "", fmt.Errorf("unknown identity context %q", s)
}

// Principal is a resolved authenticated identity with its role, as carried in
// session-token claims.
type Principal struct {
	SessionID uuid.UUID       `json:"session_id"`
	Context   IdentityContext `json:"context"`
	Role      string          `json:"role"`
	Name      string          `json:"name"`
	Email     *string         `json:"email,omitempty"`
	Anonymous bool            `json:"anonymous"`
}

// IsAdmin reports whether the principal may perform admin-gated mutations.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Session is one live identity session row. Anonymous sessions are created
// for the PIN flow and torn down immediately when the PIN does not match.
type Session struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Context       IdentityContext `json:"context" db:"context"`
	Role          string          `json:"role" db:"role"`
	Name          string          `json:"name" db:"name"`
	Email         *string         `json:"email,omitempty" db:"email"`
	Anonymous     bool            `json:"anonymous" db:"anonymous"`
	LastRole      *string         `json:"last_role,omitempty" db:"last_role"`
	LastStaffName *string         `json:"last_staff_name,omitempty" db:"last_staff_name"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Preferences is the persisted last-used display role and courier name,
// used to skip re-prompting after a PIN session.
type Preferences struct {
	Role      string `json:"role"`
	StaffName string `json:"staff_name"`
}

// StaffAccessEntry is a PIN roster document from the staff_access collection.
type StaffAccessEntry struct {
	Name string `json:"name"`
	Role string `json:"role"`
	PIN  string `json:"pin"`
}
