package directory

import (
	"time"

	"github.com/google/uuid"

	"github.com/engagetrack/engagetrack/internal/rbac"
)

// SessionExpiry is the default window after which a login is considered
// expired. Mirrors the admin console's seven-day badge logic.
const SessionExpiry = 168 * time.Hour

// UserAccount is one row of the user directory.
type UserAccount struct {
	ID          uuid.UUID   `json:"user_id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"full_name"`
	Roles       []rbac.Role `json:"roles"`
	Blocked     bool        `json:"is_blocked"`
	BlockedAt   *time.Time  `json:"blocked_at,omitempty"`
	BlockReason string      `json:"block_reason,omitempty"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CurrentRole collapses the held set to the highest-ranked role.
func (u UserAccount) CurrentRole() rbac.Role {
	return rbac.Highest(u.Roles)
}

// HasRole reports whether the account holds the given role.
func (u UserAccount) HasRole(role rbac.Role) bool {
	for _, held := range u.Roles {
		if held == role {
			return true
		}
	}
	return false
}

// SessionStatus classifies an account by recency of its last login.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionExpiring SessionStatus = "expiring"
	SessionExpired  SessionStatus = "expired"
	SessionNever    SessionStatus = "never"
)

// SessionStatusAt derives the session badge for the account at the given
// instant. The last day of the window counts as expiring.
func (u UserAccount) SessionStatusAt(now time.Time, window time.Duration) SessionStatus {
	if u.LastLoginAt == nil {
		return SessionNever
	}
	elapsed := now.Sub(*u.LastLoginAt)
	switch {
	case elapsed >= window:
		return SessionExpired
	case elapsed >= window-24*time.Hour:
		return SessionExpiring
	default:
		return SessionActive
	}
}

// ChangeResult reports an accepted single-target mutation.
type ChangeResult struct {
	TargetID      uuid.UUID `json:"user_id"`
	ResultingRole rbac.Role `json:"resulting_role"`
	Warning       string    `json:"warning,omitempty"`
}

// BulkOutcome reports a batch of independent single-target decisions.
// Partial success is the expected shape; the batch itself never fails.
type BulkOutcome struct {
	Succeeded int `json:"success"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ListFilter narrows and orders a directory listing.
type ListFilter struct {
	Search   string
	Role     string // "", specific role, or "no-roles"
	Blocked  *bool
	Session  string // "", active, expiring, expired, never, inactive
	SortBy   string // name, email, roles, last_login
	SortDesc bool
	Page     int
	PageSize int
}
