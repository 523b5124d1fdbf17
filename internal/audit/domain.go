package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/engagetrack/engagetrack/internal/rbac"
)

// Action classifies what happened to the target's role assignment.
type Action string

const (
	ActionAdd      Action = "add"
	ActionRemove   Action = "remove"
	ActionChange   Action = "change"
	ActionTransfer Action = "transfer"
	ActionBlock    Action = "block"
	ActionUnblock  Action = "unblock"
)

// Entry is one immutable record in role_audit_logs.
type Entry struct {
	ID       uuid.UUID `json:"id"`
	ActorID  uuid.UUID `json:"actor_id"`
	TargetID uuid.UUID `json:"target_id"`
	Action   Action    `json:"action"`
	Role     rbac.Role `json:"role,omitempty"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"created_at"`
}

// TimelineFilters narrows the audit listing.
type TimelineFilters struct {
	ActorID  uuid.UUID
	TargetID uuid.UUID
	Action   Action
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// PagingInfo describes the window returned by Timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}
