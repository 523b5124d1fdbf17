package rbac

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role identifies an access level in the platform.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
	RoleHost        Role = "host"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "super_admin"
)

// AvailableRoles lists every assignable role, lowest rank first.
var AvailableRoles = []Role{RoleParticipant, RoleViewer, RoleHost, RoleAdmin, RoleSuperAdmin}

// hierarchy ranks roles for self-downgrade detection only; permission
// decisions are rule based, not rank based.
var hierarchy = map[Role]int{
	RoleParticipant: 0,
	RoleViewer:      0,
	RoleHost:        1,
	RoleAdmin:       2,
	RoleSuperAdmin:  3,
}

// downgradeTargets maps a removed role to the role the holder falls back to.
// The mapping is fixed; callers cannot override it per request.
var downgradeTargets = map[Role]Role{
	RoleHost:       RoleParticipant,
	RoleAdmin:      RoleParticipant,
	RoleSuperAdmin: RoleAdmin,
}

var titleCaser = cases.Title(language.English)

// Parse validates a raw role string.
func Parse(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("rbac: unknown role %q", raw)
	}
	return role, nil
}

// Valid reports whether the role belongs to the enumerated set.
func (r Role) Valid() bool {
	_, ok := hierarchy[r]
	return ok
}

// Level returns the hierarchy rank of the role.
func (r Role) Level() int {
	return hierarchy[r]
}

// DisplayName renders the role for user-facing text ("super_admin" -> "Super Admin").
func (r Role) DisplayName() string {
	return titleCaser.String(strings.ReplaceAll(string(r), "_", " "))
}

// Highest collapses a role set to the highest-ranked member. An empty set
// collapses to participant, the baseline access level.
func Highest(roles []Role) Role {
	var top Role
	for _, role := range roles {
		if !role.Valid() {
			continue
		}
		if top == "" || role.Level() > top.Level() {
			top = role
		}
	}
	if top == "" {
		return RoleParticipant
	}
	return top
}

// DowngradeTarget returns the role a user is left with after the given role
// is removed.
func DowngradeTarget(r Role) Role {
	if target, ok := downgradeTargets[r]; ok {
		return target
	}
	return RoleParticipant
}
