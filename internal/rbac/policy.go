package rbac

// Denial reasons surfaced verbatim to the caller.
const (
	ReasonProtectedRole   = "Admin and SUPER_ADMIN roles cannot be downgraded or removed"
	ReasonSuperAdminGrant = "Only SUPER_ADMIN can assign SUPER_ADMIN role"
	ReasonAdminAssignable = "ADMIN can only assign PARTICIPANT, VIEWER, or HOST roles"
	ReasonAdminTarget     = "ADMIN cannot change ADMIN or SUPER_ADMIN roles"
	ReasonAdminGrant      = "Only SUPER_ADMIN can assign ADMIN role"
	ReasonLastSuperAdmin  = "Cannot remove the last SUPER_ADMIN. Assign SUPER_ADMIN to another user first."
	ReasonBlockRestricted = "Only SUPER_ADMIN can block or unblock users"
	WarningSelfDowngrade  = "downgrading own role"
)

// Decision is the outcome of evaluating a single requested mutation.
// Exactly one of Allowed/Denied applies; a denied decision carries Reason,
// an allowed one carries ResultingRole and possibly a Warning.
type Decision struct {
	Allowed       bool
	ResultingRole Role
	Warning       string
	Reason        string
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

func allow(role Role) Decision {
	return Decision{Allowed: true, ResultingRole: role}
}

// EvaluateChange decides whether the actor may move the target to the
// requested role. Rules are evaluated in order; the first match wins, so
// every input tuple yields exactly one decision.
func EvaluateChange(actor Role, targetRoles []Role, requested Role, isSelf bool) Decision {
	current := Highest(targetRoles)

	// Another user's admin or super_admin grant is immutable downward; the
	// only path off super_admin is the dedicated ownership transfer. Self
	// downgrades fall through to the warning rule and are bounded by the
	// super-admin count guard inside the write transaction.
	if !isSelf && (current == RoleAdmin || current == RoleSuperAdmin) && requested != current {
		return deny(ReasonProtectedRole)
	}

	if requested == RoleSuperAdmin && actor != RoleSuperAdmin {
		return deny(ReasonSuperAdminGrant)
	}

	if actor == RoleAdmin {
		if requested != RoleParticipant && requested != RoleViewer && requested != RoleHost {
			return deny(ReasonAdminAssignable)
		}
		if !isSelf && (current == RoleAdmin || current == RoleSuperAdmin) {
			return deny(ReasonAdminTarget)
		}
	}

	if requested == RoleAdmin && actor != RoleSuperAdmin {
		return deny(ReasonAdminGrant)
	}

	if !isSelf && current == RoleSuperAdmin && requested != RoleSuperAdmin {
		return deny(ReasonLastSuperAdmin)
	}

	if isSelf && requested.Level() < actor.Level() {
		dec := allow(requested)
		dec.Warning = WarningSelfDowngrade
		return dec
	}

	return allow(requested)
}

// EvaluateRemoval maps a role removal onto its fixed downgrade target and
// evaluates the resulting change.
func EvaluateRemoval(actor Role, targetRoles []Role, removed Role, isSelf bool) Decision {
	if removed == RoleAdmin || removed == RoleSuperAdmin {
		return deny(ReasonProtectedRole)
	}
	return EvaluateChange(actor, targetRoles, DowngradeTarget(removed), isSelf)
}

// EvaluateBlock gates block/unblock on the actor alone; the target never
// matters.
func EvaluateBlock(actor Role) Decision {
	if actor != RoleSuperAdmin {
		return deny(ReasonBlockRestricted)
	}
	return Decision{Allowed: true}
}
