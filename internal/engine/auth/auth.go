package auth

import (
	"fmt"

	"caseline/internal/domain"
)

// ForbiddenError indicates the actor may not perform an action on a case
// outside the status graph (editing, deleting, log maintenance).
type ForbiddenError struct {
	Action string
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s not permitted", e.Action)
	}
	return fmt.Sprintf("%s not permitted: %s", e.Action, e.Reason)
}

// UnauthorizedError is a rejected status transition. Rule names the
// violated rule of the capability table.
type UnauthorizedError struct {
	Rule   string
	Reason string
	From   domain.Status
	To     domain.Status
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("transition %s -> %s unauthorized (%s): %s", e.From, e.To, e.Rule, e.Reason)
}

// IsReviewer reports whether the role reviews cases: it may change status
// and maintain the audit log.
func IsReviewer(r domain.Role) bool {
	switch r {
	case domain.RoleSupervisor, domain.RoleCounselor, domain.RoleAdministrator:
		return true
	}
	return false
}

// CanRevertResolved reports the highest privilege: reopening resolved cases.
func CanRevertResolved(r domain.Role) bool {
	return r == domain.RoleAdministrator
}

func CanDeleteCase(r domain.Role) bool {
	return r == domain.RoleAdministrator
}

// CanViewAll reports whether the role sees every case or only its own.
func CanViewAll(r domain.Role) bool {
	return IsReviewer(r)
}

func CanRegister(r domain.Role) bool {
	return r.Valid()
}

// CanAccess reports whether actorID acting as role may see case c.
func CanAccess(r domain.Role, actorID string, c domain.Case) bool {
	if CanViewAll(r) {
		return true
	}
	return actorID != "" && c.CreatedBy == actorID
}
