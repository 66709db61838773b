package auth

import (
	"fmt"
	"sort"
	"strings"

	"caseline/internal/domain"
)

// Rule identifiers reported by Decide.
const (
	RuleAllowed               = "allowed"
	RuleInvalidStatus         = "invalid-status"
	RuleUnknownRole           = "unknown-role"
	RuleNoOp                  = "same-status"
	RuleRoleCannotTransition  = "role-cannot-transition"
	RuleResolvedLocked        = "resolved-locked"
	RuleTransitionNotAllowed  = "transition-not-allowed"
	RuleJustificationRequired = "justification-required"
)

// Decision is the result of checking a requested transition.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
	// RequiresJustification is set when the edge demands a non-empty comment.
	RequiresJustification bool
	// SystemEntry is set when the edge may be logged with a system-authored
	// comment because the caller is not required to give one.
	SystemEntry bool
	From        domain.Status
	To          domain.Status
}

// Err returns nil for allowed decisions and an UnauthorizedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return UnauthorizedError{Rule: d.Rule, Reason: d.Reason, From: d.From, To: d.To}
}

type edge struct {
	justification bool
}

type edgeSet map[domain.Status]map[domain.Status]edge

var reviewerEdges = edgeSet{
	domain.StatusRegistered: {domain.StatusRead: {justification: false}},
	domain.StatusRead: {
		domain.StatusAttention: {justification: true},
		domain.StatusResolved:  {justification: true},
	},
	domain.StatusAttention: {
		domain.StatusRead:     {justification: true},
		domain.StatusResolved: {justification: true},
	},
}

var capabilities = map[domain.Role]edgeSet{
	domain.RoleTeacher:       {},
	domain.RoleSecretary:     {},
	domain.RoleSupervisor:    reviewerEdges,
	domain.RoleCounselor:     reviewerEdges,
	domain.RoleAdministrator: withEdges(reviewerEdges, domain.StatusResolved, domain.StatusRead, edge{justification: false}),
}

func withEdges(base edgeSet, from, to domain.Status, e edge) edgeSet {
	out := edgeSet{}
	for f, targets := range base {
		out[f] = map[domain.Status]edge{}
		for t, v := range targets {
			out[f][t] = v
		}
	}
	if out[from] == nil {
		out[from] = map[domain.Status]edge{}
	}
	out[from][to] = e
	return out
}

// Decide checks whether role may move a case from current to requested with
// the given justification. It has no side effects.
func Decide(role domain.Role, current, requested domain.Status, justification string) Decision {
	d := Decision{From: current, To: requested}
	deny := func(rule, format string, args ...any) Decision {
		d.Rule = rule
		d.Reason = fmt.Sprintf(format, args...)
		return d
	}
	if !current.Valid() || !requested.Valid() {
		return deny(RuleInvalidStatus, "unknown status")
	}
	edges, ok := capabilities[role]
	if !ok {
		return deny(RuleUnknownRole, "unknown role %q", role)
	}
	if current == requested {
		return deny(RuleNoOp, "case is already %s", current)
	}
	if len(edges) == 0 {
		return deny(RuleRoleCannotTransition, "role %s cannot change case status", role)
	}
	if current == domain.StatusResolved {
		if !CanRevertResolved(role) {
			return deny(RuleResolvedLocked, "only an administrator may reopen a resolved case")
		}
		if requested != domain.StatusRead {
			return deny(RuleResolvedLocked, "a resolved case may only be reopened to %s", domain.StatusRead)
		}
	}
	e, ok := edges[current][requested]
	if !ok {
		return deny(RuleTransitionNotAllowed, "%s -> %s is not a permitted transition", current, requested)
	}
	d.RequiresJustification = e.justification
	d.SystemEntry = !e.justification
	if e.justification && strings.TrimSpace(justification) == "" {
		return deny(RuleJustificationRequired, "a justification is required for %s -> %s", current, requested)
	}
	d.Allowed = true
	d.Rule = RuleAllowed
	return d
}

// AllowedTargets lists the statuses role may request from current, sorted in
// lifecycle order.
func AllowedTargets(role domain.Role, current domain.Status) []domain.Status {
	edges := capabilities[role]
	var out []domain.Status
	for to := range edges[current] {
		out = append(out, to)
	}
	order := map[domain.Status]int{}
	for i, s := range domain.Statuses {
		order[s] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
