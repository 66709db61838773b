package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/domain"
)

func TestDecideReviewerGraph(t *testing.T) {
	tests := []struct {
		name     string
		role     domain.Role
		from, to domain.Status
		just     string
		allowed  bool
		rule     string
	}{
		{"auto read needs no comment", domain.RoleSupervisor, domain.StatusRegistered, domain.StatusRead, "", true, RuleAllowed},
		{"counselor reads", domain.RoleCounselor, domain.StatusRegistered, domain.StatusRead, "", true, RuleAllowed},
		{"escalate", domain.RoleSupervisor, domain.StatusRead, domain.StatusAttention, "Escalated", true, RuleAllowed},
		{"escalate without comment", domain.RoleSupervisor, domain.StatusRead, domain.StatusAttention, "  ", false, RuleJustificationRequired},
		{"de-escalate", domain.RoleCounselor, domain.StatusAttention, domain.StatusRead, "calmer", true, RuleAllowed},
		{"resolve from read", domain.RoleAdministrator, domain.StatusRead, domain.StatusResolved, "done", true, RuleAllowed},
		{"resolve from attention", domain.RoleSupervisor, domain.StatusAttention, domain.StatusResolved, "done", true, RuleAllowed},
		{"skip read", domain.RoleSupervisor, domain.StatusRegistered, domain.StatusAttention, "x", false, RuleTransitionNotAllowed},
		{"resolve registered", domain.RoleAdministrator, domain.StatusRegistered, domain.StatusResolved, "x", false, RuleTransitionNotAllowed},
		{"back to registered", domain.RoleAdministrator, domain.StatusRead, domain.StatusRegistered, "x", false, RuleTransitionNotAllowed},
		{"same status", domain.RoleSupervisor, domain.StatusRead, domain.StatusRead, "x", false, RuleNoOp},
		{"supervisor reopen", domain.RoleSupervisor, domain.StatusResolved, domain.StatusRead, "x", false, RuleResolvedLocked},
		{"counselor to attention", domain.RoleCounselor, domain.StatusResolved, domain.StatusAttention, "x", false, RuleResolvedLocked},
		{"admin reopen", domain.RoleAdministrator, domain.StatusResolved, domain.StatusRead, "", true, RuleAllowed},
		{"admin resolved to attention", domain.RoleAdministrator, domain.StatusResolved, domain.StatusAttention, "x", false, RuleResolvedLocked},
		{"teacher", domain.RoleTeacher, domain.StatusRegistered, domain.StatusRead, "", false, RuleRoleCannotTransition},
		{"secretary", domain.RoleSecretary, domain.StatusRead, domain.StatusAttention, "x", false, RuleRoleCannotTransition},
		{"unknown role", domain.Role("janitor"), domain.StatusRead, domain.StatusAttention, "x", false, RuleUnknownRole},
		{"unknown status", domain.RoleSupervisor, domain.StatusRead, domain.Status("closed"), "x", false, RuleInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.role, tt.from, tt.to, tt.just)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.rule, d.Rule)
			if tt.allowed {
				assert.NoError(t, d.Err())
				return
			}
			var ue UnauthorizedError
			require.True(t, errors.As(d.Err(), &ue))
			assert.Equal(t, tt.rule, ue.Rule)
			assert.NotEmpty(t, ue.Reason)
		})
	}
}

func TestDecideSystemEntryFlags(t *testing.T) {
	d := Decide(domain.RoleAdministrator, domain.StatusResolved, domain.StatusRead, "")
	require.True(t, d.Allowed)
	assert.True(t, d.SystemEntry)
	assert.False(t, d.RequiresJustification)

	d = Decide(domain.RoleAdministrator, domain.StatusResolved, domain.StatusRead, "parent asked to reopen")
	require.True(t, d.Allowed)

	d = Decide(domain.RoleSupervisor, domain.StatusRead, domain.StatusResolved, "ok")
	require.True(t, d.Allowed)
	assert.True(t, d.RequiresJustification)
	assert.False(t, d.SystemEntry)
}

func TestAllowedTargets(t *testing.T) {
	assert.Equal(t, []domain.Status{domain.StatusAttention, domain.StatusResolved},
		AllowedTargets(domain.RoleSupervisor, domain.StatusRead))
	assert.Empty(t, AllowedTargets(domain.RoleSupervisor, domain.StatusResolved))
	assert.Equal(t, []domain.Status{domain.StatusRead}, AllowedTargets(domain.RoleAdministrator, domain.StatusResolved))
	assert.Empty(t, AllowedTargets(domain.RoleTeacher, domain.StatusRegistered))
}

func TestAccessHelpers(t *testing.T) {
	c := domain.Case{CreatedBy: "t-1"}
	assert.True(t, CanAccess(domain.RoleTeacher, "t-1", c))
	assert.False(t, CanAccess(domain.RoleTeacher, "t-2", c))
	assert.True(t, CanAccess(domain.RoleCounselor, "c-1", c))
	assert.True(t, CanDeleteCase(domain.RoleAdministrator))
	assert.False(t, CanDeleteCase(domain.RoleSupervisor))
	assert.False(t, IsReviewer(domain.RoleSecretary))
	assert.True(t, CanRegister(domain.RoleSecretary))
}
