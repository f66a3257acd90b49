package service

import (
	"github.com/noah-isme/form-review-api/internal/models"
)

// Action names an operation gated by the permission policy.
type Action string

const (
	ActionView            Action = "VIEW"
	ActionClaim           Action = "CLAIM"
	ActionUnclaim         Action = "UNCLAIM"
	ActionDecide          Action = "DECIDE"
	ActionDelete          Action = "DELETE"
	ActionComment         Action = "COMMENT"
	ActionSubmit          Action = "SUBMIT"
	ActionAttachRecording Action = "ATTACH_RECORDING"
)

// PermissionPolicy decides which actor may perform which action on a form.
// It holds only the configured role identifiers and performs no lookups.
type PermissionPolicy struct {
	staffRoleID string
	adminRoleID string
}

// NewPermissionPolicy constructs the policy for the given platform roles.
func NewPermissionPolicy(staffRoleID, adminRoleID string) PermissionPolicy {
	return PermissionPolicy{staffRoleID: staffRoleID, adminRoleID: adminRoleID}
}

// IsAdmin is true for elevated users and admin role members.
func (p PermissionPolicy) IsAdmin(actor models.Identity) bool {
	return actor.AccessLevel >= models.AccessLevelElevated || actor.HasRole(p.adminRoleID)
}

// IsStaff is true for admins and staff role members.
func (p PermissionPolicy) IsStaff(actor models.Identity) bool {
	return p.IsAdmin(actor) || actor.HasRole(p.staffRoleID)
}

// Allows evaluates the rules in precedence order; the first matching rule wins.
func (p PermissionPolicy) Allows(actor models.Identity, action Action, form *models.Form) bool {
	if actor.ID == "" {
		return false
	}
	switch action {
	case ActionDelete:
		return p.IsAdmin(actor)
	case ActionClaim:
		return p.IsStaff(actor) && form != nil && form.ClaimedByID == nil
	case ActionUnclaim, ActionDecide, ActionAttachRecording:
		if p.IsAdmin(actor) {
			return true
		}
		return p.IsStaff(actor) && form != nil && form.ClaimedBy(actor.ID)
	case ActionComment:
		return p.IsStaff(actor)
	case ActionView:
		if p.IsStaff(actor) {
			return true
		}
		return form != nil && form.ApplicantID == actor.ID
	case ActionSubmit:
		return form == nil || form.ApplicantID == actor.ID
	default:
		return false
	}
}

// Precheck applies the part of a rule that does not depend on the form, so
// callers can reject an actor before reading anything.
func (p PermissionPolicy) Precheck(actor models.Identity, action Action) bool {
	if actor.ID == "" {
		return false
	}
	switch action {
	case ActionDelete:
		return p.IsAdmin(actor)
	case ActionClaim, ActionUnclaim, ActionDecide, ActionComment, ActionAttachRecording:
		return p.IsStaff(actor)
	case ActionView, ActionSubmit:
		return true
	default:
		return false
	}
}
