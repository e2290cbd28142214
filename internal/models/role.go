package models

import "github.com/google/uuid"

// RoleKind discriminates the role variants a user can hold.
type RoleKind string

const (
	// RoleOwner is the site owner, the highest privilege level.
	RoleOwner RoleKind = "owner"
	// RoleAdmin is a site-wide administrator.
	RoleAdmin RoleKind = "admin"
	// RoleOrgAdmin administers a single organisation.
	RoleOrgAdmin RoleKind = "org_admin"
	// RoleTeacher reviews pupil sections within one organisation.
	RoleTeacher RoleKind = "teacher"
	// RolePupil progresses through an award within one organisation.
	RolePupil RoleKind = "pupil"
)

// SectionSlots is the fixed number of sections in an award.
const SectionSlots = 6

// Role is a tagged variant: exactly one kind, with the org-scoped kinds
// carrying an organisation reference and pupils carrying their award state.
// A user holds one role for life; changing role means delete and recreate.
type Role struct {
	Kind RoleKind `json:"kind"`

	// Org is set for OrgAdmin, Teacher and Pupil.
	Org uuid.UUID `json:"org,omitempty"`

	// Pupil-only fields.
	Class    string                   `json:"class,omitempty"`
	Award    int                      `json:"award,omitempty"`
	Sections [SectionSlots]*uuid.UUID `json:"sections,omitempty"`
}

// Magnitude orders roles by privilege: Owner > Admin > OrgAdmin > Teacher > Pupil.
func (r Role) Magnitude() int {
	switch r.Kind {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleOrgAdmin:
		return 2
	case RoleTeacher:
		return 1
	case RolePupil:
		return 0
	default:
		return -1
	}
}

// OrgScoped reports whether the role is bound to an organisation.
func (r Role) OrgScoped() bool {
	switch r.Kind {
	case RoleOrgAdmin, RoleTeacher, RolePupil:
		return true
	default:
		return false
	}
}

// BelongsTo reports whether the role is scoped to the given organisation.
func (r Role) BelongsTo(org uuid.UUID) bool {
	return r.OrgScoped() && r.Org == org
}

// Capability predicates. This table is the sole authorisation gate; any
// combination not listed here is denied. Keep it exhaustive and in one place.

// CanViewAccounts reports whether the actor may list all accounts.
func (r Role) CanViewAccounts() bool {
	return r.Kind == RoleOwner || r.Kind == RoleAdmin
}

// CanAddAdmin reports whether the actor may create site administrators.
func (r Role) CanAddAdmin() bool {
	return r.Kind == RoleOwner
}

// CanViewOrgs reports whether the actor may list all organisations.
func (r Role) CanViewOrgs() bool {
	return r.Kind == RoleOwner || r.Kind == RoleAdmin
}

// CanDeleteOrgs reports whether the actor may delete organisations.
func (r Role) CanDeleteOrgs() bool {
	return r.Kind == RoleOwner || r.Kind == RoleAdmin
}

// CanViewOrg reports whether the actor may view the given organisation.
func (r Role) CanViewOrg(org uuid.UUID) bool {
	if r.Kind == RoleOwner || r.Kind == RoleAdmin {
		return true
	}
	return r.BelongsTo(org)
}

// CanAddAssociate reports whether the actor may invite teachers or pupils
// into the given organisation.
func (r Role) CanAddAssociate(org uuid.UUID) bool {
	if r.Kind == RoleOwner || r.Kind == RoleAdmin {
		return true
	}
	return r.Kind == RoleOrgAdmin && r.Org == org
}

// CanViewOutstanding reports whether the actor may view the outstanding
// sections dashboard for the given organisation.
func (r Role) CanViewOutstanding(org uuid.UUID) bool {
	return r.CanAddAssociate(org)
}

// CanViewStats reports whether the actor may view award statistics for the
// given organisation.
func (r Role) CanViewStats(org uuid.UUID) bool {
	return r.CanAddAssociate(org)
}

// CanViewUser reports whether the actor may view the target user's account.
// The actor must be at least as privileged as the target, and for org-scoped
// targets must share the organisation unless site-wide.
func (r Role) CanViewUser(target Role) bool {
	if r.Magnitude() < target.Magnitude() {
		return false
	}
	if !target.OrgScoped() {
		return r.Kind == RoleOwner || r.Kind == RoleAdmin
	}
	if r.Kind == RoleOwner || r.Kind == RoleAdmin {
		return true
	}
	return r.BelongsTo(target.Org)
}

// CanDeleteUser reports whether the actor may delete the target user. Actors
// never delete themselves and must be strictly more privileged.
func (r Role) CanDeleteUser(actorID, targetID uuid.UUID, target Role) bool {
	if actorID == targetID {
		return false
	}
	if r.Magnitude() <= target.Magnitude() {
		return false
	}
	return r.CanViewUser(target)
}

// IsReviewer reports whether the actor counts as a reviewer for the given
// pupil: any non-pupil with view capability over them.
func (r Role) IsReviewer(pupil Role) bool {
	return r.Kind != RolePupil && r.CanViewUser(pupil)
}
