package dto

import "github.com/google/uuid"

// LoginRequest carries the credentials presented at login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,portable_email"`
	Password string `json:"password" validate:"required"`
}

// CreateUserRequest registers an account directly by a privileged principal.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,portable_email"`
	Forename string `json:"forename" validate:"required,portable"`
	Surname  string `json:"surname" validate:"required,portable"`
	Role     string `json:"role" validate:"required,oneof=admin org_admin teacher pupil"`

	// Org-scoped roles.
	Org *uuid.UUID `json:"org,omitempty"`

	// Pupil-only fields.
	Class string `json:"class,omitempty" validate:"omitempty,portable"`
	Award int    `json:"award,omitempty" validate:"gte=0"`
}

// CreateLinkRequest mints a create-account link carrying a role.
type CreateLinkRequest struct {
	Role  string     `json:"role" validate:"required,oneof=admin org_admin teacher pupil"`
	Org   *uuid.UUID `json:"org,omitempty"`
	Class string     `json:"class,omitempty" validate:"omitempty,portable"`
	Award int        `json:"award,omitempty" validate:"gte=0"`

	// Email is where the link is sent.
	Email string `json:"email" validate:"required,portable_email"`
}

// RedeemAccountRequest completes account creation through a link.
type RedeemAccountRequest struct {
	Email    string `json:"email" validate:"required,portable_email"`
	Forename string `json:"forename" validate:"required,portable"`
	Surname  string `json:"surname" validate:"required,portable"`
	Password string `json:"password" validate:"required,min=8"`
}

// ResetPasswordRequest asks for a reset link to be emailed.
type ResetPasswordRequest struct {
	Email string `json:"email" validate:"required,portable_email"`
}

// ChangePasswordRequest sets a new password, through a link or for the
// authenticated user.
type ChangePasswordRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

// CreateOrgRequest registers an organisation.
type CreateOrgRequest struct {
	Name    string `json:"name" validate:"required,portable"`
	Credits uint   `json:"credits"`
}

// AddCreditsRequest grants further pupil credits to an organisation.
type AddCreditsRequest struct {
	Credits uint `json:"credits" validate:"required,gt=0"`
}

// SelectActivityRequest fills an empty section slot with an activity choice.
type SelectActivityRequest struct {
	Slot     int `json:"slot" validate:"gte=0,lte=5"`
	Activity int `json:"activity" validate:"gte=0"`
}

// RejectRequest sends a section back to the pupil. Feedback is mandatory.
type RejectRequest struct {
	Feedback string `json:"feedback" validate:"required"`
}

// NotificationsRequest flips the account's notification preference.
type NotificationsRequest struct {
	Enabled bool `json:"enabled"`
}
