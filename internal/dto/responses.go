package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/Merlotec/jdsite/internal/models"
)

// UserResponse is the public view of an account.
type UserResponse struct {
	ID            uuid.UUID   `json:"id"`
	Email         string      `json:"email"`
	Forename      string      `json:"forename"`
	Surname       string      `json:"surname"`
	Notifications bool        `json:"notifications"`
	Role          models.Role `json:"role"`

	// DefaultPassword is present only in privileged views while the
	// machine-generated password has not been changed.
	DefaultPassword string `json:"default_password,omitempty"`
}

// NewUserResponse maps a user model to its response shape.
func NewUserResponse(u models.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Forename:      u.Forename,
		Surname:       u.Surname,
		Notifications: u.Notifications,
		Role:          u.Role,
	}
}

// OrgResponse is the public view of an organisation.
type OrgResponse struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Admin      *uuid.UUID  `json:"admin,omitempty"`
	Teachers   []uuid.UUID `json:"teachers"`
	Pupils     []uuid.UUID `json:"pupils"`
	Unreviewed []uuid.UUID `json:"unreviewed_sections"`
	Credits    uint        `json:"credits"`
}

// NewOrgResponse maps an organisation model to its response shape.
func NewOrgResponse(o models.Organisation) OrgResponse {
	return OrgResponse{
		ID:         o.ID,
		Name:       o.Name,
		Admin:      o.Admin,
		Teachers:   o.Teachers,
		Pupils:     o.Pupils,
		Unreviewed: o.Unreviewed,
		Credits:    o.Credits,
	}
}

// SectionResponse is the public view of a pupil section.
type SectionResponse struct {
	ID            uuid.UUID  `json:"id"`
	Owner         uuid.UUID  `json:"owner"`
	SectionIndex  int        `json:"section_index"`
	AwardIndex    int        `json:"award_index"`
	ActivityIndex int        `json:"activity_index"`
	Plan          string     `json:"plan"`
	Reflection    string     `json:"reflection"`
	State         string     `json:"state"`
	Feedback      string     `json:"feedback,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	Outstanding   bool       `json:"outstanding"`
	Files         []string   `json:"files,omitempty"`
}

// NewSectionResponse maps a section model to its response shape.
func NewSectionResponse(s models.Section) SectionResponse {
	resp := SectionResponse{
		ID:            s.ID,
		Owner:         s.Owner,
		SectionIndex:  s.SectionIndex,
		AwardIndex:    s.AwardIndex,
		ActivityIndex: s.ActivityIndex,
		Plan:          s.Plan,
		Reflection:    s.Reflection,
		State:         string(s.State.Kind),
		Outstanding:   s.Outstanding,
	}
	if s.State.Kind == models.StateRejected {
		resp.Feedback = s.State.Feedback
	}
	if s.State.Kind == models.StateInReview {
		at := s.State.SubmittedAt
		resp.SubmittedAt = &at
	}
	return resp
}

// LinkResponse returns a minted link token and its absolute URL.
type LinkResponse struct {
	Token uuid.UUID `json:"token"`
	URL   string    `json:"url"`
}

// ActivityStats counts pupils against one activity of one section slot.
type ActivityStats struct {
	Selected  int `json:"selected"`
	Completed int `json:"completed"`
}

// SectionStats aggregates activity counts for one slot of an award.
type SectionStats struct {
	Activities []ActivityStats `json:"activities"`
}

// AwardStats aggregates per-slot statistics for one award.
type AwardStats struct {
	Name     string                               `json:"name"`
	Sections [models.SectionSlots]SectionStats `json:"sections"`
}

// StatsResponse is the derived read-only statistics view.
type StatsResponse struct {
	Awards []AwardStats `json:"awards"`
}
