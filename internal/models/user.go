package models

import (
	"strings"

	"github.com/google/uuid"
)

// User is an account holder. The identifier is generated randomly at
// creation and never reused or mutated; email is unique and case-sensitive.
type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Forename      string    `json:"forename"`
	Surname       string    `json:"surname"`
	Notifications bool      `json:"notifications"`
	Role          Role      `json:"role"`
}

// FullName joins forename and surname for display and email salutations.
func (u User) FullName() string {
	return strings.TrimSpace(u.Forename + " " + u.Surname)
}

// SlotFor returns the pupil's slot index holding the given section, or -1.
func (u User) SlotFor(sectionID uuid.UUID) int {
	if u.Role.Kind != RolePupil {
		return -1
	}
	for i, slot := range u.Role.Sections {
		if slot != nil && *slot == sectionID {
			return i
		}
	}
	return -1
}
