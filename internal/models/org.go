package models

import "github.com/google/uuid"

// Organisation groups an optional admin, its teachers and its pupils, and
// carries the accounting state the lifecycle engine keeps consistent: the
// unreviewed-section queue and the remaining pupil credits.
type Organisation struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Admin      *uuid.UUID  `json:"admin,omitempty"`
	Teachers   []uuid.UUID `json:"teachers"`
	Pupils     []uuid.UUID `json:"pupils"`
	Unreviewed []uuid.UUID `json:"unreviewed_sections"`
	Credits    uint        `json:"credits"`
}

// HasUnreviewed reports whether the section is queued for review.
func (o Organisation) HasUnreviewed(sectionID uuid.UUID) bool {
	for _, id := range o.Unreviewed {
		if id == sectionID {
			return true
		}
	}
	return false
}

// AddUnreviewed queues the section, guarding against duplicates.
func (o *Organisation) AddUnreviewed(sectionID uuid.UUID) {
	if !o.HasUnreviewed(sectionID) {
		o.Unreviewed = append(o.Unreviewed, sectionID)
	}
}

// RemoveUnreviewed dequeues the section if present.
func (o *Organisation) RemoveUnreviewed(sectionID uuid.UUID) {
	o.Unreviewed = removeID(o.Unreviewed, sectionID)
}

// RemoveTeacher drops the user from the teacher list if present.
func (o *Organisation) RemoveTeacher(userID uuid.UUID) {
	o.Teachers = removeID(o.Teachers, userID)
}

// RemovePupil drops the user from the pupil list if present.
func (o *Organisation) RemovePupil(userID uuid.UUID) {
	o.Pupils = removeID(o.Pupils, userID)
}

func removeID(ids []uuid.UUID, target uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
