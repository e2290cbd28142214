package models

import (
	"time"

	"github.com/google/uuid"
)

// SectionStateKind discriminates the section state variants.
type SectionStateKind string

const (
	// StateInProgress is the initial state: the pupil is working on the section.
	StateInProgress SectionStateKind = "in_progress"
	// StateInReview means the pupil has submitted and a reviewer has not acted.
	StateInReview SectionStateKind = "in_review"
	// StateRejected means a reviewer sent the section back with feedback.
	StateRejected SectionStateKind = "rejected"
	// StateCompleted means a reviewer approved the section.
	StateCompleted SectionStateKind = "completed"
)

// SectionState is a tagged variant: Feedback accompanies Rejected,
// SubmittedAt accompanies InReview.
type SectionState struct {
	Kind        SectionStateKind `json:"kind"`
	Feedback    string           `json:"feedback,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at,omitempty"`
}

// InProgress returns the initial section state.
func InProgress() SectionState {
	return SectionState{Kind: StateInProgress}
}

// InReview returns the submitted state stamped with the submission instant.
func InReview(at time.Time) SectionState {
	return SectionState{Kind: StateInReview, SubmittedAt: at}
}

// Rejected returns the rejected state carrying reviewer feedback.
func Rejected(feedback string) SectionState {
	return SectionState{Kind: StateRejected, Feedback: feedback}
}

// Completed returns the approved state.
func Completed() SectionState {
	return SectionState{Kind: StateCompleted}
}

// Section is a pupil's instance of one award slot: the chosen activity, the
// written evidence, the review state and the outstanding flag.
type Section struct {
	ID            uuid.UUID    `json:"id"`
	Owner         uuid.UUID    `json:"owner"`
	SectionIndex  int          `json:"section_index"`
	AwardIndex    int          `json:"award_index"`
	ActivityIndex int          `json:"activity_index"`
	Plan          string       `json:"plan"`
	Reflection    string       `json:"reflection"`
	State         SectionState `json:"state"`
	Outstanding   bool         `json:"outstanding"`
}

// TransitionAllowed reports whether the state machine permits moving from
// the section's current state to dst.
func (s Section) TransitionAllowed(dst SectionStateKind) bool {
	switch s.State.Kind {
	case StateInProgress:
		return dst == StateInReview
	case StateInReview:
		return dst == StateCompleted || dst == StateRejected || dst == StateInProgress
	case StateRejected:
		return dst == StateInReview
	case StateCompleted:
		return dst == StateInReview
	default:
		return false
	}
}

// TransitionRestricted reports whether the move is reviewer-only: any
// transition landing in Completed or leaving Completed or Rejected.
func (s Section) TransitionRestricted(dst SectionStateKind) bool {
	if dst == StateCompleted {
		return true
	}
	return s.State.Kind == StateCompleted || s.State.Kind == StateRejected
}
