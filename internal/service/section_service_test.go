package service

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/models"
)

// submitSection walks a fresh pupil section into review.
func submitSection(t *testing.T, te *testEnv, pupil models.User, slot int) models.Section {
	t.Helper()

	sec, err := te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), slot, 0)
	require.NoError(t, err)

	sec, err = te.sections.Submit(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateInReview, sec.State.Kind)
	return sec
}

func TestSelectActivityFillsSlot(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")

	sec, err := te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), 3, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, sec.State.Kind)
	assert.Equal(t, 3, sec.SectionIndex)
	assert.Equal(t, 1, sec.ActivityIndex)

	after := te.freshUser(t, pupil.ID)
	require.NotNil(t, after.Role.Sections[3])
	assert.Equal(t, sec.ID, *after.Role.Sections[3])
}

func TestSelectActivityOccupiedSlotConflicts(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")

	_, err := te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), 0, 0)
	require.NoError(t, err)

	_, err = te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), 0, 1)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestSelectActivityValidation(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	_, err := te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), 6, 0)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, err = te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), 0, 99)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, err = te.sections.SelectActivity(t.Context(), teacher, 0, 0)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))
}

func TestSubmitQueuesUnreviewedOnce(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")

	sec := submitSection(t, te, pupil, 3)

	after := te.freshOrg(t, org.ID)
	var count int
	for _, id := range after.Unreviewed {
		if id == sec.ID {
			count++
		}
	}
	assert.Equal(t, 1, count, "queued exactly once")
	assert.False(t, sec.State.SubmittedAt.IsZero())
}

func TestRetractDequeues(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")

	sec := submitSection(t, te, pupil, 0)

	sec, err := te.sections.Retract(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, sec.State.Kind)

	after := te.freshOrg(t, org.ID)
	assert.False(t, after.HasUnreviewed(sec.ID))
}

func TestApproveCompletesAndDequeues(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)

	sec, err := te.sections.Approve(t.Context(), teacher, sec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, sec.State.Kind)

	after := te.freshOrg(t, org.ID)
	assert.False(t, after.HasUnreviewed(sec.ID))
}

func TestRejectRequiresFeedback(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)

	_, err := te.sections.Reject(t.Context(), teacher, sec.ID, "   ")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	got, err := te.sections.Reject(t.Context(), teacher, sec.ID, "plan needs more detail")
	require.NoError(t, err)
	assert.Equal(t, models.StateRejected, got.State.Kind)
	assert.Equal(t, "plan needs more detail", got.State.Feedback)
}

func TestPupilRestrictedTransitionsDenied(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)

	// A pupil never lands in Completed.
	_, err := te.sections.Approve(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))

	// A bare resubmit of a Rejected section, without editing first, stays
	// reviewer-only.
	_, err = te.sections.Reject(t.Context(), teacher, sec.ID, "redo")
	require.NoError(t, err)
	_, err = te.sections.Submit(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))

	_, err = te.sections.Submit(t.Context(), teacher, sec.ID)
	require.NoError(t, err)
}

func TestPupilCannotRejectOwnSection(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")

	sec := submitSection(t, te, pupil, 0)

	_, err := te.sections.Reject(t.Context(), te.freshUser(t, pupil.ID), sec.ID, "self sabotage")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))

	// The section is untouched and still queued for review.
	got, err := te.sections.Get(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInReview, got.State.Kind)
	assert.True(t, te.freshOrg(t, org.ID).HasUnreviewed(sec.ID))
}

func TestPupilEditReopensRejectedSection(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)
	_, err := te.sections.Reject(t.Context(), teacher, sec.ID, "please add a second image")
	require.NoError(t, err)

	// The pupil re-uploads evidence, which pulls the section back into
	// progress, then resubmits.
	_, err = te.sections.UploadEvidence(t.Context(), te.freshUser(t, pupil.ID), sec.ID, "second.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)

	got, err := te.sections.Get(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, got.State.Kind)

	got, err = te.sections.Submit(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInReview, got.State.Kind)
	assert.False(t, got.State.SubmittedAt.IsZero())

	queued := 0
	for _, id := range te.freshOrg(t, org.ID).Unreviewed {
		if id == sec.ID {
			queued++
		}
	}
	assert.Equal(t, 1, queued, "resubmission queues the section exactly once")
}

func TestPupilContentEditReopensRejectedSection(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)
	_, err := te.sections.Reject(t.Context(), teacher, sec.ID, "plan needs more detail")
	require.NoError(t, err)

	plan := "train twice a week, with a coach"
	got, err := te.sections.UpdateContent(t.Context(), te.freshUser(t, pupil.ID), sec.ID, &plan, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, got.State.Kind)

	// A reviewer edit of a Rejected section leaves the state alone.
	sec2 := submitSection(t, te, pupil, 1)
	_, err = te.sections.Reject(t.Context(), teacher, sec2.ID, "redo")
	require.NoError(t, err)

	note := "discussed in class"
	got, err = te.sections.UpdateContent(t.Context(), teacher, sec2.ID, nil, &note)
	require.NoError(t, err)
	assert.Equal(t, models.StateRejected, got.State.Kind)
}

func TestIllegalTransitionRejected(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec, err := te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), 0, 0)
	require.NoError(t, err)

	// InProgress -> Completed skips review.
	_, err = te.sections.Approve(t.Context(), teacher, sec.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestReviewerScopedToOwnOrg(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	other := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	foreign := te.createMember(t, "teacher", other.ID, "foreign@school.example")

	sec := submitSection(t, te, pupil, 0)

	_, err := te.sections.Get(t.Context(), foreign, sec.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))

	_, err = te.sections.Approve(t.Context(), foreign, sec.ID)
	require.Error(t, err)
}

func TestToggleOutstanding(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)

	// Only completed sections can be flagged.
	_, err := te.sections.ToggleOutstanding(t.Context(), teacher, sec.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, err = te.sections.Approve(t.Context(), teacher, sec.ID)
	require.NoError(t, err)

	got, err := te.sections.ToggleOutstanding(t.Context(), teacher, sec.ID)
	require.NoError(t, err)
	assert.True(t, got.Outstanding)

	flagged, err := te.stores.Outstanding.Contains(sec.ID)
	require.NoError(t, err)
	assert.True(t, flagged)

	// Pupils cannot flag their own work.
	_, err = te.sections.ToggleOutstanding(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.Error(t, err)

	// Toggling back clears the index.
	got, err = te.sections.ToggleOutstanding(t.Context(), teacher, sec.ID)
	require.NoError(t, err)
	assert.False(t, got.Outstanding)

	flagged, err = te.stores.Outstanding.Contains(sec.ID)
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestReopenClearsOutstanding(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)
	_, err := te.sections.Approve(t.Context(), teacher, sec.ID)
	require.NoError(t, err)
	_, err = te.sections.ToggleOutstanding(t.Context(), teacher, sec.ID)
	require.NoError(t, err)

	got, err := te.sections.Reopen(t.Context(), teacher, sec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInReview, got.State.Kind)
	assert.False(t, got.Outstanding)

	flagged, err := te.stores.Outstanding.Contains(sec.ID)
	require.NoError(t, err)
	assert.False(t, flagged)

	// Reopened sections are back in the unreviewed queue.
	after := te.freshOrg(t, org.ID)
	assert.True(t, after.HasUnreviewed(sec.ID))
}

func TestListOutstandingOwnerOnly(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)
	_, err := te.sections.Approve(t.Context(), teacher, sec.ID)
	require.NoError(t, err)
	_, err = te.sections.ToggleOutstanding(t.Context(), teacher, sec.ID)
	require.NoError(t, err)

	list, err := te.sections.ListOutstanding(t.Context(), te.owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sec.ID, list[0].ID)

	_, err = te.sections.ListOutstanding(t.Context(), teacher)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))
}

func TestUpdateContent(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec, err := te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), 0, 0)
	require.NoError(t, err)

	plan := "train twice a week"
	got, err := te.sections.UpdateContent(t.Context(), te.freshUser(t, pupil.ID), sec.ID, &plan, nil)
	require.NoError(t, err)
	assert.Equal(t, plan, got.Plan)
	assert.Empty(t, got.Reflection)

	// A completed section is frozen for the pupil but not the reviewer.
	_, err = te.sections.Submit(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.NoError(t, err)
	_, err = te.sections.Approve(t.Context(), teacher, sec.ID)
	require.NoError(t, err)

	reflection := "it went well"
	_, err = te.sections.UpdateContent(t.Context(), te.freshUser(t, pupil.ID), sec.ID, nil, &reflection)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))

	got, err = te.sections.UpdateContent(t.Context(), teacher, sec.ID, nil, &reflection)
	require.NoError(t, err)
	assert.Equal(t, reflection, got.Reflection)
}

func TestEvidenceLifecycle(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")

	sec, err := te.sections.SelectActivity(t.Context(), te.freshUser(t, pupil.ID), 0, 0)
	require.NoError(t, err)

	actor := te.freshUser(t, pupil.ID)
	name, err := te.sections.UploadEvidence(t.Context(), actor, sec.ID, "photo.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", name)

	files, err := te.sections.Evidence(t.Context(), actor, sec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"photo.jpg"}, files)

	path, err := te.sections.EvidencePath(t.Context(), actor, sec.ID, "photo.jpg")
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	require.NoError(t, te.sections.DeleteEvidence(t.Context(), actor, sec.ID, "photo.jpg"))

	files, err = te.sections.Evidence(t.Context(), actor, sec.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = te.sections.EvidencePath(t.Context(), actor, sec.ID, "photo.jpg")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDeleteSectionReturnsSlot(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")

	sec := submitSection(t, te, pupil, 2)
	_, err := te.sections.UploadEvidence(t.Context(), te.freshUser(t, pupil.ID), sec.ID, "photo.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)

	require.NoError(t, te.sections.Delete(t.Context(), te.freshUser(t, pupil.ID), sec.ID))

	after := te.freshUser(t, pupil.ID)
	assert.Nil(t, after.Role.Sections[2])

	row, err := te.stores.Sections.Get(sec.ID)
	require.NoError(t, err)
	assert.Nil(t, row)

	afterOrg := te.freshOrg(t, org.ID)
	assert.False(t, afterOrg.HasUnreviewed(sec.ID))

	files, err := te.assets.List(sec.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPupilCannotDeleteCompletedSection(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)
	_, err := te.sections.Approve(t.Context(), teacher, sec.ID)
	require.NoError(t, err)

	err = te.sections.Delete(t.Context(), te.freshUser(t, pupil.ID), sec.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))

	// The reviewer may still remove it.
	require.NoError(t, te.sections.Delete(t.Context(), teacher, sec.ID))
}

func TestStatsCountsSelectionsAndCompletions(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	other := te.createMember(t, "pupil", org.ID, "other@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")

	sec := submitSection(t, te, pupil, 0)
	_, err := te.sections.Approve(t.Context(), teacher, sec.ID)
	require.NoError(t, err)

	_, err = te.sections.SelectActivity(t.Context(), te.freshUser(t, other.ID), 0, 0)
	require.NoError(t, err)

	orgID := org.ID
	stats, err := te.stats.Compute(t.Context(), te.owner, &orgID)
	require.NoError(t, err)
	require.NotEmpty(t, stats.Awards)

	slot := stats.Awards[0].Sections[0]
	assert.Equal(t, 2, slot.Activities[0].Selected)
	assert.Equal(t, 1, slot.Activities[0].Completed)

	// Pupils may not read statistics.
	_, err = te.stats.Compute(t.Context(), te.freshUser(t, pupil.ID), &orgID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorised))
}

func TestOrgDeleteCascade(t *testing.T) {
	te := newTestEnv(t)
	org := te.createOrg(t, 5)
	pupil := te.createMember(t, "pupil", org.ID, "pupil@school.example")
	teacher := te.createMember(t, "teacher", org.ID, "teacher@school.example")
	head := te.createMember(t, "org_admin", org.ID, "head@school.example")

	sec := submitSection(t, te, pupil, 0)

	require.NoError(t, te.orgs.Delete(t.Context(), te.owner, org.ID))

	for _, id := range []uuid.UUID{pupil.ID, teacher.ID, head.ID} {
		gone, err := te.stores.Users.Get(id)
		require.NoError(t, err)
		assert.Nil(t, gone)
	}

	row, err := te.stores.Sections.Get(sec.ID)
	require.NoError(t, err)
	assert.Nil(t, row)

	orgRow, err := te.stores.Orgs.Get(org.ID)
	require.NoError(t, err)
	assert.Nil(t, orgRow)
}
