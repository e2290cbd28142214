package service

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/observability"
	"github.com/Merlotec/jdsite/internal/repository"
)

// SectionService owns the pupil-section state machine and keeps the
// cross-entity bookkeeping consistent: the per-organisation unreviewed
// queue, the global outstanding index, and the asset directories.
type SectionService struct {
	stores    *repository.Stores
	assets    *AssetService
	catalogue models.Catalogue
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSectionService constructs the lifecycle engine.
func NewSectionService(stores *repository.Stores, assets *AssetService, catalogue models.Catalogue, logger zerolog.Logger) *SectionService {
	return &SectionService{
		stores:    stores,
		assets:    assets,
		catalogue: catalogue,
		logger:    logger.With().Str("component", "section_service").Logger(),
		tracer:    otel.Tracer("github.com/Merlotec/jdsite/internal/service"),
		now:       time.Now,
	}
}

// WithClock substitutes the time source. Intended for tests.
func (s *SectionService) WithClock(now func() time.Time) *SectionService {
	s.now = now
	return s
}

// Get returns a section the actor is allowed to see: the owning pupil or
// any reviewer with view capability over them.
func (s *SectionService) Get(ctx context.Context, actor models.User, sectionID uuid.UUID) (models.Section, error) {
	sec, err := s.stores.Sections.Get(sectionID)
	if err != nil {
		return models.Section{}, err
	}
	if sec == nil {
		return models.Section{}, apperr.NotFound("no such section")
	}
	if err := s.authoriseView(actor, *sec); err != nil {
		return models.Section{}, err
	}
	return *sec, nil
}

// SelectActivity creates a section in the pupil's empty slot with the chosen
// activity. Runs under the pupil's per-user lock.
func (s *SectionService) SelectActivity(ctx context.Context, actor models.User, slot, activity int) (models.Section, error) {
	if actor.Role.Kind != models.RolePupil {
		return models.Section{}, apperr.Unauthorised("only pupils select activities")
	}
	if slot < 0 || slot >= models.SectionSlots {
		return models.Section{}, apperr.Invalid("section slot out of range")
	}

	guard, err := s.stores.Users.Lock(actor.ID)
	if err != nil {
		return models.Section{}, err
	}
	defer func() { _ = guard.Release() }()

	user := guard.Value()
	if user == nil || user.Role.Kind != models.RolePupil {
		return models.Section{}, apperr.NotFound("no such pupil")
	}
	if user.Role.Sections[slot] != nil {
		return models.Section{}, apperr.Conflict("section slot already filled")
	}
	if !s.catalogue.ValidActivity(user.Role.Award, slot, activity) {
		return models.Section{}, apperr.Invalid("activity index out of range")
	}

	sec := models.Section{
		ID:            uuid.New(),
		Owner:         user.ID,
		SectionIndex:  slot,
		AwardIndex:    user.Role.Award,
		ActivityIndex: activity,
		State:         models.InProgress(),
	}
	if err := s.stores.Sections.Put(sec); err != nil {
		return models.Section{}, err
	}

	id := sec.ID
	user.Role.Sections[slot] = &id
	guard.Set(*user)
	if err := guard.Release(); err != nil {
		// The slot write failed; the orphan section row is swept later.
		return models.Section{}, err
	}

	return sec, nil
}

// Submit moves the pupil's section into review.
func (s *SectionService) Submit(ctx context.Context, actor models.User, sectionID uuid.UUID) (models.Section, error) {
	return s.transition(ctx, actor, sectionID, models.StateInReview, "")
}

// Retract pulls the pupil's submitted section back into progress.
func (s *SectionService) Retract(ctx context.Context, actor models.User, sectionID uuid.UUID) (models.Section, error) {
	return s.transition(ctx, actor, sectionID, models.StateInProgress, "")
}

// Approve completes a submitted section. Reviewer only.
func (s *SectionService) Approve(ctx context.Context, actor models.User, sectionID uuid.UUID) (models.Section, error) {
	return s.transition(ctx, actor, sectionID, models.StateCompleted, "")
}

// Reject sends a submitted section back with feedback. Reviewer only; the
// feedback must be non-empty.
func (s *SectionService) Reject(ctx context.Context, actor models.User, sectionID uuid.UUID, feedback string) (models.Section, error) {
	return s.transition(ctx, actor, sectionID, models.StateRejected, feedback)
}

// Reopen returns a completed section to review. Reviewer only.
func (s *SectionService) Reopen(ctx context.Context, actor models.User, sectionID uuid.UUID) (models.Section, error) {
	return s.transition(ctx, actor, sectionID, models.StateInReview, "")
}

// transition validates and applies one state-machine move under the
// section's per-key lock, then reconciles the unreviewed queue and the
// outstanding index before the lock is released.
func (s *SectionService) transition(ctx context.Context, actor models.User, sectionID uuid.UUID, dst models.SectionStateKind, feedback string) (models.Section, error) {
	_, span := s.tracer.Start(ctx, "section.transition")
	span.SetAttributes(
		attribute.String("section.id", sectionID.String()),
		attribute.String("section.to", string(dst)),
		attribute.String("actor.id", actor.ID.String()),
	)
	defer span.End()

	guard, err := s.stores.Sections.Lock(sectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "section_lock_failed")
		return models.Section{}, err
	}
	defer func() { _ = guard.Release() }()

	sec := guard.Value()
	if sec == nil {
		return models.Section{}, apperr.NotFound("no such section")
	}

	if err := s.authoriseView(actor, *sec); err != nil {
		span.SetStatus(codes.Error, "unauthorised")
		return models.Section{}, err
	}
	if !sec.TransitionAllowed(dst) {
		return models.Section{}, apperr.Invalid("illegal state transition")
	}
	// Rejecting is a reviewer verb regardless of transition shape.
	if actor.Role.Kind == models.RolePupil && (dst == models.StateRejected || sec.TransitionRestricted(dst)) {
		span.SetStatus(codes.Error, "restricted_transition")
		return models.Section{}, apperr.Unauthorised("transition requires a reviewer")
	}

	var next models.SectionState
	switch dst {
	case models.StateInReview:
		next = models.InReview(s.now())
	case models.StateRejected:
		if strings.TrimSpace(feedback) == "" {
			return models.Section{}, apperr.Invalid("rejection feedback must not be empty")
		}
		next = models.Rejected(feedback)
	case models.StateCompleted:
		next = models.Completed()
	case models.StateInProgress:
		next = models.InProgress()
	default:
		return models.Section{}, apperr.Invalid("unknown section state")
	}

	wasInReview := sec.State.Kind == models.StateInReview
	updated := *sec
	updated.State = next

	// Outstanding is meaningful only on Completed.
	clearOutstanding := dst != models.StateCompleted && updated.Outstanding
	if clearOutstanding {
		updated.Outstanding = false
	}

	// Write the new state first; the follow-ups below are best-effort and
	// re-derivable by the reconciliation sweep.
	if err := s.stores.Sections.Put(updated); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "section_write_failed")
		return models.Section{}, err
	}

	entersReview := dst == models.StateInReview
	if wasInReview != entersReview {
		if err := s.reconcileUnreviewed(updated, entersReview); err != nil {
			s.logger.Warn().Err(err).
				Str("section", sectionID.String()).
				Msg("failed to reconcile unreviewed queue")
			span.RecordError(err)
		}
	}
	if clearOutstanding {
		if err := s.stores.Outstanding.Remove(sectionID); err != nil {
			s.logger.Warn().Err(err).
				Str("section", sectionID.String()).
				Msg("failed to remove outstanding index entry")
			span.RecordError(err)
		}
	}

	observability.SectionTransitions().WithLabelValues(string(dst)).Inc()
	return updated, nil
}

// reconcileUnreviewed adds or removes the section from its organisation's
// unreviewed queue, guarding against duplicates.
func (s *SectionService) reconcileUnreviewed(sec models.Section, add bool) error {
	orgID, err := s.orgOf(sec)
	if err != nil {
		return err
	}
	if orgID == uuid.Nil {
		return nil
	}

	guard, err := s.stores.Orgs.Lock(orgID)
	if err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()

	org := guard.Value()
	if org == nil {
		return nil
	}
	if add {
		org.AddUnreviewed(sec.ID)
	} else {
		org.RemoveUnreviewed(sec.ID)
	}
	guard.Set(*org)
	return guard.Release()
}

// ToggleOutstanding flips the exemplary flag on a completed section and
// keeps the global index in step. Reviewer only.
func (s *SectionService) ToggleOutstanding(ctx context.Context, actor models.User, sectionID uuid.UUID) (models.Section, error) {
	guard, err := s.stores.Sections.Lock(sectionID)
	if err != nil {
		return models.Section{}, err
	}
	defer func() { _ = guard.Release() }()

	sec := guard.Value()
	if sec == nil {
		return models.Section{}, apperr.NotFound("no such section")
	}
	if actor.Role.Kind == models.RolePupil {
		return models.Section{}, apperr.Unauthorised("outstanding toggle requires a reviewer")
	}
	if err := s.authoriseView(actor, *sec); err != nil {
		return models.Section{}, err
	}
	if sec.State.Kind != models.StateCompleted {
		return models.Section{}, apperr.Invalid("only completed sections can be outstanding")
	}

	updated := *sec
	updated.Outstanding = !sec.Outstanding
	if err := s.stores.Sections.Put(updated); err != nil {
		return models.Section{}, err
	}

	var idxErr error
	if updated.Outstanding {
		idxErr = s.stores.Outstanding.Add(sectionID)
	} else {
		idxErr = s.stores.Outstanding.Remove(sectionID)
	}
	if idxErr != nil {
		s.logger.Warn().Err(idxErr).
			Str("section", sectionID.String()).
			Msg("failed to reconcile outstanding index")
	}

	return updated, nil
}

// Delete removes a section: the pupil may delete their own unless Completed,
// and any reviewer may delete it. The row is removed first; slot, queue,
// index and asset cleanup are best-effort follow-ups.
func (s *SectionService) Delete(ctx context.Context, actor models.User, sectionID uuid.UUID) error {
	guard, err := s.stores.Sections.Lock(sectionID)
	if err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()

	sec := guard.Value()
	if sec == nil {
		return apperr.NotFound("no such section")
	}

	if actor.ID == sec.Owner {
		if sec.State.Kind == models.StateCompleted {
			return apperr.Unauthorised("completed sections cannot be deleted by the pupil")
		}
	} else if err := s.authoriseReviewer(actor, *sec); err != nil {
		return err
	}

	if err := s.stores.Sections.RemoveSilent(sectionID.String()); err != nil {
		return err
	}

	s.cleanupAfterDelete(*sec)
	return nil
}

// cleanupAfterDelete purges the deleted section from the pupil slot, the
// unreviewed queue, the outstanding index and the filesystem. Failures are
// logged, never undoing the removal; the sweep repairs leftover drift.
func (s *SectionService) cleanupAfterDelete(sec models.Section) {
	if guard, err := s.stores.Users.Lock(sec.Owner); err == nil {
		if user := guard.Value(); user != nil {
			if slot := user.SlotFor(sec.ID); slot >= 0 {
				user.Role.Sections[slot] = nil
				guard.Set(*user)
			}
		}
		if err := guard.Release(); err != nil {
			s.logger.Warn().Err(err).Str("section", sec.ID.String()).Msg("failed to clear pupil slot")
		}
	} else {
		s.logger.Warn().Err(err).Str("section", sec.ID.String()).Msg("failed to lock pupil for slot clear")
	}

	if sec.State.Kind == models.StateInReview {
		if err := s.reconcileUnreviewed(sec, false); err != nil {
			s.logger.Warn().Err(err).Str("section", sec.ID.String()).Msg("failed to dequeue deleted section")
		}
	}

	if err := s.stores.Outstanding.Remove(sec.ID); err != nil {
		s.logger.Warn().Err(err).Str("section", sec.ID.String()).Msg("failed to unindex deleted section")
	}

	if err := s.assets.RemoveDir(sec.ID); err != nil {
		s.logger.Warn().Err(err).Str("section", sec.ID.String()).Msg("failed to remove asset directory")
	}
}

// UpdateContent sets the plan and reflection texts. The pupil may edit their
// own section unless it is Completed; reviewers may always edit. A pupil
// edit of a Rejected section returns it to InProgress so it can be
// resubmitted.
func (s *SectionService) UpdateContent(ctx context.Context, actor models.User, sectionID uuid.UUID, plan, reflection *string) (models.Section, error) {
	guard, err := s.stores.Sections.Lock(sectionID)
	if err != nil {
		return models.Section{}, err
	}
	defer func() { _ = guard.Release() }()

	sec := guard.Value()
	if sec == nil {
		return models.Section{}, apperr.NotFound("no such section")
	}
	if err := s.authoriseEdit(actor, *sec); err != nil {
		return models.Section{}, err
	}

	updated := *sec
	if plan != nil {
		updated.Plan = *plan
	}
	if reflection != nil {
		updated.Reflection = *reflection
	}
	if actor.ID == sec.Owner && updated.State.Kind == models.StateRejected {
		updated.State = models.InProgress()
	}
	guard.Set(updated)
	if err := guard.Release(); err != nil {
		return models.Section{}, err
	}
	return updated, nil
}

// UploadEvidence stores an uploaded file against the section. Like any
// pupil edit, it returns a Rejected section to InProgress.
func (s *SectionService) UploadEvidence(ctx context.Context, actor models.User, sectionID uuid.UUID, filename string, r io.Reader) (string, error) {
	guard, err := s.stores.Sections.Lock(sectionID)
	if err != nil {
		return "", err
	}
	defer func() { _ = guard.Release() }()

	sec := guard.Value()
	if sec == nil {
		return "", apperr.NotFound("no such section")
	}
	if err := s.authoriseEdit(actor, *sec); err != nil {
		return "", err
	}

	stored, err := s.assets.Save(sectionID, filename, r)
	if err != nil {
		return "", err
	}

	if actor.ID == sec.Owner && sec.State.Kind == models.StateRejected {
		updated := *sec
		updated.State = models.InProgress()
		guard.Set(updated)
	}
	return stored, guard.Release()
}

// DeleteEvidence removes one uploaded file from the section. Like any
// pupil edit, it returns a Rejected section to InProgress.
func (s *SectionService) DeleteEvidence(ctx context.Context, actor models.User, sectionID uuid.UUID, filename string) error {
	guard, err := s.stores.Sections.Lock(sectionID)
	if err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()

	sec := guard.Value()
	if sec == nil {
		return apperr.NotFound("no such section")
	}
	if err := s.authoriseEdit(actor, *sec); err != nil {
		return err
	}

	if err := s.assets.DeleteFile(sectionID, filename); err != nil {
		return err
	}

	if actor.ID == sec.Owner && sec.State.Kind == models.StateRejected {
		updated := *sec
		updated.State = models.InProgress()
		guard.Set(updated)
	}
	return guard.Release()
}

// Evidence lists the stored files for a section the actor may view.
func (s *SectionService) Evidence(ctx context.Context, actor models.User, sectionID uuid.UUID) ([]string, error) {
	if _, err := s.Get(ctx, actor, sectionID); err != nil {
		return nil, err
	}
	return s.assets.List(sectionID)
}

// EvidencePath resolves the on-disk path of one stored file for download.
func (s *SectionService) EvidencePath(ctx context.Context, actor models.User, sectionID uuid.UUID, filename string) (string, error) {
	if _, err := s.Get(ctx, actor, sectionID); err != nil {
		return "", err
	}
	path, err := s.assets.Path(sectionID, filename)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", apperr.NotFound("no such file")
	}
	return path, nil
}

// ListOutstanding returns every section in the outstanding index. Owner and
// Admin only.
func (s *SectionService) ListOutstanding(ctx context.Context, actor models.User) ([]models.Section, error) {
	if actor.Role.Kind != models.RoleOwner && actor.Role.Kind != models.RoleAdmin {
		return nil, apperr.Unauthorised("outstanding dashboard requires a site administrator")
	}

	var out []models.Section
	err := s.stores.Outstanding.Each(func(id uuid.UUID) error {
		sec, err := s.stores.Sections.Get(id)
		if err != nil || sec == nil {
			return nil
		}
		out = append(out, *sec)
		return nil
	})
	return out, err
}

// authoriseView permits the owning pupil or any reviewer over them.
func (s *SectionService) authoriseView(actor models.User, sec models.Section) error {
	if actor.ID == sec.Owner {
		return nil
	}
	return s.authoriseReviewer(actor, sec)
}

// authoriseReviewer permits any non-pupil with view capability over the
// section's owner.
func (s *SectionService) authoriseReviewer(actor models.User, sec models.Section) error {
	owner, err := s.stores.Users.Get(sec.Owner)
	if err != nil {
		return err
	}
	if owner == nil {
		// Orphan section: visible to site administrators only.
		if actor.Role.CanViewAccounts() {
			return nil
		}
		return apperr.Unauthorised("section owner unknown")
	}
	if !actor.Role.IsReviewer(owner.Role) {
		return apperr.Unauthorised("no capability over this pupil")
	}
	return nil
}

// authoriseEdit permits the owning pupil while not Completed, or a reviewer.
func (s *SectionService) authoriseEdit(actor models.User, sec models.Section) error {
	if actor.ID == sec.Owner {
		if sec.State.Kind == models.StateCompleted {
			return apperr.Unauthorised("completed sections cannot be edited by the pupil")
		}
		return nil
	}
	return s.authoriseReviewer(actor, sec)
}

// orgOf resolves the organisation owning the section's pupil, or uuid.Nil
// when the pupil or their org reference is gone.
func (s *SectionService) orgOf(sec models.Section) (uuid.UUID, error) {
	owner, err := s.stores.Users.Get(sec.Owner)
	if err != nil {
		return uuid.Nil, err
	}
	if owner == nil || !owner.Role.OrgScoped() {
		return uuid.Nil, nil
	}
	return owner.Role.Org, nil
}
