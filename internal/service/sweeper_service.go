package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/repository"
	"github.com/Merlotec/jdsite/internal/store"
)

// SweeperService is the canonical repair mechanism for cross-entity drift:
// it rebuilds the per-organisation unreviewed queues and the outstanding
// index from the section rows, collects orphan sections and asset
// directories, and expires sessions and links.
type SweeperService struct {
	stores *repository.Stores
	assets *AssetService
	logger zerolog.Logger
}

// NewSweeperService constructs the sweeper.
func NewSweeperService(stores *repository.Stores, assets *AssetService, logger zerolog.Logger) *SweeperService {
	return &SweeperService{
		stores: stores,
		assets: assets,
		logger: logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps at the given interval until the context is cancelled.
func (s *SweeperService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}

// SweepOnce performs a single full reconciliation pass.
func (s *SweeperService) SweepOnce(ctx context.Context) error {
	if err := s.stores.Sessions.SweepExpired(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to sweep expired sessions")
	}
	if err := s.stores.Links.SweepExpired(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to sweep expired links")
	}

	if err := s.collectOrphanSections(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to collect orphan sections")
	}
	if err := s.rebuildUnreviewed(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to rebuild unreviewed queues")
	}
	if err := s.rebuildOutstanding(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to rebuild outstanding index")
	}
	if err := s.collectOrphanAssets(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to collect orphan asset directories")
	}
	return nil
}

// collectOrphanSections deletes section rows no pupil slot references.
func (s *SweeperService) collectOrphanSections() error {
	var orphans []models.Section
	err := s.stores.Sections.ForEachValue(func(sec models.Section) error {
		owner, err := s.stores.Users.Get(sec.Owner)
		if err != nil {
			return nil
		}
		if owner == nil || owner.SlotFor(sec.ID) < 0 {
			orphans = append(orphans, sec)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, sec := range orphans {
		s.logger.Info().Str("section", sec.ID.String()).Msg("collecting orphan section")
		if err := s.stores.Sections.RemoveSilent(sec.ID.String()); err != nil {
			s.logger.Warn().Err(err).Str("section", sec.ID.String()).Msg("failed to remove orphan row")
			continue
		}
		_ = s.stores.Outstanding.Remove(sec.ID)
		_ = s.assets.RemoveDir(sec.ID)
	}
	return nil
}

// rebuildUnreviewed recomputes each organisation's unreviewed queue from the
// section rows: a section is queued iff its state is InReview.
func (s *SweeperService) rebuildUnreviewed() error {
	queues := make(map[uuid.UUID][]uuid.UUID)
	err := s.stores.Sections.ForEachValue(func(sec models.Section) error {
		if sec.State.Kind != models.StateInReview {
			return nil
		}
		owner, err := s.stores.Users.Get(sec.Owner)
		if err != nil || owner == nil || !owner.Role.OrgScoped() {
			return nil
		}
		queues[owner.Role.Org] = append(queues[owner.Role.Org], sec.ID)
		return nil
	})
	if err != nil {
		return err
	}

	return s.stores.Orgs.ForEachWrite(func(key string, guard *store.Guard[models.Organisation]) error {
		org := guard.Value()
		if org == nil {
			return nil
		}
		want := queues[org.ID]
		if sameIDSet(org.Unreviewed, want) {
			return nil
		}
		if want == nil {
			want = []uuid.UUID{}
		}
		org.Unreviewed = want
		guard.Set(*org)
		return nil
	})
}

// rebuildOutstanding makes the index agree with the outstanding flags: an
// entry exists iff the section exists, is Completed and flagged.
func (s *SweeperService) rebuildOutstanding() error {
	flagged := make(map[uuid.UUID]bool)
	err := s.stores.Sections.ForEachValue(func(sec models.Section) error {
		if sec.Outstanding && sec.State.Kind == models.StateCompleted {
			flagged[sec.ID] = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.stores.Outstanding.RetainIDs(func(id uuid.UUID) bool {
		return flagged[id]
	}); err != nil {
		return err
	}

	for id := range flagged {
		present, err := s.stores.Outstanding.Contains(id)
		if err != nil {
			return err
		}
		if !present {
			if err := s.stores.Outstanding.Add(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectOrphanAssets removes asset directories whose section row is gone.
func (s *SweeperService) collectOrphanAssets() error {
	orphans, err := s.assets.OrphanDirs(func(id uuid.UUID) bool {
		exists, err := s.stores.Sections.Contains(id.String())
		if err != nil {
			// Unknown, keep the directory for the next pass.
			return true
		}
		return exists
	})
	if err != nil {
		return err
	}

	for _, id := range orphans {
		s.logger.Info().Str("section", id.String()).Msg("removing orphan asset directory")
		if err := s.assets.RemoveDir(id); err != nil {
			s.logger.Warn().Err(err).Str("section", id.String()).Msg("failed to remove orphan directory")
		}
	}
	return nil
}

func sameIDSet(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
