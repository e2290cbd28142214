package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/dto"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/repository"
)

// OrgService owns organisation registration, credit grants and the
// organisation deletion cascade.
type OrgService struct {
	stores   *repository.Stores
	accounts *AccountService
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewOrgService constructs the organisation service.
func NewOrgService(stores *repository.Stores, accounts *AccountService, validate *validator.Validate, logger zerolog.Logger) *OrgService {
	return &OrgService{
		stores:   stores,
		accounts: accounts,
		validate: validate,
		logger:   logger.With().Str("component", "org_service").Logger(),
	}
}

// Create registers an organisation with an initial credit grant. Owner and
// Admin only.
func (s *OrgService) Create(ctx context.Context, actor models.User, req dto.CreateOrgRequest) (models.Organisation, error) {
	if err := s.validate.Struct(req); err != nil {
		return models.Organisation{}, err
	}
	if !actor.Role.CanViewOrgs() {
		return models.Organisation{}, apperr.Unauthorised("organisation creation requires a site administrator")
	}

	org := models.Organisation{
		ID:       uuid.New(),
		Name:     req.Name,
		Teachers: []uuid.UUID{},
		Pupils:   []uuid.UUID{},
		Credits:  req.Credits,
	}
	if err := s.stores.Orgs.Put(org); err != nil {
		return models.Organisation{}, err
	}
	return org, nil
}

// Get returns the organisation if the actor may view it.
func (s *OrgService) Get(ctx context.Context, actor models.User, orgID uuid.UUID) (models.Organisation, error) {
	if !actor.Role.CanViewOrg(orgID) {
		return models.Organisation{}, apperr.Unauthorised("no capability over this organisation")
	}

	org, err := s.stores.Orgs.Get(orgID)
	if err != nil {
		return models.Organisation{}, err
	}
	if org == nil {
		return models.Organisation{}, apperr.NotFound("no such organisation")
	}
	return *org, nil
}

// List returns every organisation. Owner and Admin only.
func (s *OrgService) List(ctx context.Context, actor models.User) ([]models.Organisation, error) {
	if !actor.Role.CanViewOrgs() {
		return nil, apperr.Unauthorised("organisation list requires a site administrator")
	}

	var out []models.Organisation
	err := s.stores.Orgs.ForEachValue(func(org models.Organisation) error {
		out = append(out, org)
		return nil
	})
	return out, err
}

// AddCredits grants further pupil credits under the organisation's lock.
func (s *OrgService) AddCredits(ctx context.Context, actor models.User, orgID uuid.UUID, req dto.AddCreditsRequest) (models.Organisation, error) {
	if err := s.validate.Struct(req); err != nil {
		return models.Organisation{}, err
	}
	if !actor.Role.CanViewOrgs() {
		return models.Organisation{}, apperr.Unauthorised("credit grants require a site administrator")
	}

	guard, err := s.stores.Orgs.Lock(orgID)
	if err != nil {
		return models.Organisation{}, err
	}
	defer func() { _ = guard.Release() }()

	org := guard.Value()
	if org == nil {
		return models.Organisation{}, apperr.NotFound("no such organisation")
	}
	org.Credits += req.Credits
	guard.Set(*org)
	if err := guard.Release(); err != nil {
		return models.Organisation{}, err
	}
	return *org, nil
}

// Delete removes the organisation and cascades: its admin, teachers and
// pupils are deleted (with their credentials, sessions, sections and asset
// directories) before the organisation row itself goes.
func (s *OrgService) Delete(ctx context.Context, actor models.User, orgID uuid.UUID) error {
	if !actor.Role.CanDeleteOrgs() {
		return apperr.Unauthorised("organisation deletion requires a site administrator")
	}

	org, err := s.stores.Orgs.Get(orgID)
	if err != nil {
		return err
	}
	if org == nil {
		return apperr.NotFound("no such organisation")
	}

	members := make([]uuid.UUID, 0, len(org.Teachers)+len(org.Pupils)+1)
	if org.Admin != nil {
		members = append(members, *org.Admin)
	}
	members = append(members, org.Teachers...)
	members = append(members, org.Pupils...)

	for _, memberID := range members {
		member, err := s.stores.Users.Get(memberID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user", memberID.String()).Msg("unreadable member during org delete")
			if err := s.accounts.purgeUnreadableUser(memberID); err != nil {
				s.logger.Warn().Err(err).Str("user", memberID.String()).Msg("failed to purge unreadable member")
			}
			continue
		}
		if member == nil {
			continue
		}
		s.accounts.removeUser(*member)
	}

	if _, err := s.stores.Orgs.Delete(orgID); err != nil {
		return err
	}
	return nil
}
