package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/dto"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/repository"
)

// StatsService derives the read-only activity statistics view by scanning
// the user store. Nothing is cached; tearing across concurrent writes is
// acceptable.
type StatsService struct {
	stores    *repository.Stores
	catalogue models.Catalogue
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewStatsService constructs the statistics service.
func NewStatsService(stores *repository.Stores, catalogue models.Catalogue, logger zerolog.Logger) *StatsService {
	return &StatsService{
		stores:    stores,
		catalogue: catalogue,
		logger:    logger.With().Str("component", "stats_service").Logger(),
		tracer:    otel.Tracer("github.com/Merlotec/jdsite/internal/service"),
	}
}

// Compute counts, for each award and section slot, how many pupils selected
// each activity and how many reached Completed. A nil org computes site-wide
// figures (Owner/Admin); otherwise the figures cover one organisation.
func (s *StatsService) Compute(ctx context.Context, actor models.User, org *uuid.UUID) (dto.StatsResponse, error) {
	_, span := s.tracer.Start(ctx, "stats.compute")
	defer span.End()

	if org == nil {
		if actor.Role.Kind != models.RoleOwner && actor.Role.Kind != models.RoleAdmin {
			return dto.StatsResponse{}, apperr.Unauthorised("site statistics require a site administrator")
		}
	} else if !actor.Role.CanViewStats(*org) {
		return dto.StatsResponse{}, apperr.Unauthorised("no capability over this organisation")
	}

	resp := dto.StatsResponse{Awards: make([]dto.AwardStats, len(s.catalogue.Awards))}
	for i, award := range s.catalogue.Awards {
		resp.Awards[i].Name = award.Name
		for j, section := range award.Sections {
			resp.Awards[i].Sections[j].Activities = make([]dto.ActivityStats, len(section.Activities))
		}
	}

	err := s.stores.Users.ForEachValue(func(u models.User) error {
		if u.Role.Kind != models.RolePupil {
			return nil
		}
		if org != nil && u.Role.Org != *org {
			return nil
		}
		for _, slot := range u.Role.Sections {
			if slot == nil {
				continue
			}
			sec, err := s.stores.Sections.Get(*slot)
			if err != nil || sec == nil {
				continue
			}
			if !s.catalogue.ValidActivity(sec.AwardIndex, sec.SectionIndex, sec.ActivityIndex) {
				continue
			}
			stats := &resp.Awards[sec.AwardIndex].Sections[sec.SectionIndex].Activities[sec.ActivityIndex]
			stats.Selected++
			if sec.State.Kind == models.StateCompleted {
				stats.Completed++
			}
		}
		return nil
	})
	if err != nil {
		return dto.StatsResponse{}, err
	}
	return resp, nil
}
