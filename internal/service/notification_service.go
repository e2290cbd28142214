package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/mailer"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/observability"
	"github.com/Merlotec/jdsite/internal/repository"
)

// NotificationService periodically emails each organisation's reviewers
// about sections awaiting review. Sends are best-effort; failures are
// logged and counted, never retried within a pass.
type NotificationService struct {
	stores *repository.Stores
	mail   mailer.Mailer
	logger zerolog.Logger
}

// NewNotificationService constructs the notification loop.
func NewNotificationService(stores *repository.Stores, mail mailer.Mailer, logger zerolog.Logger) *NotificationService {
	return &NotificationService{
		stores: stores,
		mail:   mail,
		logger: logger.With().Str("component", "notification_service").Logger(),
	}
}

// Run notifies at the given interval until the context is cancelled.
func (s *NotificationService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.NotifyOnce(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("notification pass failed")
			}
		}
	}
}

// NotifyOnce emails the admin and teachers of every organisation whose
// unreviewed queue is non-empty, honouring per-account notification flags.
func (s *NotificationService) NotifyOnce(ctx context.Context) error {
	return s.stores.Orgs.ForEachValue(func(org models.Organisation) error {
		pending := len(org.Unreviewed)
		if pending == 0 {
			return nil
		}

		recipients := make([]uuid.UUID, 0, len(org.Teachers)+1)
		if org.Admin != nil {
			recipients = append(recipients, *org.Admin)
		}
		recipients = append(recipients, org.Teachers...)

		for _, id := range recipients {
			user, err := s.stores.Users.Get(id)
			if err != nil || user == nil || !user.Notifications {
				continue
			}
			msg := mailer.Message{
				To:       user.Email,
				Subject:  "Sections awaiting review",
				Title:    "Hello " + user.Forename,
				Subtitle: fmt.Sprintf("<b>%d</b> section(s) are waiting for review in %s.", pending, org.Name),
				Body: fmt.Sprintf(
					"%d section(s) submitted by pupils of %s are waiting for your review.",
					pending, org.Name,
				),
			}
			if err := s.mail.Send(msg); err != nil {
				observability.NotificationFailures().Inc()
				s.logger.Warn().Err(err).Str("to", user.Email).Msg("failed to send notification")
			}
		}
		return nil
	})
}
