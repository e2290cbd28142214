package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/store"
)

// LinkIntentKind discriminates what redeeming a link does.
type LinkIntentKind string

const (
	// IntentCreateUser creates an account with the embedded role.
	IntentCreateUser LinkIntentKind = "create_user"
	// IntentResetPassword lets the embedded user set a new password.
	IntentResetPassword LinkIntentKind = "reset_password"
)

// LinkIntent is the single-use action a link token authorises.
type LinkIntent struct {
	Kind   LinkIntentKind `json:"kind"`
	Role   *models.Role   `json:"role,omitempty"`
	UserID *uuid.UUID     `json:"user_id,omitempty"`
}

// LinkRecord pairs an intent with its absolute expiry.
type LinkRecord struct {
	Intent LinkIntent `json:"intent"`
	Expiry time.Time  `json:"expiry"`
}

// LinkStore owns single-use time-bounded link tokens.
type LinkStore struct {
	links *store.Store[LinkRecord]
	now   func() time.Time
}

// NewLinkStore wraps the typed link store.
func NewLinkStore(links *store.Store[LinkRecord]) *LinkStore {
	return &LinkStore{links: links, now: time.Now}
}

// WithClock substitutes the time source. Intended for tests.
func (s *LinkStore) WithClock(now func() time.Time) *LinkStore {
	s.now = now
	return s
}

// Create mints a fresh token for the intent, valid for ttl.
func (s *LinkStore) Create(intent LinkIntent, ttl time.Duration) (uuid.UUID, error) {
	token := uuid.New()
	rec := LinkRecord{Intent: intent, Expiry: s.now().Add(ttl)}
	if err := s.links.Insert(token.String(), rec); err != nil {
		return uuid.Nil, err
	}
	return token, nil
}

// FetchValid returns the intent for a live token, or nil for missing or
// expired tokens. It does not consume the token.
func (s *LinkStore) FetchValid(token uuid.UUID) (*LinkIntent, error) {
	rec, err := s.links.Fetch(token.String())
	if err != nil {
		return nil, err
	}
	if rec == nil || !s.now().Before(rec.Expiry) {
		return nil, nil
	}
	intent := rec.Intent
	return &intent, nil
}

// Consume removes the token. Callers must invoke this on successful
// redemption to enforce single use.
func (s *LinkStore) Consume(token uuid.UUID) error {
	return s.links.RemoveSilent(token.String())
}

// Redeem runs act for a live token under the token's per-key lock and
// consumes the token iff act succeeds. Concurrent redemptions of the same
// token see at most one success.
func (s *LinkStore) Redeem(token uuid.UUID, act func(LinkIntent) error) error {
	guard, err := s.links.WriteLock(token.String())
	if err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()

	rec := guard.Value()
	if rec == nil || !s.now().Before(rec.Expiry) {
		return apperr.NotFound("link invalid or expired")
	}
	if err := act(rec.Intent); err != nil {
		return err
	}
	return s.links.RemoveSilent(token.String())
}

// SweepExpired deletes every link whose expiry has passed.
func (s *LinkStore) SweepExpired() error {
	now := s.now()
	return s.links.Retain(false, func(_ string, rec LinkRecord) bool {
		return rec.Expiry.After(now)
	})
}
