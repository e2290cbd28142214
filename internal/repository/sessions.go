package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/store"
)

// SessionRecord maps an opaque token to its user, absolute expiry and the
// sliding renewal interval applied on authenticated requests.
type SessionRecord struct {
	UserID uuid.UUID     `json:"user_id"`
	Expiry time.Time     `json:"expiry"`
	TTL    time.Duration `json:"ttl"`
}

// SessionStore owns login sessions keyed by opaque 128-bit tokens.
type SessionStore struct {
	sessions *store.Store[SessionRecord]
	logger   zerolog.Logger
	now      func() time.Time
}

// NewSessionStore wraps the typed session store.
func NewSessionStore(sessions *store.Store[SessionRecord]) *SessionStore {
	return &SessionStore{
		sessions: sessions,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
}

// WithClock substitutes the time source. Intended for tests.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

// Create opens a session for the user with the given lifetime and returns
// the fresh token.
func (s *SessionStore) Create(userID uuid.UUID, ttl time.Duration) (uuid.UUID, error) {
	token := uuid.New()
	rec := SessionRecord{
		UserID: userID,
		Expiry: s.now().Add(ttl),
		TTL:    ttl,
	}
	if err := s.sessions.Insert(token.String(), rec); err != nil {
		return uuid.Nil, err
	}
	return token, nil
}

// Destroy ends the session. Idempotent: destroying a missing or expired
// token succeeds.
func (s *SessionStore) Destroy(token uuid.UUID) error {
	return s.sessions.RemoveSilent(token.String())
}

// Check resolves the token to its user. Expired records are deleted and
// yield nil. When pushExpiry is set the expiry slides forward by the
// session's TTL; a failed push never fails the check.
func (s *SessionStore) Check(token uuid.UUID, pushExpiry bool) (*uuid.UUID, error) {
	rec, err := s.sessions.Fetch(token.String())
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	// A session is dead from the expiry instant onwards.
	now := s.now()
	if !now.Before(rec.Expiry) {
		_ = s.sessions.RemoveSilent(token.String())
		return nil, nil
	}

	if pushExpiry {
		renewed := *rec
		renewed.Expiry = now.Add(rec.TTL)
		if err := s.sessions.Insert(token.String(), renewed); err != nil {
			s.logger.Warn().Err(err).Msg("failed to push session expiry")
		}
	}

	userID := rec.UserID
	return &userID, nil
}

// SweepExpired deletes every session whose expiry has passed. Only needed
// for bounded storage, not for correctness.
func (s *SessionStore) SweepExpired() error {
	now := s.now()
	return s.sessions.Retain(false, func(_ string, rec SessionRecord) bool {
		return rec.Expiry.After(now)
	})
}

// DestroyForUser removes every session belonging to the user. Called when
// the account is deleted.
func (s *SessionStore) DestroyForUser(userID uuid.UUID) error {
	return s.sessions.Retain(true, func(_ string, rec SessionRecord) bool {
		return rec.UserID != userID
	})
}
