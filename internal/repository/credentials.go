package repository

import (
	"errors"

	"github.com/google/uuid"

	"github.com/Merlotec/jdsite/internal/apperr"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/store"
)

// ErrNoUser indicates no credential exists for the email.
var ErrNoUser = errors.New("no account for email")

// ErrWrongPassword indicates the credential exists but the password differs.
var ErrWrongPassword = errors.New("wrong password")

// CredentialStore maps an email address to its password record.
type CredentialStore struct {
	creds *store.Store[models.CredentialRecord]
}

// NewCredentialStore wraps the typed credential store.
func NewCredentialStore(creds *store.Store[models.CredentialRecord]) *CredentialStore {
	return &CredentialStore{creds: creds}
}

// Authenticate resolves the email's credential and checks the password.
func (s *CredentialStore) Authenticate(email, password string) (uuid.UUID, error) {
	rec, err := s.creds.Fetch(email)
	if err != nil {
		return uuid.Nil, err
	}
	if rec == nil {
		return uuid.Nil, ErrNoUser
	}
	if !rec.Verify(password) {
		return uuid.Nil, ErrWrongPassword
	}
	return rec.UserID, nil
}

// Add registers a credential for a fresh email. The read-then-write runs
// under the email's per-key lock so concurrent adds see at most one success.
func (s *CredentialStore) Add(email string, rec models.CredentialRecord) error {
	guard, err := s.creds.WriteLock(email)
	if err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()

	if guard.Value() != nil {
		return apperr.Conflict("email already registered")
	}
	guard.Set(rec)
	return guard.Release()
}

// Get returns the credential record for the email, or nil.
func (s *CredentialStore) Get(email string) (*models.CredentialRecord, error) {
	return s.creds.Fetch(email)
}

// ChangePassword rehashes the stored credential with the new password.
func (s *CredentialStore) ChangePassword(email, password string, isDefault bool) error {
	guard, err := s.creds.WriteLock(email)
	if err != nil {
		return err
	}
	defer func() { _ = guard.Release() }()

	rec := guard.Value()
	if rec == nil {
		return apperr.NotFound("no account for email")
	}
	if err := rec.SetPassword(password, isDefault); err != nil {
		return apperr.Backend("hashing password", err)
	}
	guard.Set(*rec)
	return guard.Release()
}

// Remove deletes the email's credential. Idempotent.
func (s *CredentialStore) Remove(email string) error {
	return s.creds.RemoveSilent(email)
}

// RemoveByUserID scans for credentials pointing at the user and deletes
// them. Slow path used when the user record itself is unreadable and the
// email is unknown.
func (s *CredentialStore) RemoveByUserID(userID uuid.UUID) error {
	return s.creds.Retain(true, func(_ string, rec models.CredentialRecord) bool {
		return rec.UserID != userID
	})
}

// Each visits every credential. Used by invariant sweeps.
func (s *CredentialStore) Each(fn func(email string, rec models.CredentialRecord) error) error {
	return s.creds.ForEach(fn)
}
