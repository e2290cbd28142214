package models

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for password hashing.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// CredentialRecord is the password record stored against an email address.
// Default marks a machine-generated password that has not been changed yet;
// while set, the plaintext is retained so privileged account views can show
// it to the teacher who created the account.
type CredentialRecord struct {
	UserID          uuid.UUID `json:"user_id"`
	Salt            []byte    `json:"salt"`
	Hash            []byte    `json:"hash"`
	Default         bool      `json:"default"`
	DefaultPassword string    `json:"default_password,omitempty"`
}

// NewCredentialRecord hashes the password and builds a record for the user.
func NewCredentialRecord(userID uuid.UUID, password string, isDefault bool) (CredentialRecord, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return CredentialRecord{}, fmt.Errorf("generating salt: %w", err)
	}

	rec := CredentialRecord{
		UserID:  userID,
		Salt:    salt,
		Hash:    hashPassword(password, salt),
		Default: isDefault,
	}
	if isDefault {
		rec.DefaultPassword = password
	}
	return rec, nil
}

// SetPassword rehashes the record with a new password, clearing the default
// marker unless the caller says the new password is machine-generated too.
func (c *CredentialRecord) SetPassword(password string, isDefault bool) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	c.Salt = salt
	c.Hash = hashPassword(password, salt)
	c.Default = isDefault
	if isDefault {
		c.DefaultPassword = password
	} else {
		c.DefaultPassword = ""
	}
	return nil
}

// Verify reports whether the password matches the stored hash.
func (c CredentialRecord) Verify(password string) bool {
	hash := hashPassword(password, c.Salt)
	return subtle.ConstantTimeCompare(hash, c.Hash) == 1
}

func hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
