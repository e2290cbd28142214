package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// portableSpecials are the non-alphanumeric characters accepted in
// user-supplied strings.
const portableSpecials = "@.-_! "

// PortableString reports whether s contains only alphanumerics and the
// accepted special characters, and is not empty or whitespace-only.
func PortableString(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			continue
		}
		if strings.ContainsRune(portableSpecials, r) {
			continue
		}
		return false
	}
	return true
}

// ValidEmail applies the portable-string predicate plus the presence of '@'.
func ValidEmail(s string) bool {
	return PortableString(s) && strings.Contains(s, "@")
}

// NewValidator builds the validator with the portable custom tags registered.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("portable", func(fl validator.FieldLevel) bool {
		return PortableString(fl.Field().String())
	})
	_ = validate.RegisterValidation("portable_email", func(fl validator.FieldLevel) bool {
		return ValidEmail(fl.Field().String())
	})
	return validate
}
