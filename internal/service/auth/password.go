package auth

import (
	"fmt"
	"unicode"

	"github.com/nkorolev/credd/internal/apperrors"
)

const defaultMinPasswordLength = 8

// Password policy applied on register and password change
type PasswordPolicy struct {
	// Minimal password length in runes, defaultMinPasswordLength when zero
	MinLength int

	// Require at least one digit and one letter
	RequireDigit  bool
	RequireLetter bool
}

func (p PasswordPolicy) Validate(password string) error {
	minLength := p.MinLength
	if minLength == 0 {
		minLength = defaultMinPasswordLength
	}

	var length int
	var hasDigit, hasLetter bool
	for _, r := range password {
		length++
		hasDigit = hasDigit || unicode.IsDigit(r)
		hasLetter = hasLetter || unicode.IsLetter(r)
	}

	switch {
	case length < minLength:
		return fmt.Errorf("%w: shorter than %d characters", apperrors.ErrWeakPassword, minLength)
	case p.RequireDigit && !hasDigit:
		return fmt.Errorf("%w: must contain a digit", apperrors.ErrWeakPassword)
	case p.RequireLetter && !hasLetter:
		return fmt.Errorf("%w: must contain a letter", apperrors.ErrWeakPassword)
	}

	return nil
}
