// Package password checks secret strength before credentials are sealed.
package password

import (
	"errors"
	"fmt"

	passwordvalidator "github.com/wagslane/go-password-validator"
)

const (
	// MinEntropyBits is the minimum accepted entropy for a sealed password.
	MinEntropyBits = 60

	// MaxPasswordLength bounds the input handed to the entropy estimate.
	MaxPasswordLength = 1024
)

// ErrEmpty is returned for an empty password.
var ErrEmpty = errors.New("password cannot be empty")

// ValidateStrength returns an error when password is empty, longer than
// MaxPasswordLength, or has less than MinEntropyBits of entropy.
func ValidateStrength(password string) error {
	if len(password) == 0 {
		return ErrEmpty
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password longer than %d bytes", MaxPasswordLength)
	}
	return passwordvalidator.Validate(password, MinEntropyBits)
}
