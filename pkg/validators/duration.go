package validators

import (
	"fmt"
	"time"
)

// ValidatePositiveDuration fails when d is zero or negative.
func ValidatePositiveDuration(d time.Duration, fieldName string) *ValidationResult {
	if d <= 0 {
		return NewValidationResult(false, fieldName,
			WithValue(d.String()),
			WithMessage(fmt.Sprintf("%s must be greater than zero.", ToUserFriendlyName(fieldName))),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	return valid(fieldName, d.String())
}

// ValidateDurationAbove fails unless d is strictly greater than floor.
func ValidateDurationAbove(d, floor time.Duration, fieldName, floorName string) *ValidationResult {
	if d <= floor {
		return NewValidationResult(false, fieldName,
			WithValue(d.String()),
			WithMessage(fmt.Sprintf("%s must be greater than %s (%s).", ToUserFriendlyName(fieldName), ToUserFriendlyName(floorName), floor)),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	return valid(fieldName, d.String())
}
