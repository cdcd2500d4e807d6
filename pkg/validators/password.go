package validators

import (
	"fmt"

	"github.com/plaenen/liststate/pkg/password"
)

// ValidatePassword fails on an empty or low-entropy password.
func ValidatePassword(fieldName string, value string) *ValidationResult {
	name := ToUserFriendlyName(fieldName)

	if len(value) == 0 {
		return required(fieldName)
	}
	if err := password.ValidateStrength(value); err != nil {
		return NewValidationResult(false, fieldName,
			WithValue(MaskPassword(value)),
			WithMessage(fmt.Sprintf("%s is too weak.", name)),
			WithSuggestedAction(fmt.Sprintf("Please provide a stronger %s.", name)),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	return valid(fieldName, MaskPassword(value))
}
