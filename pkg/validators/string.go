package validators

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ToUserFriendlyName converts snake_case field names to user-friendly names
// Examples: "queue_name" -> "Queue Name", "nats_url" -> "Nats Url"
func ToUserFriendlyName(fieldName string) string {
	if fieldName == "" {
		return fieldName
	}

	// Casers are stateful, so each call gets its own.
	return cases.Title(language.English).String(strings.ReplaceAll(fieldName, "_", " "))
}

func required(fieldName string) *ValidationResult {
	name := ToUserFriendlyName(fieldName)
	return NewValidationResult(false, fieldName,
		WithMessage(fmt.Sprintf("%s is required.", name)),
		WithSuggestedAction(fmt.Sprintf("Please provide a valid %s.", name)),
		WithValidationCode(ValidationCodeRequired),
	)
}

// ValidateStringEmpty fails when value is empty.
func ValidateStringEmpty(value string, fieldName string) *ValidationResult {
	if len(value) == 0 {
		return required(fieldName)
	}
	return valid(fieldName, value)
}

// ValidateStringLength validates that a string meets minimum and maximum length requirements
func ValidateStringLength(value string, fieldName string, minLength, maxLength int) *ValidationResult {
	name := ToUserFriendlyName(fieldName)

	if len(value) < minLength {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s must be at least %d characters long.", name, minLength)),
			WithSuggestedAction(fmt.Sprintf("Please provide a %s with at least %d characters.", name, minLength)),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	if len(value) > maxLength {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s must be no more than %d characters long.", name, maxLength)),
			WithSuggestedAction(fmt.Sprintf("Please provide a %s with no more than %d characters.", name, maxLength)),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	return valid(fieldName, value)
}

// ValidateToken fails unless value is non-empty printable ASCII without
// whitespace or commas, the shape of stream and queue names.
func ValidateToken(value string, fieldName string) *ValidationResult {
	if len(value) == 0 {
		return required(fieldName)
	}
	if !govalidator.IsPrintableASCII(value) || strings.ContainsAny(value, " \t,") {
		name := ToUserFriendlyName(fieldName)
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s must be printable ASCII without spaces or commas.", name)),
			WithSuggestedAction("Use names like 'Audit.Exchange'."),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	return valid(fieldName, value)
}

// ValidateURL fails unless value parses as a URL with one of schemes.
// No schemes means any scheme is accepted.
func ValidateURL(value string, fieldName string, schemes ...string) *ValidationResult {
	if len(value) == 0 {
		return required(fieldName)
	}

	name := ToUserFriendlyName(fieldName)
	scheme, _, hasScheme := strings.Cut(value, "://")
	if !hasScheme || !govalidator.IsRequestURL(value) {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s is not a valid URL.", name)),
			WithSuggestedAction(fmt.Sprintf("Please provide a %s like 'scheme://host'.", name)),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	if len(schemes) > 0 && !govalidator.IsIn(scheme, schemes...) {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s must use one of: %s.", name, strings.Join(schemes, ", "))),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	return valid(fieldName, value)
}

// ValidateHostPort fails unless value is host:port.
func ValidateHostPort(value string, fieldName string) *ValidationResult {
	if len(value) == 0 {
		return required(fieldName)
	}
	host, port, ok := strings.Cut(value, ":")
	if !ok || !govalidator.IsPort(port) || (host != "" && !govalidator.IsHost(host)) {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s must be host:port.", ToUserFriendlyName(fieldName))),
			WithSuggestedAction("Use ':9090' to listen on every interface."),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	return valid(fieldName, value)
}

// ValidateOneOf fails unless value is one of allowed.
func ValidateOneOf(value string, fieldName string, allowed ...string) *ValidationResult {
	if !govalidator.IsIn(value, allowed...) {
		return NewValidationResult(false, fieldName,
			WithValue(value),
			WithMessage(fmt.Sprintf("%s must be one of: %s.", ToUserFriendlyName(fieldName), strings.Join(allowed, ", "))),
			WithValidationCode(ValidationCodeInvalid),
		)
	}
	return valid(fieldName, value)
}
