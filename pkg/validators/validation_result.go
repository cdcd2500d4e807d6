// Package validators produces field-level validation results with
// user-facing messages and suggested fixes.
package validators

import (
	"fmt"
	"strings"
)

// ValidationCode represents the type of validation result
type ValidationCode string

const (
	ValidationCodeUnspecified ValidationCode = "unspecified"
	ValidationCodeSuccess     ValidationCode = "success"
	ValidationCodeRequired    ValidationCode = "required"
	ValidationCodeInvalid     ValidationCode = "invalid"
)

// ValidationOption defines a function that can customize a ValidationResult
type ValidationOption func(*ValidationResult)

// ValidationResult represents the result of a validation operation
type ValidationResult struct {
	IsValid         bool           `json:"is_valid"`
	FieldName       string         `json:"field_name"`
	Value           string         `json:"value"`
	Message         string         `json:"message"`
	SuggestedAction string         `json:"suggested_action"`
	ValidationCode  ValidationCode `json:"validation_code"`
}

// WithValue sets the value shown alongside the message.
func WithValue(value string) ValidationOption {
	return func(vr *ValidationResult) {
		vr.Value = value
	}
}

// WithMaskedValue sets the value shown, masked.
func WithMaskedValue(value string) ValidationOption {
	return func(vr *ValidationResult) {
		vr.Value = MaskString(value)
	}
}

// WithMessage sets a custom validation message
func WithMessage(message string) ValidationOption {
	return func(vr *ValidationResult) {
		vr.Message = message
	}
}

// WithSuggestedAction sets a custom suggested action
func WithSuggestedAction(action string) ValidationOption {
	return func(vr *ValidationResult) {
		vr.SuggestedAction = action
	}
}

// WithValidationCode sets the validation code
func WithValidationCode(code ValidationCode) ValidationOption {
	return func(vr *ValidationResult) {
		vr.ValidationCode = code
	}
}

// NewValidationResult creates a new ValidationResult
func NewValidationResult(isValid bool, fieldName string, options ...ValidationOption) *ValidationResult {
	vr := &ValidationResult{
		IsValid:        isValid,
		FieldName:      fieldName,
		ValidationCode: ValidationCodeUnspecified,
	}
	for _, option := range options {
		option(vr)
	}
	return vr
}

func valid(fieldName, value string) *ValidationResult {
	return NewValidationResult(true, fieldName, WithValue(value), WithValidationCode(ValidationCodeSuccess))
}

func String(vr *ValidationResult) string {
	var b strings.Builder
	b.WriteString(vr.FieldName)
	b.WriteString(": ")
	b.WriteString(vr.Message)
	if vr.Value != "" {
		fmt.Fprintf(&b, " (got %q)", vr.Value)
	}
	if vr.SuggestedAction != "" {
		b.WriteString(" ")
		b.WriteString(vr.SuggestedAction)
	}
	return b.String()
}

// ValidationError lists every failed result.
type ValidationError struct {
	Results []*ValidationResult
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		msgs = append(msgs, String(r))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// ValidationBuilder collects results in the order they are added.
type ValidationBuilder struct {
	results []*ValidationResult
}

// NewValidationBuilder creates a new validation builder
func NewValidationBuilder() *ValidationBuilder {
	return &ValidationBuilder{}
}

// Add records result, applying options first.
func (b *ValidationBuilder) Add(result *ValidationResult, options ...ValidationOption) *ValidationBuilder {
	for _, option := range options {
		option(result)
	}
	b.results = append(b.results, result)
	return b
}

// Errors returns only the failed results.
func (b *ValidationBuilder) Errors() []*ValidationResult {
	var failed []*ValidationResult
	for _, r := range b.results {
		if !r.IsValid {
			failed = append(failed, r)
		}
	}
	return failed
}

// Err returns a *ValidationError when any result failed, nil otherwise.
func (b *ValidationBuilder) Err() error {
	failed := b.Errors()
	if len(failed) == 0 {
		return nil
	}
	return &ValidationError{Results: failed}
}
