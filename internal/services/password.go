package services

import "unicode"

const (
	minPasswordLength = 8

	// Zero means unbounded; the current policy imposes no maximum.
	defaultMaxPasswordLength = 0
)

// PasswordValidator checks password strength. It is stateless; the zero
// value is not usable, construct with NewPasswordValidator.
type PasswordValidator struct {
	minLength int
	maxLength int
}

func NewPasswordValidator() *PasswordValidator {
	return &PasswordValidator{
		minLength: minPasswordLength,
		maxLength: defaultMaxPasswordLength,
	}
}

// Validate returns a validation error listing every unmet requirement,
// so a client can show all of them in one round trip. A missing
// password reports only the missing cause, and a length violation
// reports only the length cause; character-class requirements are
// evaluated together once the length is acceptable.
func (v *PasswordValidator) Validate(password string) error {
	if password == "" {
		return validationError(FieldCause{
			Field:   "password",
			Cause:   CauseMissing,
			Message: "The password is missing.",
		})
	}

	length := len([]rune(password))
	if length < v.minLength {
		return validationError(FieldCause{
			Field:   "password",
			Cause:   CauseTooShort,
			Message: "The password is too short.",
		})
	}
	if v.maxLength > 0 && length > v.maxLength {
		return validationError(FieldCause{
			Field:   "password",
			Cause:   CauseTooLong,
			Message: "The password is too long.",
		})
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	var causes []FieldCause
	if !hasUpper {
		causes = append(causes, FieldCause{
			Field:   "password",
			Cause:   CauseUppercaseMissing,
			Message: "The password must contain an uppercase letter.",
		})
	}
	if !hasLower {
		causes = append(causes, FieldCause{
			Field:   "password",
			Cause:   CauseLowercaseMissing,
			Message: "The password must contain a lowercase letter.",
		})
	}
	if !hasDigit {
		causes = append(causes, FieldCause{
			Field:   "password",
			Cause:   CauseNumberMissing,
			Message: "The password must contain a digit.",
		})
	}
	if !hasSpecial {
		causes = append(causes, FieldCause{
			Field:   "password",
			Cause:   CauseSpecialCharacterMissing,
			Message: "The password must contain a non-alphanumeric character.",
		})
	}

	if len(causes) > 0 {
		return validationError(causes...)
	}
	return nil
}
