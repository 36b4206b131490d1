package accounts

import (
	"errors"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// MinimumAge is the youngest age, in years, accepted at registration.
// The boundary is inclusive on the birthday itself.
const MinimumAge = 13

var (
	verificationCodePattern = regexp.MustCompile(`^\d{8}$`)
	countryCodePattern      = regexp.MustCompile(`^\+\d{1,4}$`)
	localNumberPattern      = regexp.MustCompile(`^\d{4,14}$`)
)

// RegisterPayload is the registration form submission.
type RegisterPayload struct {
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	DateOfBirth     time.Time `json:"dob"`
	Password        string    `json:"password"`
	ConfirmPassword string    `json:"confirmPassword"`
}

// Validate runs validation rules against the current wall clock.
func (r RegisterPayload) Validate() error {
	return r.ValidateAt(time.Now())
}

// ValidateAt runs validation rules, evaluating the age requirement at now.
func (r RegisterPayload) ValidateAt(now time.Time) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Username, validation.Required, validation.Length(2, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.DateOfBirth, validation.Required, validation.By(validateMinimumAge(now))),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// PhonePayload combines a country code and local number. The concatenation
// is sent to the backend as one field.
type PhonePayload struct {
	CountryCode string `json:"countryCode"`
	Number      string `json:"number"`
}

// Full returns the single wire value for the phone number.
func (p PhonePayload) Full() string {
	return p.CountryCode + p.Number
}

// Validate checks the country code (+ followed by 1-4 digits), the local
// number (4-14 digits), and then runs the concatenation through a parser
// to reject numbers that match the shape but cannot exist.
func (p PhonePayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.CountryCode, validation.Required, validation.Match(countryCodePattern)),
		validation.Field(&p.Number, validation.Required, validation.Match(localNumberPattern)),
	)
	if err != nil {
		return err
	}

	parsed, err := phonenumbers.Parse(p.Full(), "")
	if err != nil || !phonenumbers.IsPossibleNumber(parsed) {
		return validation.Errors{
			"number": errors.New("must be a possible phone number"),
		}
	}
	return nil
}

// ResetPasswordPayload finalizes a password reset.
type ResetPasswordPayload struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Validate runs validation rules.
func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// ValidateVerificationCode accepts exactly eight decimal digits, the shape
// of email and phone verification codes. Anything else is rejected before
// a network call is made.
func ValidateVerificationCode(code string) error {
	if !verificationCodePattern.MatchString(code) {
		return ErrInvalidCode.WithMetadata(map[string]any{
			"reason": "expected eight digits",
		})
	}
	return nil
}

// ValidateEmail checks a bare email address outside of a struct payload.
func ValidateEmail(email string) error {
	return validation.Validate(email, validation.Required, is.Email)
}

// IsOldEnough reports whether someone born on dob has reached the minimum
// age at now. The birthday itself counts.
func IsOldEnough(dob, now time.Time) bool {
	cutoff := now.AddDate(-MinimumAge, 0, 0)
	return !dob.After(cutoff)
}

func validateMinimumAge(now time.Time) validation.RuleFunc {
	return func(value any) error {
		dob, ok := value.(time.Time)
		if !ok || dob.IsZero() {
			return errors.New("must be a valid date")
		}
		if !IsOldEnough(dob, now) {
			return errors.New("must be at least 13 years old")
		}
		return nil
	}
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}
