package account

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Field limits, matching the users table columns.
const (
	UsernameMinLen    = 3
	UsernameMaxLen    = 80
	EmailMaxLen       = 120
	PasswordMinLength = 6
	NameMaxLen        = 80
)

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName *string
	LastName  *string
}

// UpdateInput holds the fields a caller wants to change. Nil fields are left
// untouched.
type UpdateInput struct {
	Username  *string
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
}

// ValidateRegistration checks every registration field and reports all
// violations together. It returns nil when the input is acceptable.
func ValidateRegistration(in RegisterInput) error {
	var v validator
	v.username(in.Username)
	v.email(in.Email)
	v.password(in.Password)
	v.name("first_name", in.FirstName)
	v.name("last_name", in.LastName)
	return v.err()
}

// ValidateUpdate applies the registration rules to the fields present in in.
func ValidateUpdate(in UpdateInput) error {
	var v validator
	if in.Username != nil {
		v.username(*in.Username)
	}
	if in.Email != nil {
		v.email(*in.Email)
	}
	if in.Password != nil {
		v.password(*in.Password)
	}
	v.name("first_name", in.FirstName)
	v.name("last_name", in.LastName)
	return v.err()
}

type validator struct {
	violations []Violation
}

func (v *validator) add(field, reason string) {
	v.violations = append(v.violations, Violation{Field: field, Reason: reason})
}

func (v *validator) username(s string) {
	if n := utf8.RuneCountInString(s); n < UsernameMinLen || n > UsernameMaxLen {
		v.add("username", fmt.Sprintf("must be between %d and %d characters", UsernameMinLen, UsernameMaxLen))
	}
}

func (v *validator) email(s string) {
	if s == "" {
		v.add("email", "is required")
		return
	}
	if utf8.RuneCountInString(s) > EmailMaxLen {
		v.add("email", fmt.Sprintf("must be at most %d characters", EmailMaxLen))
		return
	}
	// A bare address only: no display name, no surrounding whitespace.
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" || !dottedDomain(s) {
		v.add("email", "must be a valid email address")
	}
}

// dottedDomain reports whether the domain part has at least two non-empty
// labels, so addresses like "a@b" are rejected.
func dottedDomain(addr string) bool {
	domain := addr[strings.LastIndexByte(addr, '@')+1:]
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" {
			return false
		}
	}
	return true
}

func (v *validator) password(s string) {
	if utf8.RuneCountInString(s) < PasswordMinLength {
		v.add("password", fmt.Sprintf("must be at least %d characters", PasswordMinLength))
	}
}

func (v *validator) name(field string, s *string) {
	if s != nil && utf8.RuneCountInString(*s) > NameMaxLen {
		v.add(field, fmt.Sprintf("must be at most %d characters", NameMaxLen))
	}
}

func (v *validator) err() error {
	if len(v.violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: v.violations}
}
