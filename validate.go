package auth

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	passwordvalidator "github.com/wagslane/go-password-validator"
)

var usernameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (e *Engine) checkSignUp(in SignUpInput) error {
	name := strings.TrimSpace(in.FullName)
	if len(name) < 2 || len(name) > 100 {
		return validationErr("full name must be 2-100 characters")
	}
	if l := len(in.Username); l < 3 || l > 30 {
		return validationErr("username must be 3-30 characters")
	}
	if !usernameRE.MatchString(in.Username) {
		return validationErr("username may only contain letters, digits and underscores")
	}
	if err := e.validate.Var(in.Email, "required,email"); err != nil {
		return validationErr("invalid email address")
	}
	if err := e.checkPassword(in.Password); err != nil {
		return err
	}
	if in.Password != in.ConfirmPassword {
		return validationErr("passwords do not match")
	}
	return nil
}

// checkPassword enforces the acceptance policy: minimum length, one
// lowercase letter, one uppercase letter, one digit, one special
// character, and an estimated strength floor so "Password1!" does not
// slip through on classes alone.
func (e *Engine) checkPassword(pw string) error {
	if len(pw) < e.cfg.Password.MinLength {
		return validationErr("password must be at least %d characters", e.cfg.Password.MinLength)
	}
	var lower, upper, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return validationErr("password must contain a lowercase letter, an uppercase letter, a digit and a special character")
	}
	if err := passwordvalidator.Validate(pw, e.cfg.Password.MinEntropyBits); err != nil {
		return validationErr("password is too weak")
	}
	return nil
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}
