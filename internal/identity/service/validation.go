package service

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Password policy limits. Bcrypt only reads the first 72 bytes, so longer passwords are
// rejected rather than silently truncated.
const (
	PasswordMinLength  = 8
	PasswordMaxBytes   = 72
	passwordMinClasses = 3
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("password_policy", func(fl validator.FieldLevel) bool {
		return checkPassword(fl.Field().String()) == nil
	})
	return v
}

type signupInput struct {
	Email       string `validate:"required,email,max=254"`
	Password    string `validate:"required,password_policy"`
	DisplayName string `validate:"max=100"`
}

type emailInput struct {
	Email string `validate:"required,email,max=254"`
}

type passwordInput struct {
	Password string `validate:"required,password_policy"`
}

// checkPassword enforces the password policy: at least PasswordMinLength characters, at
// most PasswordMaxBytes bytes, and at least three of upper, lower, digit, symbol.
func checkPassword(pw string) error {
	if len([]rune(pw)) < PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters", PasswordMinLength)
	}
	if len(pw) > PasswordMaxBytes {
		return fmt.Errorf("password must be at most %d bytes", PasswordMaxBytes)
	}
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < passwordMinClasses {
		return errors.New("password must contain at least three of: uppercase letter, lowercase letter, digit, symbol")
	}
	return nil
}

// validationError maps a validator failure to the taxonomy. Email problems win over
// password problems so the client fixes them in form order.
func validationError(err error, password string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return withCause(ErrInvalidInput, err)
	}
	for _, fe := range verrs {
		if fe.Field() == "Email" {
			return ErrInvalidEmail
		}
	}
	for _, fe := range verrs {
		if fe.Field() == "Password" {
			if perr := checkPassword(password); perr != nil {
				return withMessage(ErrWeakPassword, perr.Error())
			}
			return ErrWeakPassword
		}
	}
	return withMessage(ErrInvalidInput, verrs[0].Error())
}
