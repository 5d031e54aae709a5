package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

const minPasswordLength = 10

var (
	userNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	codeRe     = regexp.MustCompile(`^[0-9]{6}$`)
)

// PasswordViolations lists the rules pw breaks; nil means the password is acceptable.
func PasswordViolations(pw string) []string {
	var out []string
	if len(pw) < minPasswordLength {
		out = append(out, "length >= 10")
	}
	var lower, upper, digit, space bool
	run, repeated := 0, false
	var last rune
	for i, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsSpace(r):
			space = true
		}
		if i > 0 && r == last {
			run++
		} else {
			run = 1
		}
		if run >= 3 {
			repeated = true
		}
		last = r
	}
	if !lower {
		out = append(out, "missing lowercase letter")
	}
	if !upper {
		out = append(out, "missing uppercase letter")
	}
	if !digit {
		out = append(out, "missing digit")
	}
	if space {
		out = append(out, "no whitespace")
	}
	if repeated {
		out = append(out, "no 3+ consecutive identical chars")
	}
	return out
}

// ValidatePassword returns a ValidationError naming every violated rule.
func ValidatePassword(pw string) error {
	if v := PasswordViolations(pw); len(v) > 0 {
		return &ValidationError{Field: "password", Problems: v}
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the address shape
func ValidateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil || !emailRe.MatchString(email) {
		return invalid("email", "invalid email format")
	}
	return nil
}

// ValidateUserName allows 3-50 letters, digits, underscores and hyphens
func ValidateUserName(name string) error {
	if !userNameRe.MatchString(name) {
		return invalid("user_name", "must be 3-50 characters of letters, digits, underscores or hyphens")
	}
	return nil
}

// ValidatePersonName allows 1-100 letters, spaces, apostrophes and hyphens
func ValidatePersonName(field, name string) error {
	n := len([]rune(name))
	if n < 1 || n > 100 {
		return invalid(field, "must be 1-100 characters")
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' && r != '\'' && r != '-' {
			return invalid(field, "may only contain letters, spaces, apostrophes and hyphens")
		}
	}
	return nil
}

// ValidateCodeFormat checks for six digits
func ValidateCodeFormat(code string) error {
	if !codeRe.MatchString(code) {
		return invalid("code", "must be 6 digits")
	}
	return nil
}
