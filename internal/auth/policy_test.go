package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"mixed case alphanumeric", "Pass1234AA", true},
		{"twelve mixed", "HomeNavi2024", true},
		{"shorter than eight", "Pa1sWrd", false},
		{"no digit", "PasswordOnly", false},
		{"all lowercase", "abcdefghijkl", false},
		{"no uppercase", "password1234", false},
		{"whitespace", "Pass 1234AA", false},
		{"three identical in a row", "Paaa12345X", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.pw)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestPasswordViolations_listsEveryRule(t *testing.T) {
	v := PasswordViolations("aaa")
	assert.Contains(t, v, "length >= 10")
	assert.Contains(t, v, "missing uppercase letter")
	assert.Contains(t, v, "missing digit")
	assert.Contains(t, v, "no 3+ consecutive identical chars")
	assert.NotContains(t, v, "missing lowercase letter")
}

func TestValidateInputs(t *testing.T) {
	assert.NoError(t, ValidateEmail("alice@example.com"))
	assert.Error(t, ValidateEmail("alice@"))
	assert.Error(t, ValidateEmail("Alice <alice@example.com>"))

	assert.NoError(t, ValidateUserName("alice_01"))
	assert.Error(t, ValidateUserName("al"))
	assert.Error(t, ValidateUserName("alice smith"))

	assert.NoError(t, ValidatePersonName("first_name", "Zoë-Anne O'Neil"))
	assert.Error(t, ValidatePersonName("first_name", ""))
	assert.Error(t, ValidatePersonName("first_name", "R2D2"))

	assert.NoError(t, ValidateCodeFormat("012345"))
	assert.Error(t, ValidateCodeFormat("12345"))
	assert.Error(t, ValidateCodeFormat("abcdef"))

	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}
