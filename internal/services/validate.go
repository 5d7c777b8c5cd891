package services

import (
	"net/mail"
	"strings"

	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/types"
)

// bcrypt ignores input past 72 bytes; longer passwords are refused rather
// than silently truncated.
const maxPasswordBytes = 72

// RegisterInput is the payload of a registration request.
type RegisterInput struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     types.Role `json:"role"`
}

// LoginInput is the payload of a login request.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ValidateRegister normalizes in and checks its shape. An empty role
// defaults to patient; admin cannot be self-assigned.
func ValidateRegister(in RegisterInput) (RegisterInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Role = types.Role(strings.ToLower(strings.TrimSpace(string(in.Role))))

	if in.Name == "" {
		return RegisterInput{}, apperr.Validation("name is required")
	}
	if !validEmail(in.Email) {
		return RegisterInput{}, apperr.Validation("please include a valid email")
	}
	if in.Password == "" {
		return RegisterInput{}, apperr.Validation("password is required")
	}
	if len(in.Password) > maxPasswordBytes {
		return RegisterInput{}, apperr.Validation("password must be at most 72 bytes")
	}
	if in.Role == "" {
		in.Role = types.RolePatient
	}
	if !in.Role.SelfAssignable() {
		return RegisterInput{}, apperr.Validation("role must be patient or doctor")
	}
	return in, nil
}

// ValidateLogin normalizes in and checks its shape.
func ValidateLogin(in LoginInput) (LoginInput, error) {
	in.Email = normalizeEmail(in.Email)
	if !validEmail(in.Email) {
		return LoginInput{}, apperr.Validation("please include a valid email")
	}
	if in.Password == "" {
		return LoginInput{}, apperr.Validation("password is required")
	}
	return in, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail accepts a bare addr-spec; display names and angle brackets
// are rejected.
func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@")+1:], ".")
}
