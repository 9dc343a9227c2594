package provider

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"site-scheduler/backend/internal/identity/domain"
	userdomain "site-scheduler/backend/internal/user/domain"
)

// ErrEmailAlreadyRegistered is returned by Register when the email is taken.
var ErrEmailAlreadyRegistered = errors.New("email already registered")

// Register creates a user with a local password login. It does not sign in.
func (p *LocalProvider) Register(ctx context.Context, email, password, name string) (*userdomain.User, error) {
	now := p.nowF()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := p.users.GetByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := p.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	if err := p.users.Create(ctx, user); err != nil {
		return nil, err
	}
	login := &domain.Login{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Provider:     domain.LoginProviderLocal,
		ProviderID:   user.Email,
		PasswordHash: hashed,
		CreatedAt:    now,
	}
	if err := p.logins.Create(ctx, login); err != nil {
		return nil, err
	}
	return user, nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return errors.New("password must mix upper and lower case letters, a number and a symbol")
	}
	return nil
}
