package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/internal/events"
	"github.com/healwise/apiserver/internal/store"
	"github.com/healwise/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for every failed login, whether the
// email is unknown or the password is wrong.
var ErrInvalidCredentials = apperr.Authentication("invalid credentials")

var errUnauthorized = apperr.Authentication("unauthorized")

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(userID int, role types.Role) (string, error)
}

// ProfileLookup resolves role profiles.
type ProfileLookup interface {
	Lookup(role types.Role, userID int) (types.RoleProfile, error)
}

// AuthService implements registration, login and identity lookups.
type AuthService struct {
	users    *UserService
	tokens   TokenIssuer
	profiles ProfileLookup
	events   events.Publisher
	hashCost int

	// dummyHash is compared against when the email is unknown so both
	// failure paths pay for one bcrypt comparison.
	dummyHash []byte
}

// AuthOption customizes an AuthService.
type AuthOption func(*AuthService)

// WithEvents publishes account events through p.
func WithEvents(p events.Publisher) AuthOption {
	return func(s *AuthService) {
		if p != nil {
			s.events = p
		}
	}
}

// WithHashCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) AuthOption {
	return func(s *AuthService) {
		s.hashCost = cost
	}
}

func NewAuthService(users *UserService, tokens TokenIssuer, profiles ProfileLookup, opts ...AuthOption) *AuthService {
	s := &AuthService{
		users:    users,
		tokens:   tokens,
		profiles: profiles,
		events:   events.Discard{},
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("healwise-dummy-password"), s.hashCost)
	return s
}

// Register validates in, stores a new account and returns it. It does not
// log the user in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	in, err := ValidateRegister(in)
	if err != nil {
		return types.User{}, err
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return types.User{}, apperr.Conflict("user already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, apperr.Internal("failed to check user", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return types.User{}, apperr.Internal("failed to create user", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         in.Name,
		Email:        in.Email,
		Role:         in.Role,
		PasswordHash: string(hashed),
	})
	if err != nil {
		// Lost a race with a concurrent registration for the same email.
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, apperr.Conflict("user already exists")
		}
		return types.User{}, apperr.Internal("failed to create user", err)
	}

	s.publish(ctx, events.NewUserEvent(events.TypeUserRegistered, user))
	return user, nil
}

// Login verifies credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (string, error) {
	in, err := ValidateLogin(in)
	if err != nil {
		return "", err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(in.Password))
			return "", ErrInvalidCredentials
		}
		return "", apperr.Internal("failed to authenticate", err)
	}

	// OAuth-only accounts have no password and cannot log in locally.
	if user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(in.Password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return "", ErrInvalidCredentials
	}

	signed, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return "", err
	}
	s.publish(ctx, events.NewUserEvent(events.TypeUserLoggedIn, user))
	return signed, nil
}

// CurrentUser returns the account behind an authenticated identity. A
// deleted account invalidates the identity.
func (s *AuthService) CurrentUser(ctx context.Context, identity types.Identity) (types.User, error) {
	user, err := s.users.GetByID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, errUnauthorized
		}
		return types.User{}, apperr.Internal("failed to load user", err)
	}
	return user, nil
}

// Profile returns the role profile of the authenticated user. The role
// stored on the account wins over the role in the token.
func (s *AuthService) Profile(ctx context.Context, identity types.Identity) (types.RoleProfile, error) {
	user, err := s.CurrentUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.profiles.Lookup(user.Role, user.ID)
}

// OAuthLogin signs in the account matching info's email, creating a patient
// account on first login, and returns a token exactly as Login does.
func (s *AuthService) OAuthLogin(ctx context.Context, provider string, info OAuthIdentity) (string, types.User, error) {
	email := normalizeEmail(info.Email)
	if !validEmail(email) {
		return "", types.User{}, apperr.Upstream("provider returned no usable email", nil)
	}
	// Accounts are matched by email, so an unverified address could claim
	// someone else's account.
	if !info.EmailVerified {
		return "", types.User{}, apperr.Authentication("email not verified by provider")
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		user, err = s.createOAuthUser(ctx, provider, email, info)
		if err != nil {
			return "", types.User{}, err
		}
	default:
		return "", types.User{}, apperr.Internal("failed to look up user", err)
	}

	signed, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return "", types.User{}, err
	}
	s.publish(ctx, events.NewUserEvent(events.TypeUserLoggedIn, user))
	return signed, user, nil
}

func (s *AuthService) createOAuthUser(ctx context.Context, provider, email string, info OAuthIdentity) (types.User, error) {
	name := info.Name
	if name == "" {
		name = email
	}
	user, err := s.users.Create(ctx, types.User{
		Name:          name,
		Email:         email,
		Role:          types.RolePatient,
		OAuthProvider: provider,
		OAuthSubject:  info.Subject,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Created concurrently by another callback; use that record.
		user, err = s.users.GetByEmail(ctx, email)
	}
	if err != nil {
		return types.User{}, apperr.Internal("failed to create user", err)
	}
	if user.OAuthProvider == provider && user.OAuthSubject == info.Subject {
		s.publish(ctx, events.NewUserEvent(events.TypeUserRegistered, user))
	}
	return user, nil
}

// publish is best effort; a broker outage never fails the request.
func (s *AuthService) publish(ctx context.Context, event events.AccountEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "account event dropped", "type", event.Type, "user_id", event.UserID, "error", err)
	}
}
