// Package services contains server-side business logic. AuthService runs the
// login, logout, refresh and registration use cases on top of the identity
// provider, the token issuer and the refresh-token manager.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// IdentityProvider owns accounts, credentials and roles.
type IdentityProvider interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	RolesFor(ctx context.Context, userID string) ([]string, error)
	Create(ctx context.Context, email, password string) (*models.User, error)
	AssignRole(ctx context.Context, userID, role string) error
	SignOut(ctx context.Context, userID string) error
}

// TokenIssuer mints access tokens.
type TokenIssuer interface {
	Mint(userID string, roles []string) (string, error)
}

// RefreshTokens is the refresh-token lifecycle used by the use cases.
type RefreshTokens interface {
	Create(ctx context.Context, userID string) (*models.RefreshToken, error)
	GetValid(ctx context.Context, userID string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, t *models.RefreshToken) error
}

// Notifier emits registration events without blocking the caller.
type Notifier interface {
	UserRegistered(ctx context.Context, userID, email, role string)
}

// LoginResult is what a successful login hands back to the client.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         *models.Profile
}

type AuthService struct {
	identity IdentityProvider
	issuer   TokenIssuer
	tokens   RefreshTokens
	notifier Notifier
	log      logging.Logger
}

func NewAuthService(identity IdentityProvider, issuer TokenIssuer, tokens RefreshTokens, notifier Notifier, log logging.Logger) *AuthService {
	return &AuthService{
		identity: identity,
		issuer:   issuer,
		tokens:   tokens,
		notifier: notifier,
		log:      log.With("module", "auth"),
	}
}

// Login checks the credentials and returns a fresh access token, a new
// refresh token and the user's public profile. Unknown emails and wrong
// passwords both yield common.ErrAuthentication.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.identity.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.log.Info(ctx, "login rejected", "reason", "unknown email")
			return nil, common.ErrAuthentication
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("find user returned nothing: %w", common.ErrValidation)
	}

	if !s.identity.VerifyPassword(user, password) {
		s.log.Info(ctx, "login rejected", "reason", "bad password", "user_id", user.ID)
		return nil, common.ErrAuthentication
	}

	roles, err := s.identity.RolesFor(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("roles for %s: %w", user.ID, err)
	}

	access, err := s.issuer.Mint(user.ID, roles)
	if err != nil {
		return nil, err
	}

	refresh, err := s.tokens.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if refresh == nil {
		return nil, fmt.Errorf("refresh token missing: %w", common.ErrValidation)
	}

	s.log.Info(ctx, "login succeeded", "user_id", user.ID)
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		User:         models.NewProfile(user, roles),
	}, nil
}

// Logout revokes the caller's valid refresh token and signs the user out.
// Without an authenticated principal nothing is touched.
func (s *AuthService) Logout(ctx context.Context) error {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return fmt.Errorf("no authenticated principal: %w", common.ErrAuthentication)
	}

	t, err := s.tokens.GetValid(ctx, p.UserID)
	if err != nil {
		return err
	}
	if err := s.tokens.Revoke(ctx, t); err != nil {
		return err
	}
	if err := s.identity.SignOut(ctx, p.UserID); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}

	s.log.Info(ctx, "logout", "user_id", p.UserID)
	return nil
}

// Refresh mints a new access token for the caller as long as they still hold
// a valid refresh token. The refresh token itself is reused, not rotated.
// common.ErrNotFound means the session is over and the user must log in.
func (s *AuthService) Refresh(ctx context.Context) (string, error) {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no authenticated principal: %w", common.ErrAuthentication)
	}

	if _, err := s.tokens.GetValid(ctx, p.UserID); err != nil {
		return "", err
	}

	roles, err := s.identity.RolesFor(ctx, p.UserID)
	if err != nil {
		return "", fmt.Errorf("roles for %s: %w", p.UserID, err)
	}

	access, err := s.issuer.Mint(p.UserID, roles)
	if err != nil {
		return "", err
	}

	s.log.Info(ctx, "access token refreshed", "user_id", p.UserID)
	return access, nil
}

// Register creates an account with one role and announces it on the bus.
// Privileged roles cannot be requested. Any failure to create the account or
// grant the role is a common.ErrValidation.
func (s *AuthService) Register(ctx context.Context, email, password, role string) (*models.Profile, error) {
	if role == "" {
		return nil, fmt.Errorf("empty role: %w", common.ErrValidation)
	}
	if models.Privileged(role) {
		s.log.Warn(ctx, "registration rejected", "reason", "privileged role", "role", role)
		return nil, fmt.Errorf("role %q cannot be self-assigned: %w", role, common.ErrValidation)
	}

	user, err := s.identity.Create(ctx, email, password)
	if err != nil {
		return nil, asValidation("create account", err)
	}
	if user == nil {
		return nil, fmt.Errorf("create account returned nothing: %w", common.ErrValidation)
	}

	if err := s.identity.AssignRole(ctx, user.ID, role); err != nil {
		return nil, asValidation("assign role", err)
	}

	s.notifier.UserRegistered(ctx, user.ID, user.Email, role)

	s.log.Info(ctx, "user registered", "user_id", user.ID, "role", role)
	return models.NewProfile(user, []string{role}), nil
}

func asValidation(op string, err error) error {
	if errors.Is(err, common.ErrValidation) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, common.ErrValidation)
}
