// Package identity is the account side of authentication: looking users up,
// checking passwords, enumerating roles and creating accounts.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Provider is backed by the users repository and bcrypt password hashes.
type Provider struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	cost        int
}

func NewProvider(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *Provider {
	return &Provider{
		db:          db,
		repomanager: m,
		log:         log.With("module", "identity"),
		cost:        bcrypt.DefaultCost,
	}
}

// FindByEmail returns the account for email or common.ErrNotFound.
func (p *Provider) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return p.repomanager.Users(p.db).GetByEmail(ctx, normalizeEmail(email))
}

// VerifyPassword reports whether password matches the user's stored hash.
func (p *Provider) VerifyPassword(user *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) == nil
}

// RolesFor returns the user's roles sorted by name.
func (p *Provider) RolesFor(ctx context.Context, userID string) ([]string, error) {
	return p.repomanager.Users(p.db).Roles(ctx, userID)
}

// Create registers a new account. Malformed or duplicate emails and empty
// or overlong passwords yield common.ErrValidation.
func (p *Provider) Create(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, fmt.Errorf("invalid email %q: %w", email, common.ErrValidation)
	}
	if password == "" {
		return nil, fmt.Errorf("empty password: %w", common.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("password too long: %w", common.ErrValidation)
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{ID: uuid.NewString(), Email: email, PasswordHash: hash}
	return p.repomanager.Users(p.db).Create(ctx, user)
}

// AssignRole grants role to the user.
func (p *Provider) AssignRole(ctx context.Context, userID, role string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return fmt.Errorf("empty role: %w", common.ErrValidation)
	}
	if err := p.repomanager.Users(p.db).AssignRole(ctx, userID, role); err != nil {
		return fmt.Errorf("assign role %q: %w", role, err)
	}
	return nil
}

// SignOut ends the user's session. Sessions are the refresh tokens
// themselves, so there is nothing else to tear down.
func (p *Provider) SignOut(ctx context.Context, userID string) error {
	p.log.Info(ctx, "user signed out", "user_id", userID)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
