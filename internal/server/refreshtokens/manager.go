// Package refreshtokens owns the refresh-token lifecycle: creation, cached
// lookups, revocation and the sweep of revoked or expired rows.
//
// Rows live in PostgreSQL; Redis holds two read-through entries per user,
// one for the current valid token and one for the full list. Every write
// path drops the entries it could have made stale.
package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/cache"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// ValidKey is the cache key of a user's current valid token.
func ValidKey(userID string) string { return "user:" + userID + ":refresh:valid" }

// AllKey is the cache key of a user's token list.
func AllKey(userID string) string { return "user:" + userID + ":refresh:all" }

type Manager struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cache       *cache.Store
	lifetime    time.Duration
	log         logging.Logger

	now      func() time.Time
	newToken func() (string, error)
	locks    *keyedMutex
}

// NewManager builds a Manager issuing tokens valid for lifetime.
func NewManager(db *sql.DB, m repomanager.RepositoryManager, c *cache.Store, lifetime time.Duration, log logging.Logger) *Manager {
	return &Manager{
		db:          db,
		repomanager: m,
		cache:       c,
		lifetime:    lifetime,
		log:         log.With("module", "refreshtokens"),
		now:         time.Now,
		newToken: func() (string, error) {
			return common.MakeRandBase64String(common.RefreshTokenSize)
		},
		locks: newKeyedMutex(),
	}
}

// Create issues and persists a new token for userID, then caches it as the
// user's valid token. Nothing is cached when the insert is not confirmed.
func (m *Manager) Create(ctx context.Context, userID string) (*models.RefreshToken, error) {
	value, err := m.newToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := m.now()
	t := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     value,
		ExpiresAt: now.Add(m.lifetime),
		CreatedAt: now,
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	n, err := m.repomanager.RefreshTokens(m.db).Create(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("refresh token insert not confirmed: %w", common.ErrPersistence)
	}

	if err := m.cache.Set(ctx, ValidKey(userID), t, m.entryTTL(t, now)); err != nil {
		m.log.Warn(ctx, "caching new refresh token failed", "user_id", userID, "error", err)
	}
	if err := m.cache.Remove(ctx, AllKey(userID)); err != nil {
		m.log.Warn(ctx, "dropping cached token list failed", "user_id", userID, "error", err)
	}

	return t, nil
}

// GetValid returns the user's current valid token, from cache when possible.
// When several valid rows exist the most recently created one wins.
// No valid token yields common.ErrNotFound.
func (m *Manager) GetValid(ctx context.Context, userID string) (*models.RefreshToken, error) {
	key := ValidKey(userID)

	for attempt := 0; attempt < 2; attempt++ {
		t, err := m.loadValid(ctx, userID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, fmt.Errorf("no active session: %w", common.ErrNotFound)
			}
			return nil, err
		}

		if t != nil && t.Valid(m.now()) {
			return t, nil
		}

		// the cached copy lapsed between write and read
		if err := m.cache.Remove(ctx, key); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("no active session: %w", common.ErrNotFound)
}

// loadValid serves a hit without locking; a miss is filled under the user's
// lock so the row read and the cache write happen before any revoke of the
// same user drops the key.
func (m *Manager) loadValid(ctx context.Context, userID string) (*models.RefreshToken, error) {
	key := ValidKey(userID)

	if t, ok, err := cache.Get[*models.RefreshToken](ctx, m.cache, key); err != nil || ok {
		return t, err
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	return cache.GetOrCreateWithTTL(ctx, m.cache, key, func(ctx context.Context) (*models.RefreshToken, cache.TTL, error) {
		now := m.now()
		t, err := m.repomanager.RefreshTokens(m.db).FindValidByUser(ctx, userID, now)
		if err != nil {
			return nil, cache.TTL{}, err
		}
		return t, m.entryTTL(t, now), nil
	})
}

// GetAll returns every token row of the user, newest first.
func (m *Manager) GetAll(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	key := AllKey(userID)

	if list, ok, err := cache.Get[[]models.RefreshToken](ctx, m.cache, key); err != nil || ok {
		return list, err
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	return cache.GetOrCreate(ctx, m.cache, key, func(ctx context.Context) ([]models.RefreshToken, error) {
		return m.repomanager.RefreshTokens(m.db).ListByUser(ctx, userID)
	})
}

// Revoke marks t revoked and drops the user's cache entries. Revocations of
// the same user are serialized; losing a race to another revoke or a sweep
// yields common.ErrPersistence.
func (m *Manager) Revoke(ctx context.Context, t *models.RefreshToken) error {
	unlock := m.locks.Lock(t.UserID)
	defer unlock()

	n, err := m.repomanager.RefreshTokens(m.db).Revoke(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("refresh token %s already revoked or gone: %w", t.ID, common.ErrPersistence)
	}
	t.Revoked = true

	if err := m.cache.Remove(ctx, ValidKey(t.UserID), AllKey(t.UserID)); err != nil {
		m.log.Error(ctx, "cache invalidation after revoke failed", "user_id", t.UserID, "error", err)
		return err
	}

	m.log.Info(ctx, "refresh token revoked", "user_id", t.UserID, "token_id", t.ID)
	return nil
}

// Sweep deletes every revoked or expired row in one transaction and returns
// how many were removed. Finding nothing to delete is a successful no-op;
// finding candidates but deleting none yields common.ErrPersistence.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	var (
		deleted int64
		owners  = make(map[string]struct{})
	)

	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.repomanager.RefreshTokens(tx)

		stale, err := repo.ListStale(ctx, m.now())
		if err != nil {
			return fmt.Errorf("list stale refresh tokens: %w", err)
		}
		if len(stale) == 0 {
			return nil
		}

		ids := make([]string, 0, len(stale))
		for _, t := range stale {
			ids = append(ids, t.ID)
			owners[t.UserID] = struct{}{}
		}

		deleted, err = repo.DeleteByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("delete stale refresh tokens: %w", err)
		}
		if deleted == 0 {
			return fmt.Errorf("%d stale refresh tokens found, none deleted: %w", len(ids), common.ErrPersistence)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for userID := range owners {
		unlock := m.locks.Lock(userID)
		if err := m.cache.Remove(ctx, ValidKey(userID), AllKey(userID)); err != nil {
			m.log.Warn(ctx, "cache invalidation after sweep failed", "user_id", userID, "error", err)
		}
		unlock()
	}

	m.log.Info(ctx, "refresh tokens swept", "deleted", deleted)
	return deleted, nil
}

// entryTTL keeps a cached token from outliving its own expiry.
func (m *Manager) entryTTL(t *models.RefreshToken, now time.Time) cache.TTL {
	ttl := m.cache.DefaultTTL()
	left := max(t.ExpiresAt.Sub(now), time.Millisecond)
	if ttl.Absolute <= 0 || ttl.Absolute > left {
		ttl.Absolute = left
	}
	return ttl
}
