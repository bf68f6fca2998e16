// Package refreshtokens declares the server-side repository contract for
// refresh-token rows in persistent storage.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository stores refresh-token rows. Write methods report the number of
// affected rows so callers can confirm the change was saved.
type Repository interface {
	// Create inserts t. ID and CreatedAt must already be set.
	Create(ctx context.Context, t *models.RefreshToken) (int64, error)

	// FindValidByUser returns the most recently created row of userID that is
	// not revoked and expires after now, or common.ErrNotFound.
	FindValidByUser(ctx context.Context, userID string, now time.Time) (*models.RefreshToken, error)

	// ListByUser returns every row of userID, newest first.
	ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error)

	// Revoke flips revoked to true for a row that is not yet revoked.
	Revoke(ctx context.Context, id string) (int64, error)

	// ListStale returns rows that are revoked or expired before now.
	ListStale(ctx context.Context, now time.Time) ([]models.RefreshToken, error)

	// DeleteByIDs removes the given rows.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}
