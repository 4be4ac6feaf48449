// Package refreshtokens declares the durable store for refresh-token records
// and provides PostgreSQL and in-memory implementations.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/server/models"
)

// Repository stores refresh-token records. Records are never deleted.
type Repository interface {
	// Create inserts a new active record.
	Create(ctx context.Context, t *models.RefreshToken) error

	// FindByHash returns common.ErrorNotFound when no record has the hash.
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// FindByID returns common.ErrorNotFound when no record has the id.
	FindByID(ctx context.Context, id string) (*models.RefreshToken, error)

	// Rotate atomically stores successor and marks oldID as replaced by it,
	// but only while oldID is neither revoked nor expired at now. It reports
	// false, and stores nothing, when that condition does not hold.
	Rotate(ctx context.Context, oldID string, successor *models.RefreshToken, now time.Time) (bool, error)

	// Revoke marks an active record revoked without a successor. It reports
	// false when the record was not active.
	Revoke(ctx context.Context, id string, now time.Time) (bool, error)

	// RevokeDescendants revokes every still-active record reachable from id
	// through the replaced-by chain and returns how many were revoked.
	RevokeDescendants(ctx context.Context, id string, now time.Time) (int64, error)
}
