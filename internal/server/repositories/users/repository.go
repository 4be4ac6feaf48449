// Package users provides the user/password store consumed by the
// credential service.
package users

import (
	"context"

	"github.com/dmitrijs2005/trackauth/internal/server/models"
)

type Repository interface {
	// Create stores user and returns it with its assigned ID.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// FindByUsername returns common.ErrorNotFound for unknown usernames.
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	// FindByID returns common.ErrorNotFound for unknown ids.
	FindByID(ctx context.Context, id string) (*models.User, error)
}
