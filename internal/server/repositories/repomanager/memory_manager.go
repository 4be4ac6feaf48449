package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/trackauth/internal/dbx"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/users"
)

// MemoryRepositoryManager hands out the same in-process repositories
// regardless of the DBTX it is given. Used when no database DSN is set.
type MemoryRepositoryManager struct {
	users  *users.MemoryRepository
	tokens *refreshtokens.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		users:  users.NewMemoryRepository(),
		tokens: refreshtokens.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *MemoryRepositoryManager) Users(dbx.DBTX) users.Repository { return m.users }

func (m *MemoryRepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.tokens }
