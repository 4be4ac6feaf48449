package users

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
	"github.com/google/uuid"
)

var ErrUsernameTaken = errors.New("username already taken")

// MemoryRepository keeps users in process memory. It backs development
// setups without a database.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]*models.User
	byUsername map[string]*models.User
	now        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[string]*models.User),
		byUsername: make(map[string]*models.User),
		now:        time.Now,
	}
}

func (m *MemoryRepository) Create(_ context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUsername[user.Username]; ok {
		return nil, ErrUsernameTaken
	}
	user.ID = uuid.NewString()
	user.CreatedAt = m.now()

	stored := clone(user)
	m.byID[stored.ID] = stored
	m.byUsername[stored.Username] = stored
	return user, nil
}

func (m *MemoryRepository) FindByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byUsername[username]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(u), nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(u), nil
}

func clone(u *models.User) *models.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	c.Authorities = slices.Clone(u.Authorities)
	return &c
}
