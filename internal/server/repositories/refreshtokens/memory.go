package refreshtokens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
)

var ErrDuplicate = errors.New("refresh token already exists")

// revocation is the mutable part of a record. A record's revocation is
// replaced as a whole with compare-and-swap and never modified in place.
type revocation struct {
	revokedAt      *time.Time
	replacedByID   *string
	replacedByHash *string
}

type record struct {
	token models.RefreshToken // immutable fields only
	state atomic.Pointer[revocation]
}

func (r *record) snapshot() *models.RefreshToken {
	t := r.token
	s := r.state.Load()
	t.RevokedAt = s.revokedAt
	t.ReplacedByID = s.replacedByID
	t.ReplacedByHash = s.replacedByHash
	return &t
}

// tryRevoke moves an active record to next. It fails once any revocation
// is recorded or the record has expired.
func (r *record) tryRevoke(next *revocation, now time.Time) bool {
	for {
		cur := r.state.Load()
		if cur.revokedAt != nil || !now.Before(r.token.ExpiresAt) {
			return false
		}
		if r.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// MemoryRepository is a process-local Repository used when no database is
// configured, and in tests.
type MemoryRepository struct {
	byHash sync.Map // hash -> *record
	byID   sync.Map // id -> *record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Create(_ context.Context, t *models.RefreshToken) error {
	rec := &record{token: *t}
	rec.token.RevokedAt, rec.token.ReplacedByID, rec.token.ReplacedByHash = nil, nil, nil
	rec.state.Store(&revocation{
		revokedAt:      t.RevokedAt,
		replacedByID:   t.ReplacedByID,
		replacedByHash: t.ReplacedByHash,
	})

	if _, loaded := m.byID.LoadOrStore(t.ID, rec); loaded {
		return ErrDuplicate
	}
	if _, loaded := m.byHash.LoadOrStore(t.TokenHash, rec); loaded {
		m.byID.CompareAndDelete(t.ID, rec)
		return ErrDuplicate
	}
	return nil
}

func (m *MemoryRepository) FindByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	v, ok := m.byHash.Load(hash)
	if !ok {
		return nil, common.ErrorNotFound
	}
	return v.(*record).snapshot(), nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (*models.RefreshToken, error) {
	v, ok := m.byID.Load(id)
	if !ok {
		return nil, common.ErrorNotFound
	}
	return v.(*record).snapshot(), nil
}

// Rotate stores the successor, then races for the old record. The loser
// removes its successor again; its raw value was never handed out.
func (m *MemoryRepository) Rotate(ctx context.Context, oldID string, successor *models.RefreshToken, now time.Time) (bool, error) {
	v, ok := m.byID.Load(oldID)
	if !ok {
		return false, nil
	}
	old := v.(*record)

	if err := m.Create(ctx, successor); err != nil {
		return false, err
	}

	id, hash, at := successor.ID, successor.TokenHash, now
	if old.tryRevoke(&revocation{revokedAt: &at, replacedByID: &id, replacedByHash: &hash}, now) {
		return true, nil
	}

	m.remove(successor)
	return false, nil
}

func (m *MemoryRepository) remove(t *models.RefreshToken) {
	if v, ok := m.byID.Load(t.ID); ok {
		m.byHash.CompareAndDelete(t.TokenHash, v)
		m.byID.CompareAndDelete(t.ID, v)
	}
}

func (m *MemoryRepository) Revoke(_ context.Context, id string, now time.Time) (bool, error) {
	v, ok := m.byID.Load(id)
	if !ok {
		return false, nil
	}
	at := now
	return v.(*record).tryRevoke(&revocation{revokedAt: &at}, now), nil
}

func (m *MemoryRepository) RevokeDescendants(_ context.Context, id string, now time.Time) (int64, error) {
	var n int64
	seen := map[string]struct{}{id: {}}

	for cur := id; ; {
		v, ok := m.byID.Load(cur)
		if !ok {
			return n, nil
		}
		next := v.(*record).state.Load().replacedByID
		if next == nil {
			return n, nil
		}
		if _, loop := seen[*next]; loop {
			return n, nil
		}
		seen[*next] = struct{}{}

		if d, ok := m.byID.Load(*next); ok {
			at := now
			if d.(*record).revokeUnconditionally(&revocation{revokedAt: &at}) {
				n++
			}
		}
		cur = *next
	}
}

// revokeUnconditionally revokes a record that is not yet revoked, even when
// already expired, matching the SQL chain update.
func (r *record) revokeUnconditionally(next *revocation) bool {
	for {
		cur := r.state.Load()
		if cur.revokedAt != nil {
			return false
		}
		if r.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}
