package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/cryptox"
	"github.com/dmitrijs2005/trackauth/internal/logging"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/refreshtokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type entry struct {
	level string
	msg   string
	attrs map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []entry
}

func (r *recordingLogger) log(level, msg string, args []any) {
	attrs := map[string]any{}
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			attrs[k] = args[i+1]
		}
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry{level: level, msg: msg, attrs: attrs})
	r.mu.Unlock()
}

func (r *recordingLogger) Debug(_ context.Context, msg string, args ...any) { r.log("debug", msg, args) }
func (r *recordingLogger) Info(_ context.Context, msg string, args ...any)  { r.log("info", msg, args) }
func (r *recordingLogger) Warn(_ context.Context, msg string, args ...any)  { r.log("warn", msg, args) }
func (r *recordingLogger) Error(_ context.Context, msg string, args ...any) { r.log("error", msg, args) }
func (r *recordingLogger) With(...any) logging.Logger                       { return r }

func (r *recordingLogger) events(event string) []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entry
	for _, e := range r.entries {
		if e.attrs["event"] == event {
			out = append(out, e)
		}
	}
	return out
}

const ttl = 24 * time.Hour

var meta = models.ClientMeta{IP: "10.0.0.1", UserAgent: "test"}

func newLedger(t *testing.T, chain bool) (*Ledger, *refreshtokens.MemoryRepository, *clock, *recordingLogger) {
	t.Helper()
	repo := refreshtokens.NewMemoryRepository()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	logs := &recordingLogger{}
	l := New(repo, Config{TTL: ttl, RevokeChainOnReuse: chain, Now: clk.Now}, logs)
	return l, repo, clk, logs
}

func findRaw(t *testing.T, repo refreshtokens.Repository, raw string) *models.RefreshToken {
	t.Helper()
	rec, err := repo.FindByHash(context.Background(), cryptox.HashToken(raw))
	require.NoError(t, err)
	return rec
}

func TestIssue_StoresOnlyHash(t *testing.T) {
	l, repo, clk, _ := newLedger(t, false)

	raw, err := l.Issue(context.Background(), "u1", meta)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	rec := findRaw(t, repo, raw)
	assert.NotEqual(t, raw, rec.TokenHash)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, clk.Now(), rec.IssuedAt)
	assert.Equal(t, clk.Now().Add(ttl), rec.ExpiresAt)
	assert.Equal(t, meta.IP, rec.IP)
	assert.Equal(t, meta.UserAgent, rec.UserAgent)
	assert.Equal(t, models.StateActive, rec.State(clk.Now()))
}

func TestRotate_Success(t *testing.T) {
	ctx := context.Background()
	l, repo, clk, _ := newLedger(t, false)

	raw, err := l.Issue(ctx, "u1", meta)
	require.NoError(t, err)

	rot, err := l.Rotate(ctx, raw, meta)
	require.NoError(t, err)
	assert.Equal(t, "u1", rot.UserID)
	assert.NotEqual(t, raw, rot.Raw)

	old := findRaw(t, repo, raw)
	assert.Equal(t, models.StateRotated, old.State(clk.Now()))
	require.NotNil(t, old.ReplacedByID)
	assert.Equal(t, rot.TokenID, *old.ReplacedByID)

	next := findRaw(t, repo, rot.Raw)
	assert.Equal(t, rot.TokenID, next.ID)
	assert.Equal(t, models.StateActive, next.State(clk.Now()))
}

func TestRotate_UnknownToken(t *testing.T) {
	l, _, _, _ := newLedger(t, false)

	_, err := l.Rotate(context.Background(), "not-a-token", meta)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = l.Rotate(context.Background(), "", meta)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestRotate_OriginalAlwaysRevokedAfterChainGrows(t *testing.T) {
	ctx := context.Background()
	l, _, _, logs := newLedger(t, false)

	original, err := l.Issue(ctx, "u1", meta)
	require.NoError(t, err)

	cur := original
	for i := 0; i < 4; i++ {
		rot, err := l.Rotate(ctx, cur, meta)
		require.NoError(t, err)
		cur = rot.Raw
	}

	_, err = l.Rotate(ctx, original, meta)
	assert.ErrorIs(t, err, common.ErrTokenRevoked)

	reuse := logs.events(EventReuse)
	require.Len(t, reuse, 1)
	assert.Equal(t, "warn", reuse[0].level)
	assert.Equal(t, "rotated", reuse[0].attrs["revocation_kind"])

	// Single-hop: the head of the chain is still usable.
	_, err = l.Rotate(ctx, cur, meta)
	assert.NoError(t, err)
}

func TestRotate_ReuseRevokesChainWhenEnabled(t *testing.T) {
	ctx := context.Background()
	l, repo, clk, _ := newLedger(t, true)

	original, err := l.Issue(ctx, "u1", meta)
	require.NoError(t, err)
	r1, err := l.Rotate(ctx, original, meta)
	require.NoError(t, err)
	r2, err := l.Rotate(ctx, r1.Raw, meta)
	require.NoError(t, err)

	_, err = l.Rotate(ctx, original, meta)
	require.ErrorIs(t, err, common.ErrTokenRevoked)

	head := findRaw(t, repo, r2.Raw)
	assert.Equal(t, models.StateRevoked, head.State(clk.Now()))

	_, err = l.Rotate(ctx, r2.Raw, meta)
	assert.ErrorIs(t, err, common.ErrTokenRevoked)
}

func TestRotate_ExpiredIsNotRevoked(t *testing.T) {
	ctx := context.Background()
	l, repo, clk, logs := newLedger(t, false)

	raw, err := l.Issue(ctx, "u1", meta)
	require.NoError(t, err)

	clk.Advance(ttl)

	_, err = l.Rotate(ctx, raw, meta)
	assert.ErrorIs(t, err, common.ErrTokenExpired)

	rec := findRaw(t, repo, raw)
	assert.Nil(t, rec.RevokedAt, "expiry does not change state")
	assert.Len(t, logs.events(EventExpired), 1)
	assert.Empty(t, logs.events(EventReuse))
}

func TestRevoke_ThenRotateIsRevokedWithoutSuccessor(t *testing.T) {
	ctx := context.Background()
	l, repo, clk, logs := newLedger(t, false)

	raw, err := l.Issue(ctx, "u1", meta)
	require.NoError(t, err)

	require.NoError(t, l.Revoke(ctx, raw))
	require.NoError(t, l.Revoke(ctx, raw), "revocation is idempotent")

	_, err = l.Rotate(ctx, raw, meta)
	assert.ErrorIs(t, err, common.ErrTokenRevoked)

	rec := findRaw(t, repo, raw)
	assert.Equal(t, models.StateRevoked, rec.State(clk.Now()))
	assert.Nil(t, rec.ReplacedByID)

	reuse := logs.events(EventReuse)
	require.Len(t, reuse, 1)
	assert.Equal(t, "logout", reuse[0].attrs["revocation_kind"])
}

func TestRevoke_UnknownTokenIsNoop(t *testing.T) {
	l, _, _, _ := newLedger(t, false)
	assert.NoError(t, l.Revoke(context.Background(), "whatever"))
	assert.NoError(t, l.Revoke(context.Background(), ""))
}

func TestFindActiveOwner(t *testing.T) {
	ctx := context.Background()
	l, _, clk, _ := newLedger(t, false)

	raw, err := l.Issue(ctx, "u1", meta)
	require.NoError(t, err)

	owner, ok, err := l.FindActiveOwner(ctx, raw)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", owner)

	_, ok, err = l.FindActiveOwner(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(ttl + time.Second)
	_, ok, err = l.FindActiveOwner(ctx, raw)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRotate_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		l, _, _, _ := newLedger(t, false)
		raw, err := l.Issue(ctx, "u1", meta)
		require.NoError(t, err)

		const callers = 4
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, callers)
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = l.Rotate(ctx, raw, meta)
			}(i)
		}
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, common.ErrTokenRevoked)
		}
		require.Equal(t, 1, wins, "round %d", round)
	}
}

// losingRepo reports every conditional rotation as lost after letting a
// competing rotation through.
type losingRepo struct {
	*refreshtokens.MemoryRepository
}

func (r losingRepo) Rotate(ctx context.Context, oldID string, successor *models.RefreshToken, now time.Time) (bool, error) {
	winner := *successor
	winner.ID += "-winner"
	winner.TokenHash += "-winner"
	if _, err := r.MemoryRepository.Rotate(ctx, oldID, &winner, now); err != nil {
		return false, err
	}
	return false, nil
}

func TestRotate_LostRaceReportsRevoked(t *testing.T) {
	ctx := context.Background()
	repo := losingRepo{refreshtokens.NewMemoryRepository()}
	logs := &recordingLogger{}
	l := New(repo, Config{TTL: ttl, RevokeChainOnReuse: true}, logs)

	raw, err := l.Issue(ctx, "u1", meta)
	require.NoError(t, err)

	_, err = l.Rotate(ctx, raw, meta)
	assert.ErrorIs(t, err, common.ErrTokenRevoked)

	reuse := logs.events(EventReuse)
	require.Len(t, reuse, 1)
	assert.Equal(t, "concurrent", reuse[0].attrs["revocation_kind"])
}

type failingRepo struct {
	refreshtokens.Repository
	err error
}

func (f failingRepo) Create(context.Context, *models.RefreshToken) error { return f.err }
func (f failingRepo) FindByHash(context.Context, string) (*models.RefreshToken, error) {
	return nil, f.err
}

func TestStoreFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	l := New(failingRepo{err: boom}, Config{TTL: ttl}, nil)

	_, err := l.Issue(ctx, "u1", meta)
	assert.ErrorIs(t, err, boom)

	_, err = l.Rotate(ctx, "raw", meta)
	assert.ErrorIs(t, err, boom)
	assert.False(t, common.IsRejection(err))

	assert.ErrorIs(t, l.Revoke(ctx, "raw"), boom)

	_, _, err = l.FindActiveOwner(ctx, "raw")
	assert.ErrorIs(t, err, boom)
}

func TestIssue_RandomFailure(t *testing.T) {
	orig := newRawToken
	newRawToken = func() (string, error) { return "", errors.New("no entropy") }
	defer func() { newRawToken = orig }()

	l, _, _, _ := newLedger(t, false)
	_, err := l.Issue(context.Background(), "u1", meta)
	assert.ErrorContains(t, err, "no entropy")
}
