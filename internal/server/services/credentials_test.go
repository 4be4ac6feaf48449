package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/server/auth"
	"github.com/dmitrijs2005/trackauth/internal/server/keys"
	"github.com/dmitrijs2005/trackauth/internal/server/ledger"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
	"github.com/dmitrijs2005/trackauth/internal/server/passwords"
	"github.com/dmitrijs2005/trackauth/internal/server/ratelimit"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var (
	storeOnce sync.Once
	keyStore  *keys.Store
)

func testKeyStore(t *testing.T) *keys.Store {
	t.Helper()
	storeOnce.Do(func() {
		s, err := keys.NewStore(context.Background(), keys.Config{}, nil, nil)
		if err != nil {
			panic(err)
		}
		keyStore = s
	})
	return keyStore
}

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

type fixture struct {
	svc    *CredentialService
	rm     *repomanager.MemoryRepositoryManager
	clock  *clock
	pw     *passwords.Bcrypt
	userID string
}

var meta = models.ClientMeta{IP: "192.0.2.7", UserAgent: "test"}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()

	clk := &clock{t: time.Date(2026, 5, 1, 10, 0, 10, 0, time.UTC)}
	rm := repomanager.NewMemoryRepositoryManager()
	pw := passwords.NewBcrypt(bcrypt.MinCost)

	hash, err := pw.Hash("correct horse")
	require.NoError(t, err)
	u, err := rm.Users(nil).Create(ctx, &models.User{
		Username:     "alice",
		PasswordHash: hash,
		Roles:        []string{"member"},
		Authorities:  []string{"tasks:read", "tasks:write"},
	})
	require.NoError(t, err)

	ks := testKeyStore(t)
	deps := Deps{
		Passwords: pw,
		Issuer: auth.NewIssuer(ks, auth.IssuerConfig{
			Issuer: "trackauth", Audiences: []string{"api"}, TTL: 15 * time.Minute, Now: clk.Now,
		}),
		Verifier: auth.NewVerifier(ks, auth.VerifierConfig{
			Issuer: "trackauth", Audiences: []string{"api"}, ClockSkew: time.Minute, Now: clk.Now,
		}),
		Ledger:  ledger.New(rm.RefreshTokens(nil), ledger.Config{TTL: 24 * time.Hour, Now: clk.Now}, nil),
		Limiter: ratelimit.New(clk.Now),
	}
	for _, m := range mutate {
		m(&deps)
	}

	svc := NewCredentialService(nil, rm, deps, CredentialConfig{LoginLimitPerMinute: 5, RefreshLimitPerMinute: 10}, nil)
	return &fixture{svc: svc, rm: rm, clock: clk, pw: pw, userID: u.ID}
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice", "correct horse", meta)
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, "tasks:read tasks:write", pair.Scope)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := f.svc.VerifyAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.userID, claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{"member"}, claims.Roles)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "alice", "wrong", meta)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody", "correct horse", meta)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestLogin_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "alice", "wrong", meta)
		require.ErrorIs(t, err, common.ErrInvalidCredentials, "attempt %d reaches the password check", i+1)
	}

	_, err := f.svc.Login(ctx, "ALICE", "correct horse", meta)
	require.ErrorIs(t, err, common.ErrRateLimited)

	var ra *common.RetryAfterError
	require.True(t, errors.As(err, &ra))
	assert.GreaterOrEqual(t, ra.Seconds, 1)
	assert.LessOrEqual(t, ra.Seconds, 60)
	assert.Equal(t, 50, ra.Seconds)

	other := models.ClientMeta{IP: "198.51.100.1"}
	_, err = f.svc.Login(ctx, "alice", "correct horse", other)
	assert.NoError(t, err, "limits are per ip and username")

	f.clock.Advance(time.Minute)
	_, err = f.svc.Login(ctx, "alice", "correct horse", meta)
	assert.NoError(t, err, "next window allows again")
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, "alice", "correct horse", meta)
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken, meta)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "tasks:read tasks:write", second.Scope)

	claims, err := f.svc.VerifyAccessToken(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.userID, claims.Subject)

	_, err = f.svc.Refresh(ctx, first.RefreshToken, meta)
	assert.ErrorIs(t, err, common.ErrTokenRevoked)
	assert.Equal(t, common.CodeTokenRevoked, common.Code(err))

	_, err = f.svc.Refresh(ctx, second.RefreshToken, meta)
	assert.NoError(t, err)
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "garbage", meta)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	pair, err := f.svc.Login(ctx, "alice", "correct horse", meta)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.Refresh(ctx, pair.RefreshToken, meta)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestRefresh_UnknownTokensShareBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := f.svc.Refresh(ctx, "garbage-"+string(rune('a'+i)), meta)
		require.ErrorIs(t, err, common.ErrInvalidToken)
	}
	_, err := f.svc.Refresh(ctx, "garbage-z", meta)
	assert.ErrorIs(t, err, common.ErrRateLimited)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "alice", "correct horse", meta)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, pair.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, "never-issued"))

	_, err = f.svc.Refresh(ctx, pair.RefreshToken, meta)
	assert.ErrorIs(t, err, common.ErrTokenRevoked)
}

type brokenRepo struct {
	refreshtokens.Repository
}

func (brokenRepo) FindByHash(context.Context, string) (*models.RefreshToken, error) {
	return nil, errors.New("connection reset")
}
func (brokenRepo) Create(context.Context, *models.RefreshToken) error {
	return errors.New("connection reset")
}

func TestStoreFailuresAreInternal(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Ledger = ledger.New(brokenRepo{}, ledger.Config{TTL: time.Hour}, nil)
	})
	ctx := context.Background()

	err := f.svc.Logout(ctx, "token")
	assert.ErrorIs(t, err, common.ErrorInternal)

	_, err = f.svc.Refresh(ctx, "token", meta)
	assert.ErrorIs(t, err, common.ErrorInternal)

	_, err = f.svc.Login(ctx, "alice", "correct horse", meta)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

type failingIssuer struct{}

func (failingIssuer) Issue(string, string, []string, []string) (string, error) {
	return "", common.ErrNoSigningKeys
}
func (failingIssuer) AccessTokenTTLSeconds() int64 { return 0 }

func TestLogin_IssuerFailure(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Issuer = failingIssuer{} })

	_, err := f.svc.Login(context.Background(), "alice", "correct horse", meta)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestVerifyAccessToken_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.VerifyAccessToken(ctx, "not.a.jwt")
	var ve *auth.VerificationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, auth.ReasonMalformed, ve.Reason)

	pair, err := f.svc.Login(ctx, "alice", "correct horse", meta)
	require.NoError(t, err)

	f.clock.Advance(15*time.Minute + time.Minute + time.Second)
	_, err = f.svc.VerifyAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}
