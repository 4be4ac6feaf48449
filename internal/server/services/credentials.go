// Package services contains server-side business logic. CredentialService
// orchestrates login, refresh-token rotation, logout and access-token
// verification on top of the auth, ledger and ratelimit packages.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/dbx"
	"github.com/dmitrijs2005/trackauth/internal/logging"
	"github.com/dmitrijs2005/trackauth/internal/server/auth"
	"github.com/dmitrijs2005/trackauth/internal/server/ledger"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
	"github.com/dmitrijs2005/trackauth/internal/server/passwords"
	"github.com/dmitrijs2005/trackauth/internal/server/ratelimit"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/repomanager"
)

const (
	ActionLogin   = "login"
	ActionRefresh = "refresh"

	unknownIdentity = "unknown"
)

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
}

type TokenIssuer interface {
	Issue(subjectID, username string, roles, authorities []string) (string, error)
	AccessTokenTTLSeconds() int64
}

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type RefreshLedger interface {
	Issue(ctx context.Context, userID string, meta models.ClientMeta) (string, error)
	Rotate(ctx context.Context, raw string, meta models.ClientMeta) (*ledger.Rotation, error)
	Revoke(ctx context.Context, raw string) error
	FindActiveOwner(ctx context.Context, raw string) (string, bool, error)
}

type RateLimiter interface {
	Allow(action, identity string, limitPerMinute int) ratelimit.Decision
}

type CredentialConfig struct {
	LoginLimitPerMinute   int
	RefreshLimitPerMinute int
}

// Deps are the collaborators of a CredentialService.
type Deps struct {
	Passwords passwords.Verifier
	Issuer    TokenIssuer
	Verifier  TokenVerifier
	Ledger    RefreshLedger
	Limiter   RateLimiter
}

type CredentialService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	deps        Deps
	cfg         CredentialConfig
	logger      logging.Logger
}

func NewCredentialService(db dbx.DBTX, m repomanager.RepositoryManager, deps Deps, cfg CredentialConfig, logger logging.Logger) *CredentialService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CredentialService{
		db:          db,
		repomanager: m,
		deps:        deps,
		cfg:         cfg,
		logger:      logger,
	}
}

// Login checks the rate limit for ip+username, verifies the password and
// mints a token pair. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *CredentialService) Login(ctx context.Context, username, password string, meta models.ClientMeta) (*TokenPair, error) {
	identity := meta.IP + ":" + strings.ToLower(username)
	if err := s.allow(ctx, ActionLogin, identity, s.cfg.LoginLimitPerMinute); err != nil {
		return nil, err
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.deps.Passwords.VerifyMissing(password)
			return nil, common.ErrInvalidCredentials
		}
		s.logger.Error(ctx, "user lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	if !s.deps.Passwords.Verify(password, user.PasswordHash) {
		return nil, common.ErrInvalidCredentials
	}

	access, err := s.issueAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}

	refresh, err := s.deps.Ledger.Issue(ctx, user.ID, meta)
	if err != nil {
		s.logger.Error(ctx, "refresh token issue failed", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}

	return s.pair(access, refresh, user), nil
}

// Refresh rotates raw and mints a new access token for its owner. The rate
// limit is keyed by the token's owner, or a shared unknown bucket when raw
// does not resolve to an active token.
func (s *CredentialService) Refresh(ctx context.Context, raw string, meta models.ClientMeta) (*TokenPair, error) {
	owner, ok, err := s.deps.Ledger.FindActiveOwner(ctx, raw)
	if err != nil {
		s.logger.Error(ctx, "refresh token lookup failed", "error", err)
		return nil, common.ErrorInternal
	}
	if !ok {
		owner = unknownIdentity
	}
	if err := s.allow(ctx, ActionRefresh, meta.IP+":"+owner, s.cfg.RefreshLimitPerMinute); err != nil {
		return nil, err
	}

	rot, err := s.deps.Ledger.Rotate(ctx, raw, meta)
	if err != nil {
		if common.IsRejection(err) {
			return nil, err
		}
		s.logger.Error(ctx, "refresh token rotation failed", "error", err)
		return nil, common.ErrorInternal
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.FindByID(ctx, rot.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		s.logger.Error(ctx, "user lookup failed", "user_id", rot.UserID, "error", err)
		return nil, common.ErrorInternal
	}

	access, err := s.issueAccessToken(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.pair(access, rot.Raw, user), nil
}

// Logout revokes raw. It succeeds whether or not the token exists and
// fails only when the store does.
func (s *CredentialService) Logout(ctx context.Context, raw string) error {
	if err := s.deps.Ledger.Revoke(ctx, raw); err != nil {
		s.logger.Error(ctx, "refresh token revoke failed", "error", err)
		return common.ErrorInternal
	}
	return nil
}

func (s *CredentialService) VerifyAccessToken(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.deps.Verifier.Verify(token)
	if err != nil {
		var ve *auth.VerificationError
		if errors.As(err, &ve) {
			s.logger.Debug(ctx, "access token rejected", "reason", ve.Reason)
		}
		return nil, err
	}
	return claims, nil
}

func (s *CredentialService) allow(ctx context.Context, action, identity string, limit int) error {
	d := s.deps.Limiter.Allow(action, identity, limit)
	if d.Allowed {
		return nil
	}
	s.logger.Warn(ctx, "rate limited", "action", action, "retry_after", d.RetryAfterSeconds)
	return &common.RetryAfterError{Seconds: d.RetryAfterSeconds}
}

func (s *CredentialService) issueAccessToken(ctx context.Context, user *models.User) (string, error) {
	token, err := s.deps.Issuer.Issue(user.ID, user.Username, user.Roles, user.Authorities)
	if err != nil {
		s.logger.Error(ctx, "access token issue failed", "user_id", user.ID, "error", err)
		return "", common.ErrorInternal
	}
	return token, nil
}

func (s *CredentialService) pair(access, refresh string, user *models.User) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    common.TokenTypeBearer,
		ExpiresIn:    s.deps.Issuer.AccessTokenTTLSeconds(),
		Scope:        strings.Join(user.Authorities, " "),
	}
}
