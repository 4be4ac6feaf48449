// Package ledger tracks issued refresh tokens and drives their rotation
// state machine: Active → Rotated (exchanged) or Revoked (logout). An
// expired token is never transitioned; it simply ages out.
//
// Presenting a Rotated or Revoked token is treated as reuse of a stolen
// copy and logged as a security event.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/cryptox"
	"github.com/dmitrijs2005/trackauth/internal/logging"
	"github.com/dmitrijs2005/trackauth/internal/server/models"
	"github.com/dmitrijs2005/trackauth/internal/server/repositories/refreshtokens"
	"github.com/google/uuid"
)

const (
	EventReuse   = "refresh_token_reuse"
	EventExpired = "refresh_token_expired"
)

type Config struct {
	TTL time.Duration
	// RevokeChainOnReuse also revokes every descendant of a rotated token
	// once that token is presented again.
	RevokeChainOnReuse bool
	Now                func() time.Time
}

// Rotation is the result of a successful exchange.
type Rotation struct {
	Raw     string
	UserID  string
	TokenID string
}

type Ledger struct {
	repo   refreshtokens.Repository
	cfg    Config
	logger logging.Logger
}

var newRawToken = cryptox.NewOpaqueToken

func New(repo refreshtokens.Repository, cfg Config, logger logging.Logger) *Ledger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Ledger{repo: repo, cfg: cfg, logger: logger}
}

func (l *Ledger) now() time.Time {
	return l.cfg.Now().UTC()
}

// Issue creates a new Active token for userID and returns its raw value.
// Only the hash is stored.
func (l *Ledger) Issue(ctx context.Context, userID string, meta models.ClientMeta) (string, error) {
	t, raw, err := l.newToken(userID, meta, l.now())
	if err != nil {
		return "", err
	}
	if err := l.repo.Create(ctx, t); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return raw, nil
}

func (l *Ledger) newToken(userID string, meta models.ClientMeta, now time.Time) (*models.RefreshToken, string, error) {
	raw, err := newRawToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate refresh token: %w", err)
	}
	return &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: cryptox.HashToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(l.cfg.TTL),
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
	}, raw, nil
}

// Rotate exchanges raw for a fresh token bound to the same user.
//
// Unknown tokens yield ErrInvalidToken, expired ones ErrTokenExpired and
// already rotated or revoked ones ErrTokenRevoked. Of several concurrent
// rotations of one token exactly one succeeds.
func (l *Ledger) Rotate(ctx context.Context, raw string, meta models.ClientMeta) (*Rotation, error) {
	old, err := l.find(ctx, raw)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if err := l.reject(ctx, old, now); err != nil {
		return nil, err
	}

	successor, nextRaw, err := l.newToken(old.UserID, meta, now)
	if err != nil {
		return nil, err
	}

	ok, err := l.repo.Rotate(ctx, old.ID, successor, now)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !ok {
		return nil, l.lostRotation(ctx, old.ID, now)
	}

	return &Rotation{Raw: nextRaw, UserID: old.UserID, TokenID: successor.ID}, nil
}

// reject returns the rejection for a token that is not Active at now, and
// nil when it is.
func (l *Ledger) reject(ctx context.Context, t *models.RefreshToken, now time.Time) error {
	switch state := t.State(now); state {
	case models.StateActive:
		return nil
	case models.StateExpired:
		l.logger.Info(ctx, "refresh token expired",
			"event", EventExpired, "token_id", t.ID, "user_id", t.UserID)
		return common.ErrTokenExpired
	default:
		kind := "logout"
		if state == models.StateRotated {
			kind = "rotated"
		}
		l.logger.Warn(ctx, "refresh token reuse detected",
			"event", EventReuse, "token_id", t.ID, "user_id", t.UserID, "revocation_kind", kind)

		if state == models.StateRotated && l.cfg.RevokeChainOnReuse {
			l.revokeChain(ctx, t, now)
		}
		return common.ErrTokenRevoked
	}
}

// lostRotation classifies a token whose conditional update matched no
// row. A concurrent exchange is reported as reuse but never cascades, since
// the winner may be the legitimate client.
func (l *Ledger) lostRotation(ctx context.Context, id string, now time.Time) error {
	current, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("reload refresh token: %w", err)
	}
	if current.State(now) == models.StateExpired {
		return common.ErrTokenExpired
	}
	l.logger.Warn(ctx, "refresh token reuse detected",
		"event", EventReuse, "token_id", current.ID, "user_id", current.UserID, "revocation_kind", "concurrent")
	return common.ErrTokenRevoked
}

func (l *Ledger) revokeChain(ctx context.Context, t *models.RefreshToken, now time.Time) {
	n, err := l.repo.RevokeDescendants(ctx, t.ID, now)
	if err != nil {
		l.logger.Error(ctx, "revoke refresh token chain failed",
			"event", EventReuse, "token_id", t.ID, "user_id", t.UserID, "error", err)
		return
	}
	l.logger.Warn(ctx, "refresh token chain revoked",
		"event", EventReuse, "token_id", t.ID, "user_id", t.UserID, "revoked", n)
}

// Revoke ends an Active token without a successor. Unknown, expired and
// already revoked tokens are ignored.
func (l *Ledger) Revoke(ctx context.Context, raw string) error {
	t, err := l.find(ctx, raw)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			return nil
		}
		return err
	}
	if _, err := l.repo.Revoke(ctx, t.ID, l.now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// FindActiveOwner returns the user owning raw if the token is Active.
func (l *Ledger) FindActiveOwner(ctx context.Context, raw string) (string, bool, error) {
	t, err := l.find(ctx, raw)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			return "", false, nil
		}
		return "", false, err
	}
	if t.State(l.now()) != models.StateActive {
		return "", false, nil
	}
	return t.UserID, true, nil
}

func (l *Ledger) find(ctx context.Context, raw string) (*models.RefreshToken, error) {
	if raw == "" {
		return nil, common.ErrInvalidToken
	}
	t, err := l.repo.FindByHash(ctx, cryptox.HashToken(raw))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return t, nil
}
