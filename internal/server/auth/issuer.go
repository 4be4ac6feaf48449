package auth

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/server/keys"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningKeySource provides the key for new signatures.
type SigningKeySource interface {
	CurrentSigningKey() (keys.SigningKey, error)
}

type IssuerConfig struct {
	Issuer    string
	Audiences []string
	TTL       time.Duration
	Now       func() time.Time
}

// Issuer mints access tokens. It holds no per-token state.
type Issuer struct {
	keys  SigningKeySource
	cfg   IssuerConfig
	newID func() string
}

func NewIssuer(src SigningKeySource, cfg IssuerConfig) *Issuer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{keys: src, cfg: cfg, newID: uuid.NewString}
}

// Issue signs a token for the subject with the current key and records the
// key id in the "kid" header.
func (i *Issuer) Issue(subjectID, username string, roles, authorities []string) (string, error) {
	key, err := i.keys.CurrentSigningKey()
	if err != nil {
		return "", fmt.Errorf("signing key: %w", err)
	}
	if !key.CanSign() {
		return "", fmt.Errorf("key %q cannot sign", key.ID)
	}

	now := i.cfg.Now().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   subjectID,
			Audience:  jwt.ClaimStrings(i.cfg.Audiences),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
			ID:        i.newID(),
		},
		Username:    username,
		Roles:       roles,
		Authorities: authorities,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.ID

	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// AccessTokenTTLSeconds is reported to clients as expires_in.
func (i *Issuer) AccessTokenTTLSeconds() int64 {
	return int64(i.cfg.TTL / time.Second)
}
