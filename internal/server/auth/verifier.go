package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/server/keys"
	"github.com/golang-jwt/jwt/v5"
)

// Rejection reasons carried by VerificationError.
const (
	ReasonMalformed        = "malformed"
	ReasonInvalidSignature = "invalid_signature"
	ReasonInvalidIssuer    = "invalid_issuer"
	ReasonInvalidAudience  = "invalid_audience"
	ReasonExpired          = "token_expired"
	ReasonNotYetValid      = "token_not_yet_valid"
)

// VerificationError reports why a token was rejected. It unwraps to
// common.ErrTokenExpired for expiry and common.ErrInvalidToken otherwise.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "access token rejected: " + e.Reason
}

func (e *VerificationError) Unwrap() error {
	if e.Reason == ReasonExpired {
		return common.ErrTokenExpired
	}
	return common.ErrInvalidToken
}

func reject(reason string) error { return &VerificationError{Reason: reason} }

// VerificationKeySource lists every key that may have signed a live token.
type VerificationKeySource interface {
	AllVerificationKeys() []keys.SigningKey
}

type VerifierConfig struct {
	Issuer    string
	Audiences []string
	ClockSkew time.Duration
	Now       func() time.Time
}

// Verifier checks signature, issuer, audience and timestamps, in that order.
type Verifier struct {
	keys      VerificationKeySource
	cfg       VerifierConfig
	audiences map[string]struct{}
	parser    *jwt.Parser
}

func NewVerifier(src VerificationKeySource, cfg VerifierConfig) *Verifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	aud := make(map[string]struct{}, len(cfg.Audiences))
	for _, a := range cfg.Audiences {
		aud[a] = struct{}{}
	}
	return &Verifier{
		keys:      src,
		cfg:       cfg,
		audiences: aud,
		// Claims are checked by validate so the skew and the order of
		// rejections stay under our control.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify returns the claims of a valid token or a *VerificationError.
//
// Keys are tried in order until one verifies the signature. The key named
// by the "kid" header goes first, but the header is only a hint: the key
// set decides.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	header, err := v.peekKeyID(tokenString)
	if err != nil {
		return nil, err
	}

	candidates := v.keys.AllVerificationKeys()
	if i := slices.IndexFunc(candidates, func(k keys.SigningKey) bool { return k.ID == header }); i > 0 {
		rest := slices.Delete(slices.Clone(candidates), i, i+1)
		candidates = append([]keys.SigningKey{candidates[i]}, rest...)
	}

	for _, k := range candidates {
		claims := &Claims{}
		_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return k.Public, nil
		})
		if err == nil {
			if err := v.validate(claims); err != nil {
				return nil, err
			}
			return claims, nil
		}
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, reject(ReasonMalformed)
		}
	}

	return nil, reject(ReasonInvalidSignature)
}

// peekKeyID reads the unverified kid header. Only structural errors fail.
func (v *Verifier) peekKeyID(tokenString string) (string, error) {
	tok, _, err := v.parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return "", reject(ReasonMalformed)
	}
	kid, _ := tok.Header["kid"].(string)
	return kid, nil
}

func (v *Verifier) validate(c *Claims) error {
	if c.Issuer != v.cfg.Issuer {
		return reject(ReasonInvalidIssuer)
	}

	if !slices.ContainsFunc(c.Audience, func(a string) bool {
		_, ok := v.audiences[a]
		return ok
	}) {
		return reject(ReasonInvalidAudience)
	}

	if c.ExpiresAt == nil || c.IssuedAt == nil {
		return reject(ReasonMalformed)
	}

	now := v.cfg.Now()
	skew := v.cfg.ClockSkew

	if now.After(c.ExpiresAt.Add(skew)) {
		return reject(ReasonExpired)
	}
	if c.IssuedAt.After(now.Add(skew)) {
		return reject(ReasonNotYetValid)
	}
	if c.NotBefore != nil && c.NotBefore.After(now.Add(skew)) {
		return reject(ReasonNotYetValid)
	}
	return nil
}
