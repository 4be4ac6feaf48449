package keys

import (
	"encoding/base64"
	"math/big"
)

// JWK is the public half of a signing key in RFC 7517 form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicJWK renders k without any private material.
func PublicJWK(k SigningKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: k.ID,
		Alg: k.Algorithm,
		N:   base64.RawURLEncoding.EncodeToString(k.Public.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.Public.E)).Bytes()),
	}
}

// JWKS returns the public half of every loaded key.
func (s *Store) JWKS() JWKS {
	keys := s.AllVerificationKeys()
	out := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		out.Keys = append(out.Keys, PublicJWK(k))
	}
	return out
}
