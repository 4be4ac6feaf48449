// Package keys holds the access-token signing key set.
//
// A Store keeps an immutable KeySet behind an atomic pointer. Readers take a
// snapshot without locking; Reload builds a complete new set and swaps it in,
// so readers see either the old set or the new one.
package keys

import (
	"crypto/rsa"
	"slices"
)

const AlgorithmRS256 = "RS256"

// SigningKey is one RSA key pair. Private is nil for verification-only keys.
type SigningKey struct {
	ID        string
	Algorithm string
	Public    *rsa.PublicKey
	Private   *rsa.PrivateKey
}

// CanSign reports whether the key carries private material.
func (k SigningKey) CanSign() bool { return k.Private != nil }

// KeySet is an ordered list of keys plus the id used for new signatures.
// A KeySet is never modified after it is built.
type KeySet struct {
	Keys         []SigningKey
	CurrentKeyID string
}

// Current returns the key named by CurrentKeyID.
func (s *KeySet) Current() (SigningKey, bool) {
	return s.ByID(s.CurrentKeyID)
}

// ByID looks a key up by id.
func (s *KeySet) ByID(id string) (SigningKey, bool) {
	i := slices.IndexFunc(s.Keys, func(k SigningKey) bool { return k.ID == id })
	if i < 0 {
		return SigningKey{}, false
	}
	return s.Keys[i], true
}
