// Package passwords hashes and verifies user passwords with bcrypt.
package passwords

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Verifier checks a plaintext password against a stored hash.
type Verifier interface {
	Verify(plaintext, hash string) bool
	// VerifyMissing performs a comparison of the same cost as Verify for a
	// user that does not exist, and always reports false.
	VerifyMissing(plaintext string)
}

type Bcrypt struct {
	cost  int
	dummy func() []byte
}

func NewBcrypt(cost int) *Bcrypt {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b := &Bcrypt{cost: cost}
	b.dummy = sync.OnceValue(func() []byte {
		h, err := bcrypt.GenerateFromPassword([]byte("trackauth-dummy-password"), cost)
		if err != nil {
			panic(fmt.Sprintf("bcrypt dummy hash: %v", err))
		}
		return h
	})
	return b
}

func (b *Bcrypt) Hash(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (b *Bcrypt) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

func (b *Bcrypt) VerifyMissing(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(b.dummy(), []byte(plaintext))
}
