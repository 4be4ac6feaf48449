package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/trackauth/internal/common"
	"github.com/dmitrijs2005/trackauth/internal/cryptox"
	"github.com/google/uuid"
)

// EphemeralKeyBits is the size of the key generated when no pairs are
// configured outside production.
const EphemeralKeyBits = 2048

// Pair locates one configured key pair. PrivateKey may be empty.
type Pair struct {
	ID         string
	PublicKey  string
	PrivateKey string
}

// Config describes where the key set comes from.
type Config struct {
	// ProductionLike makes an empty key set fatal instead of falling back to
	// an ephemeral in-memory key.
	ProductionLike bool
	CurrentKeyID   string
	Pairs          []Pair
}

var (
	generateKey = cryptox.GenerateRSAKey
	newKeyID    = uuid.NewString
)

// Load resolves every configured pair through f and selects the current key.
//
// The current key is CurrentKeyID when it names a loaded key, otherwise the
// last key in load order that can sign.
func Load(ctx context.Context, cfg Config, f Fetcher) (*KeySet, error) {
	set := &KeySet{Keys: make([]SigningKey, 0, len(cfg.Pairs))}
	seen := make(map[string]struct{}, len(cfg.Pairs))

	for i, p := range cfg.Pairs {
		k, err := loadPair(ctx, p, f)
		if err != nil {
			return nil, fmt.Errorf("key pair %d: %w", i, err)
		}
		if _, dup := seen[k.ID]; dup {
			return nil, fmt.Errorf("key pair %d: duplicate key id %q", i, k.ID)
		}
		seen[k.ID] = struct{}{}
		set.Keys = append(set.Keys, k)
	}

	if len(set.Keys) == 0 {
		if cfg.ProductionLike {
			return nil, common.ErrNoSigningKeys
		}
		k, err := ephemeralKey()
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, k)
	}

	current, err := selectCurrent(set.Keys, cfg.CurrentKeyID)
	if err != nil {
		return nil, err
	}
	set.CurrentKeyID = current
	return set, nil
}

func loadPair(ctx context.Context, p Pair, f Fetcher) (SigningKey, error) {
	if p.PublicKey == "" {
		return SigningKey{}, errors.New("public key location is empty")
	}

	pubPEM, err := f.Fetch(ctx, p.PublicKey)
	if err != nil {
		return SigningKey{}, fmt.Errorf("fetch public key: %w", err)
	}
	pub, err := cryptox.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return SigningKey{}, fmt.Errorf("parse public key: %w", err)
	}

	k := SigningKey{ID: p.ID, Algorithm: AlgorithmRS256, Public: pub}
	if k.ID == "" {
		k.ID = newKeyID()
	}

	if p.PrivateKey != "" {
		privPEM, err := f.Fetch(ctx, p.PrivateKey)
		if err != nil {
			return SigningKey{}, fmt.Errorf("fetch private key: %w", err)
		}
		priv, err := cryptox.ParsePrivateKeyPEM(privPEM)
		if err != nil {
			return SigningKey{}, fmt.Errorf("parse private key: %w", err)
		}
		if !priv.PublicKey.Equal(pub) {
			return SigningKey{}, errors.New("private key does not match public key")
		}
		k.Private = priv
	}

	return k, nil
}

func ephemeralKey() (SigningKey, error) {
	priv, err := generateKey(EphemeralKeyBits)
	if err != nil {
		return SigningKey{}, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return SigningKey{
		ID:        newKeyID(),
		Algorithm: AlgorithmRS256,
		Public:    &priv.PublicKey,
		Private:   priv,
	}, nil
}

func selectCurrent(keys []SigningKey, want string) (string, error) {
	if want != "" {
		for _, k := range keys {
			if k.ID != want {
				continue
			}
			if !k.CanSign() {
				return "", fmt.Errorf("current key %q has no private key", want)
			}
			return k.ID, nil
		}
	}

	for i := len(keys) - 1; i >= 0; i-- {
		if keys[i].CanSign() {
			return keys[i].ID, nil
		}
	}
	return "", fmt.Errorf("%w: no key has a private key", common.ErrNoSigningKeys)
}
