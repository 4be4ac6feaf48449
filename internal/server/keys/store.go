package keys

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/trackauth/internal/logging"
)

// Store serves the current key set to issuers and verifiers.
type Store struct {
	fetcher Fetcher
	logger  logging.Logger

	mu  sync.Mutex // serializes reloads
	cfg Config

	set atomic.Pointer[KeySet]
}

// NewStore loads the initial key set. It fails when no usable signing key
// resolves; callers must treat that as fatal.
func NewStore(ctx context.Context, cfg Config, f Fetcher, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{fetcher: f, logger: logger, cfg: cfg}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the key set in effect. The result must not be modified.
func (s *Store) Snapshot() *KeySet {
	return s.set.Load()
}

// CurrentSigningKey returns the key used for new signatures.
func (s *Store) CurrentSigningKey() (SigningKey, error) {
	set := s.set.Load()
	if set == nil {
		return SigningKey{}, errors.New("key store is not loaded")
	}
	k, ok := set.Current()
	if !ok {
		return SigningKey{}, errors.New("current key missing from key set")
	}
	return k, nil
}

// AllVerificationKeys returns every key that may verify a token, in load order.
func (s *Store) AllVerificationKeys() []SigningKey {
	set := s.set.Load()
	if set == nil {
		return nil
	}
	return slices.Clone(set.Keys)
}

// Reload re-reads the configured key locations and swaps the set in.
// On failure the previous set stays in effect.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx, s.cfg)
}

// ReloadWith replaces the key configuration, e.g. to add a key or to flip
// the current key id, and reloads. The configuration is kept only when the
// load succeeds.
func (s *Store) ReloadWith(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(ctx, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

func (s *Store) reloadLocked(ctx context.Context, cfg Config) error {
	set, err := Load(ctx, cfg, s.fetcher)
	if err != nil {
		s.logger.Error(ctx, "key set load failed, keeping previous set", "error", err)
		return err
	}

	if cfg.CurrentKeyID != "" && set.CurrentKeyID != cfg.CurrentKeyID {
		s.logger.Warn(ctx, "configured current key id not found, using last signing key",
			"configured_kid", cfg.CurrentKeyID, "current_kid", set.CurrentKeyID)
	}

	prev := s.set.Swap(set)
	s.logger.Info(ctx, "key set loaded",
		"keys", len(set.Keys),
		"current_kid", set.CurrentKeyID,
		"ephemeral", len(cfg.Pairs) == 0,
		"reload", prev != nil,
	)
	return nil
}

// Healthy reports whether a non-empty key set is loaded.
func (s *Store) Healthy() bool {
	set := s.set.Load()
	return set != nil && len(set.Keys) > 0
}
