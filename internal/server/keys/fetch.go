package keys

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Fetcher returns the PEM bytes stored at a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, location string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f(ctx, location)
}

const s3Scheme = "s3://"

// Resolver dispatches a location to the right source: an inline PEM block,
// an s3:// object or a local file.
type Resolver struct {
	s3       Fetcher
	readFile func(string) ([]byte, error)
}

// NewResolver returns a Resolver. s3 may be nil when no s3:// locations are
// configured.
func NewResolver(s3 Fetcher) *Resolver {
	return &Resolver{s3: s3, readFile: os.ReadFile}
}

func (r *Resolver) Fetch(ctx context.Context, location string) ([]byte, error) {
	trimmed := strings.TrimSpace(location)
	switch {
	case strings.HasPrefix(trimmed, "-----BEGIN"):
		return []byte(trimmed), nil
	case strings.HasPrefix(trimmed, s3Scheme):
		if r.s3 == nil {
			return nil, errors.New("s3 location configured but no s3 client available")
		}
		return r.s3.Fetch(ctx, trimmed)
	default:
		return r.readFile(trimmed)
	}
}

// NeedsS3 reports whether any location in cfg points at object storage.
func NeedsS3(cfg Config) bool {
	for _, p := range cfg.Pairs {
		if strings.HasPrefix(strings.TrimSpace(p.PublicKey), s3Scheme) ||
			strings.HasPrefix(strings.TrimSpace(p.PrivateKey), s3Scheme) {
			return true
		}
	}
	return false
}
