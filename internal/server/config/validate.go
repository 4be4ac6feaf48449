package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.IsProductionLike() && c.DatabaseDSN == "" {
		return fmt.Errorf("%w: database_dsn is required in %s", ErrInvalidConfig, c.Environment)
	}

	seen := make(map[string]struct{}, len(c.Keys.Pairs))
	for i, p := range c.Keys.Pairs {
		if p.ID == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: keys.pairs[%d]: duplicate id %q", ErrInvalidConfig, i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	return nil
}
