// Package config handles configuration for the trackauth server:
// built-in defaults, an optional .env file, a config file, environment
// variables and command-line flags, applied in that order.
package config

import (
	"strings"
	"time"
)

// Config holds runtime settings for the server.
type Config struct {
	// Environment selects production-like behaviour, see IsProductionLike.
	Environment string `mapstructure:"environment" validate:"required,oneof=development dev local test staging prod production"`

	HTTPAddr string `mapstructure:"http_addr" validate:"required"`
	// GRPCAddr may be empty to disable the gRPC listener.
	GRPCAddr string `mapstructure:"grpc_addr"`

	// DatabaseDSN is a PostgreSQL DSN (pgx). Empty selects in-memory stores.
	DatabaseDSN string `mapstructure:"database_dsn"`

	Auth     AuthConfig `mapstructure:"auth"`
	Keys     KeysConfig `mapstructure:"keys"`
	S3       S3Config   `mapstructure:"s3"`
	Log      LogConfig  `mapstructure:"log"`
	DevUsers []DevUser  `mapstructure:"dev_users" validate:"dive"`
}

type AuthConfig struct {
	Issuer    string   `mapstructure:"issuer" validate:"required"`
	Audiences []string `mapstructure:"audiences" validate:"min=1,dive,required"`

	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl" validate:"gt=0"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" validate:"gtfield=AccessTokenTTL"`
	ClockSkew       time.Duration `mapstructure:"clock_skew" validate:"gte=0"`

	LoginLimitPerMinute   int `mapstructure:"login_limit_per_minute" validate:"gte=1"`
	RefreshLimitPerMinute int `mapstructure:"refresh_limit_per_minute" validate:"gte=1"`

	// RevokeChainOnReuse also revokes every active descendant of a rotated
	// token when that token is presented again.
	RevokeChainOnReuse bool `mapstructure:"revoke_chain_on_reuse"`
}

// KeysConfig lists signing key pairs. Each location is a file path, an
// inline PEM block or an s3://bucket/key URL.
type KeysConfig struct {
	CurrentKeyID string    `mapstructure:"current_key_id"`
	Pairs        []KeyPair `mapstructure:"pairs" validate:"dive"`
}

type KeyPair struct {
	ID        string `mapstructure:"id"`
	PublicKey string `mapstructure:"public_key" validate:"required"`
	// PrivateKey may be empty for verification-only keys.
	PrivateKey string `mapstructure:"private_key"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type LogConfig struct {
	Level        string        `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format       string        `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File         string        `mapstructure:"file"`
	RotationTime time.Duration `mapstructure:"rotation_time" validate:"gte=0"`
	MaxAge       time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

// DevUser is seeded into the in-memory user store outside production.
type DevUser struct {
	Username    string   `mapstructure:"username" validate:"required"`
	Password    string   `mapstructure:"password" validate:"required"`
	Roles       []string `mapstructure:"roles"`
	Authorities []string `mapstructure:"authorities"`
}

// IsProductionLike reports whether missing keys must be fatal and
// development conveniences disabled.
func (c *Config) IsProductionLike() bool {
	return IsProductionLike(c.Environment)
}

// IsProductionLike reports whether env names a production-like environment.
func IsProductionLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production", "staging":
		return true
	default:
		return false
	}
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Environment: "development",
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		Auth: AuthConfig{
			Issuer:                "trackauth",
			Audiences:             []string{"trackauth-api"},
			AccessTokenTTL:        15 * time.Minute,
			RefreshTokenTTL:       14 * 24 * time.Hour,
			ClockSkew:             60 * time.Second,
			LoginLimitPerMinute:   5,
			RefreshLimitPerMinute: 10,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			RotationTime: 24 * time.Hour,
			MaxAge:       7 * 24 * time.Hour,
		},
	}
}
